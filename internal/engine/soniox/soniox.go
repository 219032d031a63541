// Package soniox provides a Soniox-backed engine using the Soniox real-time
// WebSocket API. It implements the engine.Engine interface.
package soniox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/lingolive/lingolive/internal/engine"
	"github.com/lingolive/lingolive/pkg/types"
)

const (
	sonioxEndpoint    = "wss://stt-rt.soniox.com/transcribe-websocket"
	sonioxAPIHost     = "https://api.soniox.com"
	defaultModel      = "stt-rt-preview"
	defaultSampleRate = 16000

	// tempKeyTTL bounds how long a handed-out browser key stays valid.
	tempKeyTTL = 300 * time.Second
)

// Option is a functional option for configuring the Soniox Provider.
type Option func(*Provider)

// WithModel sets the Soniox real-time model to use.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithEndpoint overrides the streaming WebSocket endpoint. Useful for tests
// and proxies.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithAPIHost overrides the REST API host used for temporary key issuance.
func WithAPIHost(host string) Option {
	return func(p *Provider) {
		p.apiHost = host
	}
}

// WithHTTPClient sets the HTTP client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements engine.Engine backed by the Soniox real-time API.
type Provider struct {
	apiKey     string
	model      string
	endpoint   string
	apiHost    string
	httpClient *http.Client
}

var _ engine.Engine = (*Provider)(nil)

// New creates a new Soniox Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("soniox: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		endpoint:   sonioxEndpoint,
		apiHost:    sonioxAPIHost,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// TemporaryKey issues a short-lived API key scoped to WebSocket transcription.
// The long-lived key never leaves the server; browser clients that connect to
// Soniox directly authenticate with the temporary one.
func (p *Provider) TemporaryKey(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]any{
		"usage_type":         "transcribe_websocket",
		"expires_in_seconds": int(tempKeyTTL.Seconds()),
	})
	if err != nil {
		return "", fmt.Errorf("soniox: marshal key request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.apiHost+"/v1/auth/temporary-api-key", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("soniox: build key request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("soniox: request temporary key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("soniox: temporary key request returned %s", resp.Status)
	}

	var out struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("soniox: decode key response: %w", err)
	}
	if out.APIKey == "" {
		return "", errors.New("soniox: temporary key response missing api_key")
	}
	return out.APIKey, nil
}

// StartStream opens a streaming transcription session with Soniox.
func (p *Provider) StartStream(ctx context.Context, cfg engine.StreamConfig) (engine.StreamHandle, error) {
	conn, _, err := websocket.Dial(ctx, p.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("soniox: dial: %w", err)
	}

	startMsg, err := json.Marshal(p.startMessage(cfg))
	if err != nil {
		conn.Close(websocket.StatusInternalError, "config marshal failed")
		return nil, fmt.Errorf("soniox: marshal config: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, startMsg); err != nil {
		conn.Close(websocket.StatusInternalError, "config write failed")
		return nil, fmt.Errorf("soniox: send config: %w", err)
	}

	st := &stream{
		conn:   conn,
		tokens: make(chan []types.Token, 64),
		audio:  make(chan []byte, 256),
		done:   make(chan struct{}),
	}
	st.wg.Add(2)
	go st.readLoop(ctx)
	go st.writeLoop(ctx)

	return st, nil
}

// ── wire format ──────────────────────────────────────────────────────────────

// startMessage is the first frame on a Soniox stream. Everything after it is
// binary audio.
type startMessage struct {
	APIKey                       string             `json:"api_key"`
	Model                        string             `json:"model"`
	AudioFormat                  string             `json:"audio_format"`
	SampleRate                   int                `json:"sample_rate,omitempty"`
	NumChannels                  int                `json:"num_channels,omitempty"`
	LanguageHints                []string           `json:"language_hints,omitempty"`
	EnableLanguageIdentification bool               `json:"enable_language_identification"`
	Context                      *contextPayload    `json:"context,omitempty"`
	Translation                  *translationConfig `json:"translation,omitempty"`
}

type contextPayload struct {
	Terms            []string                `json:"terms,omitempty"`
	General          []types.GeneralPair     `json:"general,omitempty"`
	Text             string                  `json:"text,omitempty"`
	TranslationTerms []types.TranslationTerm `json:"translation_terms,omitempty"`
}

type translationConfig struct {
	Type           string `json:"type"`
	TargetLanguage string `json:"target_language,omitempty"`
	LanguageA      string `json:"language_a,omitempty"`
	LanguageB      string `json:"language_b,omitempty"`
}

func (p *Provider) startMessage(cfg engine.StreamConfig) startMessage {
	msg := startMessage{
		APIKey:                       p.apiKey,
		Model:                        p.model,
		AudioFormat:                  "pcm_s16le",
		SampleRate:                   cfg.SampleRate,
		NumChannels:                  cfg.Channels,
		LanguageHints:                cfg.LanguageHints,
		EnableLanguageIdentification: true,
	}
	if msg.SampleRate == 0 {
		msg.SampleRate = defaultSampleRate
	}
	if msg.NumChannels == 0 {
		msg.NumChannels = 1
	}
	if !cfg.Context.IsEmpty() {
		msg.Context = &contextPayload{
			Terms:            cfg.Context.Terms,
			General:          cfg.Context.General,
			Text:             cfg.Context.Text,
			TranslationTerms: cfg.Context.TranslationTerms,
		}
	}
	switch cfg.Translation.Mode {
	case types.ModeOneWay:
		msg.Translation = &translationConfig{
			Type:           "one_way",
			TargetLanguage: cfg.Translation.TargetLanguage,
		}
	case types.ModeTwoWay:
		msg.Translation = &translationConfig{
			Type:      "two_way",
			LanguageA: cfg.Translation.LanguageA,
			LanguageB: cfg.Translation.LanguageB,
		}
	}
	return msg
}

// sonioxResponse is the JSON structure Soniox sends for each result frame.
type sonioxResponse struct {
	Tokens []struct {
		Text              string  `json:"text"`
		StartMs           int     `json:"start_ms"`
		EndMs             int     `json:"end_ms"`
		Confidence        float64 `json:"confidence"`
		IsFinal           bool    `json:"is_final"`
		Language          string  `json:"language"`
		TranslationStatus string  `json:"translation_status"`
	} `json:"tokens"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Finished     bool   `json:"finished"`
}

// parseResponse converts a raw Soniox frame into a token batch. The second
// return is false when the frame carries nothing for the caller (keepalives,
// empty frames). A protocol error comes back as err with an empty batch.
func parseResponse(data []byte) ([]types.Token, bool, error) {
	var resp sonioxResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false, fmt.Errorf("soniox: malformed frame: %w", err)
	}
	if resp.ErrorCode != 0 || resp.ErrorMessage != "" {
		return nil, false, fmt.Errorf("soniox: engine error %d: %s", resp.ErrorCode, resp.ErrorMessage)
	}
	if len(resp.Tokens) == 0 {
		return nil, false, nil
	}

	batch := make([]types.Token, 0, len(resp.Tokens))
	for _, t := range resp.Tokens {
		// The wire status is passed through as-is. Downstream treats every
		// value other than "translation" as original-language text, which
		// keeps new engine-side statuses from dropping tokens.
		batch = append(batch, types.Token{
			Text:     t.Text,
			IsFinal:  t.IsFinal,
			Status:   types.TokenStatus(t.TranslationStatus),
			Language: t.Language,
		})
	}
	return batch, true, nil
}

// ── stream ───────────────────────────────────────────────────────────────────

// stream is a live Soniox streaming session. It implements
// engine.StreamHandle.
type stream struct {
	conn   *websocket.Conn
	tokens chan []types.Token
	audio  chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// SendAudio queues a PCM chunk for delivery to Soniox.
func (s *stream) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("soniox: stream is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("soniox: stream is closed")
	}
}

// Tokens returns the channel of token batches.
func (s *stream) Tokens() <-chan []types.Token { return s.tokens }

// Err reports the stream failure, if any.
func (s *stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *stream) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// Close terminates the stream cleanly. An empty text frame tells Soniox the
// audio is complete so it can flush buffered tokens.
func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(""))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "stream closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary frames.
func (s *stream) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Flush whatever is still queued before exiting.
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives result frames and forwards token batches untouched.
func (s *stream) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.tokens)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				// Close in progress, a read error here is the normal
				// connection teardown.
			default:
				s.setErr(fmt.Errorf("soniox: read: %w", err))
			}
			return
		}

		batch, ok, err := parseResponse(msg)
		if err != nil {
			s.setErr(err)
			return
		}
		if !ok {
			continue
		}

		select {
		case s.tokens <- batch:
		case <-s.done:
			return
		}
	}
}
