package session_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/lingolive/lingolive/internal/contextset"
	"github.com/lingolive/lingolive/internal/engine/mock"
	"github.com/lingolive/lingolive/internal/observe"
	"github.com/lingolive/lingolive/internal/realtime"
	"github.com/lingolive/lingolive/internal/session"
	"github.com/lingolive/lingolive/internal/store"
	"github.com/lingolive/lingolive/pkg/types"
)

func newManager(t *testing.T, eng *mock.Engine) (*session.Manager, *store.MemStore, *realtime.Hub) {
	t.Helper()
	st := store.NewMemStore()
	hub := realtime.NewHub(realtime.NewMemoryBroker())
	return session.NewManager(st, hub, eng, nil, nil), st, hub
}

func oneWay(target string) types.TranslationConfig {
	return types.TranslationConfig{Mode: types.ModeOneWay, TargetLanguage: target}
}

func TestCreateAssignsCodeAndHost(t *testing.T) {
	m, st, _ := newManager(t, &mock.Engine{})
	ctx := context.Background()

	sess, host, err := m.Create(ctx, session.CreateParams{
		HostName:    "Alice",
		Translation: oneWay("en"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(sess.Code) != 6 {
		t.Fatalf("code %q should be 6 characters", sess.Code)
	}
	if strings.ContainsAny(sess.Code, "0O1IL") {
		t.Fatalf("code %q contains ambiguous characters", sess.Code)
	}
	if !host.IsHost {
		t.Fatal("creator must be registered as host")
	}

	active, err := st.ActiveParticipants(ctx, sess.ID)
	if err != nil || len(active) != 1 {
		t.Fatalf("active participants = %d (%v), want 1", len(active), err)
	}
}

func TestCreateRejectsInvalidMode(t *testing.T) {
	m, _, _ := newManager(t, &mock.Engine{})

	_, _, err := m.Create(context.Background(), session.CreateParams{
		HostName:    "Alice",
		Translation: types.TranslationConfig{Mode: "broadcast"},
	})
	if err == nil {
		t.Fatal("invalid translation mode must be rejected")
	}
}

func TestJoinIsCaseInsensitive(t *testing.T) {
	m, _, _ := newManager(t, &mock.Engine{})
	ctx := context.Background()

	sess, _, err := m.Create(ctx, session.CreateParams{HostName: "Alice", Translation: oneWay("en")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	joined, p, err := m.Join(ctx, strings.ToLower(sess.Code), "Bob", "de")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined.ID != sess.ID {
		t.Fatal("joined the wrong session")
	}
	if p.PreferredLanguage != "de" {
		t.Fatalf("preferred language = %q, want de", p.PreferredLanguage)
	}
}

func TestJoinTwoWayLanguagePair(t *testing.T) {
	m, _, _ := newManager(t, &mock.Engine{})
	ctx := context.Background()

	sess, _, _ := m.Create(ctx, session.CreateParams{
		HostName: "Alice",
		Translation: types.TranslationConfig{
			Mode:      types.ModeTwoWay,
			LanguageA: "en",
			LanguageB: "de",
		},
	})

	if _, _, err := m.Join(ctx, sess.Code, "Bob", "fr"); !errors.Is(err, session.ErrLanguageMismatch) {
		t.Fatalf("got %v, want ErrLanguageMismatch", err)
	}
	if _, _, err := m.Join(ctx, sess.Code, "Bob", "de"); err != nil {
		t.Fatalf("in-pair join: %v", err)
	}
	// No preference is always acceptable; the engine detects the language.
	if _, _, err := m.Join(ctx, sess.Code, "Carol", ""); err != nil {
		t.Fatalf("no-preference join: %v", err)
	}
}

func TestJoinEndedSession(t *testing.T) {
	m, _, _ := newManager(t, &mock.Engine{})
	ctx := context.Background()

	sess, _, _ := m.Create(ctx, session.CreateParams{HostName: "Alice", Translation: oneWay("en")})
	if err := m.End(ctx, sess.ID); err != nil {
		t.Fatalf("end: %v", err)
	}

	_, _, err := m.Join(ctx, sess.Code, "Bob", "")
	if !errors.Is(err, session.ErrSessionEnded) {
		t.Fatalf("got %v, want ErrSessionEnded", err)
	}
}

func TestRecordingPipeline(t *testing.T) {
	stream := &mock.Stream{TokensCh: make(chan []types.Token, 8)}
	eng := &mock.Engine{Stream: stream}
	m, st, hub := newManager(t, eng)
	ctx := context.Background()

	sess, host, _ := m.Create(ctx, session.CreateParams{HostName: "Alice", Translation: oneWay("en")})

	sub, err := hub.Subscribe(ctx, sess.ID, "listener")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	rec, err := m.StartRecording(ctx, sess.ID, host.ID, session.StreamOptions{})
	if err != nil {
		t.Fatalf("start recording: %v", err)
	}

	// One preview frame, then a finalized utterance in the speaker's own
	// target language (no translation expected).
	stream.TokensCh <- []types.Token{
		{Text: "Hel", Status: types.StatusTranscription, Language: "en"},
	}
	stream.TokensCh <- []types.Token{
		{Text: "Hello.", IsFinal: true, Status: types.StatusTranscription, Language: "en"},
	}
	_ = stream.Close()
	<-rec.Done()

	var sawPreview, sawTranscript bool
	deadline := time.After(2 * time.Second)
	for !(sawPreview && sawTranscript) {
		select {
		case ev := <-sub.Events():
			switch ev.Type {
			case realtime.EventPreview:
				if ev.Preview.Text == "Hel" {
					sawPreview = true
				}
			case realtime.EventTranscript:
				if ev.Transcript.OriginalText == "Hello." {
					sawTranscript = true
				}
			}
		case <-deadline:
			t.Fatalf("timed out: preview=%v transcript=%v", sawPreview, sawTranscript)
		}
	}

	list, err := st.ListFinal(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].OriginalText != "Hello." || list[0].Sequence != 1 {
		t.Fatalf("stored transcript wrong: %+v", list)
	}
	if list[0].ParticipantName != "Alice" {
		t.Fatalf("participant name = %q, want Alice", list[0].ParticipantName)
	}
}

func TestStartRecordingSendsMergedContext(t *testing.T) {
	eng := &mock.Engine{}
	m, st, _ := newManager(t, eng)
	ctx := context.Background()

	sess, host, _ := m.Create(ctx, session.CreateParams{HostName: "Alice", Translation: oneWay("en")})

	set := &contextset.Set{
		Name:  "Vocabulary",
		Terms: []contextset.Term{{Term: "kubelet"}},
	}
	if err := st.CreateContextSet(ctx, set); err != nil {
		t.Fatalf("create set: %v", err)
	}
	if err := st.AttachContextSet(ctx, &contextset.Attachment{SessionID: sess.ID, ContextSetID: set.ID}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	rec, err := m.StartRecording(ctx, sess.ID, host.ID, session.StreamOptions{SampleRate: 16000})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer rec.Stop()

	if got := len(eng.StartStreamCalls); got != 1 {
		t.Fatalf("engine dialed %d times, want 1", got)
	}
	cfg := eng.StartStreamCalls[0].Cfg
	if len(cfg.Context.Terms) != 1 || cfg.Context.Terms[0] != "kubelet" {
		t.Fatalf("merged context not forwarded: %+v", cfg.Context)
	}
	if cfg.Translation.Mode != types.ModeOneWay {
		t.Fatalf("translation config not forwarded: %+v", cfg.Translation)
	}
}

func TestStartRecordingEndedSession(t *testing.T) {
	m, _, _ := newManager(t, &mock.Engine{})
	ctx := context.Background()

	sess, host, _ := m.Create(ctx, session.CreateParams{HostName: "Alice", Translation: oneWay("en")})
	_ = m.End(ctx, sess.ID)

	_, err := m.StartRecording(ctx, sess.ID, host.ID, session.StreamOptions{})
	if !errors.Is(err, session.ErrSessionEnded) {
		t.Fatalf("got %v, want ErrSessionEnded", err)
	}
}

func TestEndStopsRecordings(t *testing.T) {
	stream := &mock.Stream{TokensCh: make(chan []types.Token)}
	eng := &mock.Engine{Stream: stream}
	m, _, _ := newManager(t, eng)
	ctx := context.Background()

	sess, host, _ := m.Create(ctx, session.CreateParams{HostName: "Alice", Translation: oneWay("en")})
	rec, err := m.StartRecording(ctx, sess.ID, host.ID, session.StreamOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// End closes the handle, which ends the token stream and unblocks the
	// pipeline.
	if err := m.End(ctx, sess.ID); err != nil {
		t.Fatalf("end: %v", err)
	}

	select {
	case <-rec.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not terminate on session end")
	}
	if stream.CloseCallCount == 0 {
		t.Fatal("engine stream was not closed")
	}
	if m.Recording(host.ID) != nil {
		t.Fatal("finished recording still registered")
	}
}

func TestLeaveStopsRecordingAndMarksLeft(t *testing.T) {
	stream := &mock.Stream{TokensCh: make(chan []types.Token)}
	eng := &mock.Engine{Stream: stream}
	m, st, _ := newManager(t, eng)
	ctx := context.Background()

	sess, _, _ := m.Create(ctx, session.CreateParams{HostName: "Alice", Translation: oneWay("en")})
	_, bob, err := m.Join(ctx, sess.Code, "Bob", "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := m.StartRecording(ctx, sess.ID, bob.ID, session.StreamOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.Leave(ctx, bob.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}

	p, err := st.ParticipantByID(ctx, bob.ID)
	if err != nil {
		t.Fatalf("get participant: %v", err)
	}
	if p.IsActive() {
		t.Fatal("participant should be marked left")
	}
}

// flakyStore fails Append with a fixed error for the first n calls, then
// delegates to the wrapped store.
type flakyStore struct {
	store.Store
	err error
	n   int
}

func (s *flakyStore) Append(ctx context.Context, req store.AppendRequest) (*types.Transcript, error) {
	if s.n > 0 {
		s.n--
		return nil, s.err
	}
	return s.Store.Append(ctx, req)
}

func TestAppendFailureKeepsPipelineAlive(t *testing.T) {
	stream := &mock.Stream{TokensCh: make(chan []types.Token, 8)}
	eng := &mock.Engine{Stream: stream}
	st := &flakyStore{Store: store.NewMemStore(), err: errors.New("write timeout"), n: 1}
	hub := realtime.NewHub(realtime.NewMemoryBroker())
	m := session.NewManager(st, hub, eng, nil, nil)
	ctx := context.Background()

	sess, host, _ := m.Create(ctx, session.CreateParams{HostName: "Alice", Translation: oneWay("en")})
	sub, err := hub.Subscribe(ctx, sess.ID, "listener")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	rec, err := m.StartRecording(ctx, sess.ID, host.ID, session.StreamOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// The first utterance hits the failing write and is lost; the stream
	// keeps running and the second one lands.
	stream.TokensCh <- []types.Token{
		{Text: "First.", IsFinal: true, Status: types.StatusTranscription, Language: "en"},
	}
	stream.TokensCh <- []types.Token{
		{Text: "Second.", IsFinal: true, Status: types.StatusTranscription, Language: "en"},
	}
	_ = stream.Close()
	<-rec.Done()

	if err := rec.Err(); err != nil {
		t.Fatalf("pipeline must survive a failed append, got error %v", err)
	}

	list, err := st.ListFinal(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].OriginalText != "Second." {
		t.Fatalf("stored transcripts = %+v, want only the second utterance", list)
	}

	// Only the persisted row is broadcast.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Type == realtime.EventTranscript {
				if ev.Transcript.OriginalText != "Second." {
					t.Fatalf("broadcast %q, want Second.", ev.Transcript.OriginalText)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for transcript broadcast")
		}
	}
}

func TestAppendAfterSessionEndIsDropped(t *testing.T) {
	stream := &mock.Stream{TokensCh: make(chan []types.Token, 8)}
	eng := &mock.Engine{Stream: stream}
	st := &flakyStore{Store: store.NewMemStore(), err: store.ErrSessionEnded, n: 1}
	hub := realtime.NewHub(realtime.NewMemoryBroker())
	m := session.NewManager(st, hub, eng, nil, nil)
	ctx := context.Background()

	sess, host, _ := m.Create(ctx, session.CreateParams{HostName: "Alice", Translation: oneWay("en")})
	sub, err := hub.Subscribe(ctx, sess.ID, "listener")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	rec, err := m.StartRecording(ctx, sess.ID, host.ID, session.StreamOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// The utterance races the session's end and hits the already-ended
	// store. It is dropped without broadcast and without failing the run.
	stream.TokensCh <- []types.Token{
		{Text: "Too late.", IsFinal: true, Status: types.StatusTranscription, Language: "en"},
	}
	_ = stream.Close()
	<-rec.Done()

	if err := rec.Err(); err != nil {
		t.Fatalf("teardown race must not fail the pipeline, got %v", err)
	}
	list, err := st.ListFinal(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("dropped utterance was persisted: %+v", list)
	}
	select {
	case ev := <-sub.Events():
		if ev.Type == realtime.EventTranscript {
			t.Fatalf("dropped utterance was broadcast: %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStopClearsListenerPreview(t *testing.T) {
	stream := &mock.Stream{TokensCh: make(chan []types.Token, 8)}
	eng := &mock.Engine{Stream: stream}
	m, _, hub := newManager(t, eng)
	ctx := context.Background()

	sess, host, _ := m.Create(ctx, session.CreateParams{HostName: "Alice", Translation: oneWay("en")})
	sub, err := hub.Subscribe(ctx, sess.ID, "listener")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	rec, err := m.StartRecording(ctx, sess.ID, host.ID, session.StreamOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	stream.TokensCh <- []types.Token{
		{Text: "Hel", Status: types.StatusTranscription, Language: "en"},
	}
	cacheDeadline := time.Now().Add(2 * time.Second)
	for len(hub.Previews(sess.ID)) == 0 {
		if time.Now().After(cacheDeadline) {
			t.Fatal("preview never reached the hub cache")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Stopping mid-utterance publishes an empty preview so listeners do not
	// keep displaying the abandoned text.
	rec.Stop()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Type == realtime.EventPreview && ev.Preview.Text == "" {
				if got := hub.Previews(sess.ID); len(got) != 0 {
					t.Fatalf("preview cache still has %d entries", len(got))
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for the clearing preview")
		}
	}
}

func TestStopLogsDiscardedPendingOriginal(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	stream := &mock.Stream{TokensCh: make(chan []types.Token, 8)}
	eng := &mock.Engine{Stream: stream}
	st := store.NewMemStore()
	hub := realtime.NewHub(realtime.NewMemoryBroker())
	m := session.NewManager(st, hub, eng, nil, logger)
	ctx := context.Background()

	sess, host, _ := m.Create(ctx, session.CreateParams{HostName: "Alice", Translation: oneWay("es")})
	rec, err := m.StartRecording(ctx, sess.ID, host.ID, session.StreamOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// A final original whose translation never arrives stays buffered until
	// the stream ends, then is discarded.
	stream.TokensCh <- []types.Token{
		{Text: "Hello.", IsFinal: true, Status: types.StatusTranscription, Language: "en"},
	}
	_ = stream.Close()
	<-rec.Done()

	list, err := st.ListFinal(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("unpaired original must not be persisted: %+v", list)
	}
	if !strings.Contains(buf.String(), "discarding original") {
		t.Fatalf("missing discard log, got:\n%s", buf.String())
	}
}

func metricByName(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return metricdata.Metrics{}
}

func counterTotal(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	sum, ok := metricByName(t, rm, name).Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is not an int64 sum", name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestPipelineRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	stream := &mock.Stream{TokensCh: make(chan []types.Token, 8)}
	eng := &mock.Engine{Stream: stream}
	st := store.NewMemStore()
	hub := realtime.NewHub(realtime.NewMemoryBroker())
	m := session.NewManager(st, hub, eng, metrics, nil)
	ctx := context.Background()

	sess, host, err := m.Create(ctx, session.CreateParams{HostName: "Alice", Translation: oneWay("en")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rec, err := m.StartRecording(ctx, sess.ID, host.ID, session.StreamOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	stream.TokensCh <- []types.Token{
		{Text: "Hel", Status: types.StatusTranscription, Language: "en"},
	}
	stream.TokensCh <- []types.Token{
		{Text: "Hello.", IsFinal: true, Status: types.StatusTranscription, Language: "en"},
	}
	_ = stream.Close()
	<-rec.Done()

	if err := m.End(ctx, sess.ID); err != nil {
		t.Fatalf("end: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	dial, ok := metricByName(t, rm, "lingolive.engine.dial.duration").Data.(metricdata.Histogram[float64])
	if !ok || len(dial.DataPoints) != 1 || dial.DataPoints[0].Count != 1 {
		t.Fatalf("dial histogram = %+v, want one recording", dial.DataPoints)
	}
	if got := counterTotal(t, rm, "lingolive.engine.token_batches"); got != 2 {
		t.Fatalf("token batches = %d, want 2", got)
	}
	if got := counterTotal(t, rm, "lingolive.preview.broadcasts"); got != 1 {
		t.Fatalf("preview broadcasts = %d, want 1", got)
	}
	if got := counterTotal(t, rm, "lingolive.active_sessions"); got != 0 {
		t.Fatalf("active sessions = %d, want 0 after end", got)
	}
	if got := counterTotal(t, rm, "lingolive.active_recordings"); got != 0 {
		t.Fatalf("active recordings = %d, want 0 after teardown", got)
	}
}

func TestStreamErrorCountsEngineError(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	stream := &mock.Stream{
		TokensCh:  make(chan []types.Token),
		StreamErr: errors.New("upstream reset"),
	}
	eng := &mock.Engine{Stream: stream}
	st := store.NewMemStore()
	hub := realtime.NewHub(realtime.NewMemoryBroker())
	m := session.NewManager(st, hub, eng, metrics, nil)
	ctx := context.Background()

	sess, host, _ := m.Create(ctx, session.CreateParams{HostName: "Alice", Translation: oneWay("en")})
	rec, err := m.StartRecording(ctx, sess.ID, host.ID, session.StreamOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = stream.Close()
	<-rec.Done()

	if rec.Err() == nil {
		t.Fatal("expected the stream error to surface")
	}
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := counterTotal(t, rm, "lingolive.engine.errors"); got != 1 {
		t.Fatalf("engine errors = %d, want 1", got)
	}
}
