package reconcile_test

import (
	"errors"
	"testing"
	"time"

	"github.com/lingolive/lingolive/internal/reconcile"
	"github.com/lingolive/lingolive/pkg/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

func newStreaming(t *testing.T, translation types.TranslationConfig) *reconcile.Machine {
	t.Helper()
	m := reconcile.New(reconcile.Config{
		ParticipantID:   "p-1",
		ParticipantName: "Alice",
		Translation:     translation,
		Now:             func() time.Time { return time.Unix(1700000000, 0) },
	})
	m.Start()
	return m
}

func oneWay(target string) types.TranslationConfig {
	return types.TranslationConfig{Mode: types.ModeOneWay, TargetLanguage: target}
}

func twoWay(a, b string) types.TranslationConfig {
	return types.TranslationConfig{Mode: types.ModeTwoWay, LanguageA: a, LanguageB: b}
}

func original(text, lang string, final bool) types.Token {
	return types.Token{Text: text, Language: lang, IsFinal: final, Status: types.StatusTranscription}
}

func translation(text, lang string, final bool) types.Token {
	return types.Token{Text: text, Language: lang, IsFinal: final, Status: types.StatusTranslation}
}

// ─────────────────────────────────────────────────────────────────────────────
// lifecycle
// ─────────────────────────────────────────────────────────────────────────────

func TestMachine_InitialState(t *testing.T) {
	m := reconcile.New(reconcile.Config{Translation: oneWay("en")})
	if got := m.State(); got != reconcile.StateIdle {
		t.Fatalf("new machine state = %v, want idle", got)
	}
}

func TestMachine_IgnoresBatchesWhileIdle(t *testing.T) {
	m := reconcile.New(reconcile.Config{Translation: oneWay("en")})

	if _, ok := m.HandleNonFinal([]types.Token{original("hi", "en", false)}); ok {
		t.Error("idle machine broadcast a preview")
	}
	if _, ok := m.HandleFinal([]types.Token{original("hi", "en", true)}); ok {
		t.Error("idle machine emitted a finalized utterance")
	}
}

func TestMachine_FailRecordsErrorAndHaltsConsumption(t *testing.T) {
	m := newStreaming(t, oneWay("en"))

	streamErr := errors.New("engine connection reset")
	m.Fail(streamErr)

	if got := m.State(); got != reconcile.StateError {
		t.Fatalf("state after Fail = %v, want error", got)
	}
	if !errors.Is(m.Err(), streamErr) {
		t.Errorf("Err() = %v, want %v", m.Err(), streamErr)
	}
	if _, ok := m.HandleFinal([]types.Token{original("hi", "en", true)}); ok {
		t.Error("errored machine still emitted a finalized utterance")
	}
}

// TestMachine_StopClearsState verifies that a stop/start cycle begins with an
// empty finalization cursor: the first batch of the new run is reconciled as
// fresh content, not appended to stale history.
func TestMachine_StopClearsState(t *testing.T) {
	m := newStreaming(t, twoWay("en", "vi"))

	// Buffer a pending original, then stop mid-utterance.
	if _, ok := m.HandleFinal([]types.Token{original("dangling", "en", true)}); ok {
		t.Fatal("pending original was emitted instead of buffered")
	}
	m.Stop()

	if got := m.PendingOriginal(); got != "" {
		t.Fatalf("pending original survived Stop: %q", got)
	}

	m.Start()

	// The dangling original must not leak into the new run: this translation
	// batch has no pending counterpart, so the degraded fallback applies.
	out, ok := m.HandleFinal([]types.Token{translation("xin chào", "vi", true)})
	if !ok {
		t.Fatal("no emission for translation-only batch")
	}
	if out.OriginalText != "xin chào" {
		t.Errorf("original text = %q, want fallback to translated text", out.OriginalText)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// previews
// ─────────────────────────────────────────────────────────────────────────────

func TestMachine_PreviewBroadcast(t *testing.T) {
	m := newStreaming(t, twoWay("en", "vi"))

	ev, ok := m.HandleNonFinal([]types.Token{
		original("hel", "en", false),
		original("lo", "en", false),
		translation("xin ", "vi", false),
		translation("chào", "vi", false),
	})
	if !ok {
		t.Fatal("preview suppressed")
	}
	if ev.Text != "hello" || ev.TranslatedText != "xin chào" {
		t.Errorf("preview = (%q, %q), want (hello, xin chào)", ev.Text, ev.TranslatedText)
	}
	if ev.SourceLanguage != "en" || ev.TargetLanguage != "vi" {
		t.Errorf("languages = (%q, %q), want (en, vi)", ev.SourceLanguage, ev.TargetLanguage)
	}
	if ev.ParticipantID != "p-1" || ev.ParticipantName != "Alice" {
		t.Errorf("participant = (%q, %q)", ev.ParticipantID, ev.ParticipantName)
	}
}

// TestMachine_PreviewDedup verifies that two consecutive non-final batches
// producing the same (text, translatedText) tuple yield only one broadcast.
func TestMachine_PreviewDedup(t *testing.T) {
	m := newStreaming(t, oneWay("en"))

	batch := []types.Token{original("hello", "en", false)}
	if _, ok := m.HandleNonFinal(batch); !ok {
		t.Fatal("first preview suppressed")
	}
	if _, ok := m.HandleNonFinal(batch); ok {
		t.Error("identical consecutive preview was broadcast")
	}

	// A changed tuple broadcasts again.
	if _, ok := m.HandleNonFinal([]types.Token{original("hello there", "en", false)}); !ok {
		t.Error("changed preview was suppressed")
	}
}

func TestMachine_PreviewReplacesBuffer(t *testing.T) {
	m := newStreaming(t, oneWay("en"))

	m.HandleNonFinal([]types.Token{original("first", "en", false)})
	m.HandleNonFinal([]types.Token{original("second", "en", false)})

	if got := m.Preview().Text; got != "second" {
		t.Errorf("preview buffer = %q, want replaced value %q", got, "second")
	}
}

func TestMachine_EmptyPreviewNotBroadcast(t *testing.T) {
	m := newStreaming(t, twoWay("en", "vi"))

	// Translation-only preview: original text empty, nothing to broadcast.
	if _, ok := m.HandleNonFinal([]types.Token{translation("xin", "vi", false)}); ok {
		t.Error("broadcast with empty original text")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// finalization
// ─────────────────────────────────────────────────────────────────────────────

// TestMachine_OneWaySameLanguageEmitsImmediately pins the one-way
// no-translation-needed case: a speaker already using the target language
// finalizes without buffering and without translated text.
func TestMachine_OneWaySameLanguageEmitsImmediately(t *testing.T) {
	m := newStreaming(t, oneWay("en"))

	out, ok := m.HandleFinal([]types.Token{original("hello", "en", true)})
	if !ok {
		t.Fatal("no immediate emission")
	}
	if out.TranslatedText != "" {
		t.Errorf("translated text = %q, want empty", out.TranslatedText)
	}
	if out.SourceLanguage != "en" || out.TargetLanguage != "en" {
		t.Errorf("languages = (%q, %q), want (en, en)", out.SourceLanguage, out.TargetLanguage)
	}
}

// TestMachine_TwoWayPairing pins the two-phase pairing scenario: an original
// batch buffers, the following translation batch emits the paired utterance.
func TestMachine_TwoWayPairing(t *testing.T) {
	m := newStreaming(t, twoWay("en", "vi"))

	if _, ok := m.HandleFinal([]types.Token{original("hello", "en", true)}); ok {
		t.Fatal("original batch emitted before its translation arrived")
	}
	if got := m.PendingOriginal(); got != "hello" {
		t.Fatalf("pending original = %q, want %q", got, "hello")
	}

	out, ok := m.HandleFinal([]types.Token{translation("xin chào", "vi", true)})
	if !ok {
		t.Fatal("no emission after translation batch")
	}
	want := types.FinalUtterance{
		OriginalText:   "hello",
		TranslatedText: "xin chào",
		SourceLanguage: "en",
		TargetLanguage: "vi",
	}
	if out != want {
		t.Errorf("emitted %+v, want %+v", out, want)
	}
	if got := m.PendingOriginal(); got != "" {
		t.Errorf("pending buffer not cleared after pairing: %q", got)
	}
}

func TestMachine_OneWayCrossLanguageBuffers(t *testing.T) {
	m := newStreaming(t, oneWay("en"))

	if _, ok := m.HandleFinal([]types.Token{original("hallo", "de", true)}); ok {
		t.Fatal("cross-language original emitted without waiting for translation")
	}

	out, ok := m.HandleFinal([]types.Token{translation("hello", "en", true)})
	if !ok {
		t.Fatal("no emission after translation batch")
	}
	if out.OriginalText != "hallo" || out.TranslatedText != "hello" {
		t.Errorf("pairing = (%q, %q), want (hallo, hello)", out.OriginalText, out.TranslatedText)
	}
	if out.SourceLanguage != "de" || out.TargetLanguage != "en" {
		t.Errorf("languages = (%q, %q), want (de, en)", out.SourceLanguage, out.TargetLanguage)
	}
}

func TestMachine_SameBatchPairing(t *testing.T) {
	m := newStreaming(t, twoWay("en", "vi"))

	out, ok := m.HandleFinal([]types.Token{
		original("good morning", "en", true),
		translation("chào buổi sáng", "vi", true),
	})
	if !ok {
		t.Fatal("no emission for combined batch")
	}
	if out.OriginalText != "good morning" || out.TranslatedText != "chào buổi sáng" {
		t.Errorf("pairing = (%q, %q)", out.OriginalText, out.TranslatedText)
	}
	if got := m.PendingOriginal(); got != "" {
		t.Errorf("combined batch left a pending original: %q", got)
	}
}

func TestMachine_TranslationWithoutPendingFallsBack(t *testing.T) {
	m := newStreaming(t, twoWay("en", "vi"))

	out, ok := m.HandleFinal([]types.Token{translation("xin chào", "vi", true)})
	if !ok {
		t.Fatal("no emission for orphan translation batch")
	}
	if out.OriginalText != "xin chào" || out.TranslatedText != "xin chào" {
		t.Errorf("fallback = (%q, %q), want translated text in both", out.OriginalText, out.TranslatedText)
	}
}

// TestMachine_PendingOverwriteHazard pins the known ordering hazard: when a
// second original batch arrives before the first's translation, the pending
// buffer is overwritten and the eventual translation pairs with the second
// original. This is upstream behaviour, preserved on purpose; do not "fix"
// this test without a product decision.
func TestMachine_PendingOverwriteHazard(t *testing.T) {
	m := newStreaming(t, twoWay("en", "vi"))

	m.HandleFinal([]types.Token{original("first utterance", "en", true)})
	m.HandleFinal([]types.Token{original("second utterance", "en", true)})

	out, ok := m.HandleFinal([]types.Token{translation("bản dịch đầu tiên", "vi", true)})
	if !ok {
		t.Fatal("no emission after translation batch")
	}
	if out.OriginalText != "second utterance" {
		t.Errorf("translation paired with %q, want the overwriting %q", out.OriginalText, "second utterance")
	}
}

// TestMachine_CursorNeverReprocesses feeds the same logical content in
// separate batches and checks each batch is reconciled exactly once.
func TestMachine_CursorNeverReprocesses(t *testing.T) {
	m := newStreaming(t, oneWay("en"))

	var emissions int
	for i := 0; i < 3; i++ {
		if _, ok := m.HandleFinal([]types.Token{original("same text", "en", true)}); ok {
			emissions++
		}
	}
	if emissions != 3 {
		t.Errorf("3 identical batches produced %d emissions, want 3 (one each, none reprocessed)", emissions)
	}
}

func TestMachine_EmptyFinalBatchIgnored(t *testing.T) {
	m := newStreaming(t, oneWay("en"))

	if _, ok := m.HandleFinal(nil); ok {
		t.Error("nil batch produced an emission")
	}
	if _, ok := m.HandleFinal([]types.Token{}); ok {
		t.Error("empty batch produced an emission")
	}
}

// Unknown translation-status tags count as original-language output.
func TestMachine_UnknownStatusTreatedAsOriginal(t *testing.T) {
	m := newStreaming(t, oneWay("en"))

	out, ok := m.HandleFinal([]types.Token{
		{Text: "hello", Language: "en", IsFinal: true, Status: "speaker_change"},
	})
	if !ok {
		t.Fatal("no emission for unknown-status batch")
	}
	if out.OriginalText != "hello" {
		t.Errorf("original text = %q, want %q", out.OriginalText, "hello")
	}
}
