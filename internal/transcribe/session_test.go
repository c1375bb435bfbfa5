package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"

	"github.com/ElKroko/DISCORD-SUBTITLES/internal/observe"
	"github.com/ElKroko/DISCORD-SUBTITLES/internal/resilience"
	sttmock "github.com/ElKroko/DISCORD-SUBTITLES/pkg/provider/stt/mock"
)

func newTestSession(t *testing.T, eng *sttmock.Engine, mutate ...func(*Settings)) *Session {
	t.Helper()
	s := testSettings()
	for _, m := range mutate {
		m(&s)
	}
	sess, err := NewSession("mic", eng, s)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return sess
}

func TestSession_SilentWindowsNeverReachEngine(t *testing.T) {
	t.Parallel()
	eng := &sttmock.Engine{Responses: []sttmock.Response{{Result: result("hola", 0)}}}
	sess := newTestSession(t, eng)
	now := time.Unix(100, 0)

	for i, amp := range []int16{0, 10, 300, 491} { // 491/32768 < 0.015
		o := sess.Process(context.Background(), window(uint64(i+1), 4, 160, amp), now)
		if o.Kind != Skipped || o.Reason != ReasonSilence {
			t.Fatalf("amp %d: outcome %+v, want silence skip", amp, o)
		}
	}

	sess.SetTunables(func() Tunables {
		tu := sess.Tunables()
		tu.Silence.SkipSilence = false
		return tu
	}())
	if o := sess.Process(context.Background(), window(5, 4, 160, 0), now); o.Reason != ReasonEmpty {
		t.Fatalf("zero window with skip off: %+v", o)
	}
	if eng.CallCount() != 0 {
		t.Fatalf("engine called %d times for silent windows", eng.CallCount())
	}
}

func TestSession_AcceptsAndBuildsContext(t *testing.T) {
	t.Parallel()
	eng := &sttmock.Engine{Responses: []sttmock.Response{
		{Result: result("Hola a todos", 0)},
		{Result: result("eh eh eh eh eh bienvenidos", 0)},
	}}
	sess := newTestSession(t, eng)
	now := time.Unix(100, 0)

	o := sess.Process(context.Background(), window(1, 4, 160, 8000), now)
	if o.Kind != Accepted {
		t.Fatalf("outcome = %+v", o)
	}
	if o.Transcription.Source != "mic" || o.Transcription.Text != "Hola a todos" || o.Transcription.Confidence != 1 {
		t.Fatalf("transcription = %+v", o.Transcription)
	}
	if got := eng.LastRequest(); got.Prompt != "" || got.Language != "es" || got.BeamSize != 5 || len(got.Samples) != 640 {
		t.Fatalf("first request = %+v", got)
	}

	o = sess.Process(context.Background(), window(2, 4, 160, 8000), now.Add(time.Second))
	if o.Transcription.Text != "eh bienvenidos" {
		t.Fatalf("filtered text = %q", o.Transcription.Text)
	}
	if o.Raw != "eh eh eh eh eh bienvenidos" {
		t.Errorf("Raw = %q", o.Raw)
	}
	if got := eng.LastRequest().Prompt; got != "Hola a todos" {
		t.Fatalf("prompt = %q, want previous text", got)
	}
	if got := sess.Context(); got != "Hola a todos. eh bienvenidos" {
		t.Fatalf("context = %q", got)
	}
}

func TestSession_RequestReset(t *testing.T) {
	t.Parallel()
	eng := &sttmock.Engine{Responses: []sttmock.Response{
		{Result: result("Hola a todos", 0)},
		{Result: result("otra frase", 0)},
	}}
	sess := newTestSession(t, eng)
	now := time.Unix(100, 0)

	sess.Process(context.Background(), window(1, 4, 160, 8000), now)
	sess.RequestReset()
	sess.Process(context.Background(), window(2, 4, 160, 8000), now.Add(time.Second))

	if got := eng.LastRequest().Prompt; got != "" {
		t.Fatalf("prompt = %q after reset request", got)
	}
	if got := sess.Context(); got != "otra frase" {
		t.Fatalf("context = %q", got)
	}
	if got := sess.Stats().ContextResets; got != 1 {
		t.Fatalf("ContextResets = %d, want 1", got)
	}
}

func TestSession_NoPromptWhenDisabled(t *testing.T) {
	t.Parallel()
	eng := &sttmock.Engine{Responses: []sttmock.Response{{Result: result("una frase larga", 0)}}}
	sess := newTestSession(t, eng, func(s *Settings) { s.UsePreviousText = false })
	now := time.Unix(100, 0)

	sess.Process(context.Background(), window(1, 4, 160, 8000), now)
	sess.Process(context.Background(), window(2, 4, 160, 8000), now)
	if got := eng.LastRequest().Prompt; got != "" {
		t.Fatalf("prompt = %q with previous text disabled", got)
	}
}

func TestSession_LowConfidenceSkipped(t *testing.T) {
	t.Parallel()
	eng := &sttmock.Engine{Responses: []sttmock.Response{{Result: result("tal vez esto no", math.Log(0.2))}}}
	sess := newTestSession(t, eng)

	o := sess.Process(context.Background(), window(1, 4, 160, 8000), time.Unix(100, 0))
	if o.Kind != Skipped || o.Reason != ReasonLowConfidence {
		t.Fatalf("outcome = %+v", o)
	}
	if sess.Context() != "" {
		t.Fatalf("rejected text entered context: %q", sess.Context())
	}
}

func TestSession_ContextResetAfterLongSilence(t *testing.T) {
	t.Parallel()
	eng := &sttmock.Engine{Responses: []sttmock.Response{{Result: result("Buenas noches", 0)}}}
	sess := newTestSession(t, eng)
	t0 := time.Unix(100, 0)

	sess.Process(context.Background(), window(1, 4, 160, 8000), t0)
	if sess.Context() == "" {
		t.Fatal("context empty after accepted text")
	}
	for i := range 10 {
		sess.Process(context.Background(), window(uint64(i+2), 4, 160, 0), t0.Add(time.Duration(i+1)*time.Second))
	}
	if sess.Context() != "" {
		t.Fatalf("context = %q after 10s of silence", sess.Context())
	}
	st := sess.Stats()
	if st.ContextResets != 1 || st.SilencePeriods != 1 {
		t.Fatalf("stats = %+v, want one reset and one silence period", st)
	}
}

func TestSession_EngineFailureBackoff(t *testing.T) {
	t.Parallel()
	boom := errors.New("engine down")
	eng := &sttmock.Engine{Responses: []sttmock.Response{{Err: boom}}}
	sess := newTestSession(t, eng, func(s *Settings) {
		s.Errors = ErrorPolicy{MaxConsecutive: 3, RetryDelay: 10 * time.Millisecond, Cooldown: time.Second}
	})
	now := time.Unix(100, 0)

	for i := range 3 {
		o := sess.Process(context.Background(), window(uint64(i+1), 4, 160, 8000), now)
		if o.Kind != Failed || !errors.Is(o.Err, boom) || o.Backoff != 10*time.Millisecond {
			t.Fatalf("failure %d: %+v", i+1, o)
		}
	}
	if o := sess.Process(context.Background(), window(4, 4, 160, 8000), now); o.Backoff != time.Second {
		t.Fatalf("4th failure backoff = %v, want cooldown", o.Backoff)
	}
	if o := sess.Process(context.Background(), window(5, 4, 160, 8000), now); o.Backoff != 10*time.Millisecond {
		t.Fatalf("after cooldown backoff = %v, want retry delay", o.Backoff)
	}
	if sess.Stats().Failed != 5 {
		t.Errorf("Failed = %d", sess.Stats().Failed)
	}
}

func TestSession_DedupeSimilarText(t *testing.T) {
	t.Parallel()
	eng := &sttmock.Engine{Responses: []sttmock.Response{
		{Result: result("vamos a empezar la partida", 0)},
		{Result: result("vamos a empezar la partida.", 0)},
		{Result: result("tirad iniciativa", 0)},
	}}
	sess := newTestSession(t, eng, func(s *Settings) { s.Tunables.DedupeSimilarity = 0.95 })
	now := time.Unix(100, 0)

	var kinds []OutcomeKind
	for i := range 3 {
		kinds = append(kinds, sess.Process(context.Background(), window(uint64(i+1), 4, 160, 8000), now).Kind)
	}
	if kinds[0] != Accepted || kinds[1] != Skipped || kinds[2] != Accepted {
		t.Fatalf("kinds = %v", kinds)
	}
}

func TestSession_RecordsWindowMetrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	eng := &sttmock.Engine{Responses: []sttmock.Response{{Result: result("hola qué tal", 0)}}}
	sess, err := NewSession("discord", eng, testSettings(), WithMetrics(m))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	now := time.Unix(100, 0)
	sess.Process(context.Background(), window(1, 4, 160, 0), now)
	sess.Process(context.Background(), window(2, 4, 160, 8000), now)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "subtitles.windows" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("subtitles.windows data = %T", md.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 2 {
		t.Fatalf("windows counted = %d, want 2", total)
	}
}

func TestNewSession_Errors(t *testing.T) {
	t.Parallel()
	if _, err := NewSession("mic", nil, testSettings()); err == nil {
		t.Error("nil engine accepted")
	}
	bad := testSettings()
	bad.OverlapSeconds = bad.WindowSeconds
	if _, err := NewSession("mic", &sttmock.Engine{}, bad); err == nil {
		t.Error("invalid settings accepted")
	}
}

func TestSession_RunEmitsTranscriptions(t *testing.T) {
	t.Parallel()
	eng := &sttmock.Engine{Responses: []sttmock.Response{{Result: result("hola mundo", 0)}}}
	sess := newTestSession(t, eng)
	for range 4 {
		sess.Queue().Push(toneFrame(160, 8000))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out := make(chan Transcription, 1)
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx, out) }()

	select {
	case tr := <-out:
		if tr.Text != "hola mundo" || tr.Seq != 1 {
			t.Fatalf("transcription = %+v", tr)
		}
	case <-ctx.Done():
		t.Fatal("no transcription emitted")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}
}

func TestSession_SharedChainKeepsOtherSourcesRunning(t *testing.T) {
	t.Parallel()
	boom := errors.New("engine down")
	script := make([]sttmock.Response, 0, 11)
	for range 10 {
		script = append(script, sttmock.Response{Err: boom})
	}
	script = append(script, sttmock.Response{Result: result("sigo aquí", 0)})
	eng := &sttmock.Engine{Responses: script}
	chain := resilience.NewEngineFallback(eng, resilience.CircuitBreakerConfig{
		MaxFailures:  10,
		ResetTimeout: 30 * time.Second,
	})

	mic, err := NewSession("mic", chain, testSettings())
	if err != nil {
		t.Fatalf("NewSession(mic): %v", err)
	}
	remote, err := NewSession("remote", chain, testSettings())
	if err != nil {
		t.Fatalf("NewSession(remote): %v", err)
	}
	now := time.Unix(100, 0)

	for i := range 10 {
		if o := mic.Process(context.Background(), window(uint64(i+1), 4, 160, 8000), now); o.Kind != Failed {
			t.Fatalf("mic window %d: %+v, want failure", i+1, o)
		}
	}

	o := remote.Process(context.Background(), window(1, 4, 160, 8000), now)
	if eng.CallCount() != 11 {
		t.Fatalf("engine calls = %d, want the remote window to reach the engine", eng.CallCount())
	}
	if o.Kind != Accepted || o.Transcription.Source != "remote" {
		t.Fatalf("remote outcome = %+v", o)
	}

	if o := mic.Process(context.Background(), window(11, 4, 160, 8000), now.Add(time.Second)); o.Kind != Accepted {
		t.Fatalf("mic after recovery: %+v", o)
	}
}

func TestSession_WindowLogsCarryTraceIDs(t *testing.T) {
	t.Parallel()
	eng := &sttmock.Engine{Responses: []sttmock.Response{
		{Result: result("hola a todos", 0)},
		{Result: result("casi nada", -3)},
	}}
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sess, err := NewSession("mic", eng, testSettings(), WithLogger(logger))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6},
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67, 0xaa},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), sc)
	now := time.Unix(100, 0)
	sess.Process(ctx, window(1, 4, 160, 8000), now)
	sess.Process(ctx, window(2, 4, 160, 8000), now.Add(time.Second))

	seen := map[string]bool{}
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			t.Fatalf("decode log: %v", err)
		}
		msg, _ := rec["msg"].(string)
		if msg != "transcription" && msg != "transcription rejected" {
			continue
		}
		seen[msg] = true
		if rec["trace_id"] != sc.TraceID().String() {
			t.Errorf("%q trace_id = %v, want %s", msg, rec["trace_id"], sc.TraceID())
		}
		if id, _ := rec["span_id"].(string); len(id) != 16 {
			t.Errorf("%q span_id = %v", msg, rec["span_id"])
		}
		if rec["source"] != "mic" {
			t.Errorf("%q source = %v", msg, rec["source"])
		}
	}
	if !seen["transcription"] || !seen["transcription rejected"] {
		t.Fatalf("missing window log lines, saw %v in %s", seen, buf.String())
	}
}
