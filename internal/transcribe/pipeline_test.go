package transcribe

import (
	"context"
	"errors"
	"testing"
	"time"

	audiomock "github.com/ElKroko/DISCORD-SUBTITLES/pkg/audio/mock"
	sttmock "github.com/ElKroko/DISCORD-SUBTITLES/pkg/provider/stt/mock"
)

func loudSource(n int) *audiomock.Source {
	src := &audiomock.Source{Block: true}
	for range n {
		src.Reads = append(src.Reads, audiomock.Read{Frame: toneFrame(160, 8000)})
	}
	return src
}

func TestPipeline_MergesSources(t *testing.T) {
	t.Parallel()
	eng := &sttmock.Engine{Responses: []sttmock.Response{{Result: result("hola a todos", 0)}}}
	p, err := NewPipeline([]Source{
		{Name: "mic", Device: &audiomock.Device{OpenResult: loudSource(4)}},
		{Name: "discord", Device: &audiomock.Device{OpenResult: loudSource(4)}},
	}, eng, testSettings())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case tr := <-p.Transcriptions():
			seen[tr.Source] = true
		case <-ctx.Done():
			t.Fatalf("only saw %v", seen)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}
	if _, open := <-p.Transcriptions(); open {
		t.Error("output channel still open after Run")
	}
	if err := p.Run(context.Background()); err == nil {
		t.Error("second Run succeeded")
	}
}

func TestPipeline_SourceEngineOverride(t *testing.T) {
	t.Parallel()
	shared := &sttmock.Engine{Responses: []sttmock.Response{{Result: result("compartido", 0)}}}
	own := &sttmock.Engine{Responses: []sttmock.Response{{Result: result("propio", 0)}}}
	p, err := NewPipeline([]Source{
		{Name: "mic", Device: &audiomock.Device{OpenResult: loudSource(4)}},
		{Name: "discord", Device: &audiomock.Device{OpenResult: loudSource(4)}, Engine: own},
	}, shared, testSettings())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	texts := map[string]string{}
	for len(texts) < 2 {
		select {
		case tr := <-p.Transcriptions():
			texts[tr.Source] = tr.Text
		case <-ctx.Done():
			t.Fatalf("only saw %v", texts)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}
	if texts["mic"] != "compartido" || texts["discord"] != "propio" {
		t.Errorf("texts = %v, want mic on the shared engine and discord on its own", texts)
	}
}

func TestPipeline_DeadDeviceStillRuns(t *testing.T) {
	t.Parallel()
	eng := &sttmock.Engine{}
	p, err := NewPipeline([]Source{
		{Name: "mic", Device: &audiomock.Device{OpenError: errors.New("no device")}},
	}, eng, testSettings())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitFor(t, "silent windows", func() bool {
		st := p.Status()
		return st[0].Capture == CaptureFallback && st[0].Stats.Windows >= 2
	})
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}
	if eng.CallCount() != 0 {
		t.Fatalf("engine called %d times for silence", eng.CallCount())
	}
}

func TestPipeline_SetTunables(t *testing.T) {
	t.Parallel()
	p, err := NewPipeline([]Source{
		{Name: "a", Device: &audiomock.Device{}},
		{Name: "b", Device: &audiomock.Device{}},
	}, &sttmock.Engine{}, testSettings())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	tu := testSettings().Tunables
	tu.Filter.ConfidenceThreshold = 0.9
	p.SetTunables(tu)
	for _, r := range p.runners {
		if got := r.session.Tunables().Filter.ConfidenceThreshold; got != 0.9 {
			t.Fatalf("%s threshold = %v", r.session.Name(), got)
		}
	}
}

func TestPipeline_ResetContext(t *testing.T) {
	t.Parallel()
	p, err := NewPipeline([]Source{
		{Name: "a", Device: &audiomock.Device{}},
		{Name: "b", Device: &audiomock.Device{}},
	}, &sttmock.Engine{}, testSettings())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if n := p.ResetContext("b"); n != 1 {
		t.Errorf("ResetContext(b) = %d, want 1", n)
	}
	if n := p.ResetContext(""); n != 2 {
		t.Errorf("ResetContext(all) = %d, want 2", n)
	}
	if n := p.ResetContext("zzz"); n != 0 {
		t.Errorf("ResetContext(unknown) = %d, want 0", n)
	}
	for _, r := range p.runners {
		if !r.session.resetPending.Load() {
			t.Errorf("%s: reset not pending", r.session.Name())
		}
	}
}

func TestNewPipeline_Errors(t *testing.T) {
	t.Parallel()
	dev := &audiomock.Device{}
	tests := []struct {
		name    string
		sources []Source
	}{
		{"no sources", nil},
		{"duplicate names", []Source{{Name: "mic", Device: dev}, {Name: "mic", Device: dev}}},
		{"missing device", []Source{{Name: "mic"}}},
		{"missing name", []Source{{Device: dev}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewPipeline(tt.sources, &sttmock.Engine{}, testSettings()); err == nil {
				t.Fatal("NewPipeline succeeded")
			}
		})
	}
}
