package whisper_test

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/provider/stt"
	"github.com/ElKroko/DISCORD-SUBTITLES/pkg/provider/stt/whisper"
)

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	_, err := whisper.NewNative("")
	if err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	_, err := whisper.NewNative("/nonexistent/path/to/model.bin")
	if err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNativeTranscribe_EmptySamples(t *testing.T) {
	e, err := whisper.NewNative(testModelPath(t))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer e.Close()

	if _, err := e.Transcribe(context.Background(), stt.Request{}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestNativeTranscribe_CancelledContext(t *testing.T) {
	e, err := whisper.NewNative(testModelPath(t))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Transcribe(ctx, stt.Request{Samples: make([]float32, 16000)}); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}

func TestNativeTranscribe_ToneHasFiniteScores(t *testing.T) {
	e, err := whisper.NewNative(testModelPath(t), whisper.WithNativeBeamSize(1))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer e.Close()

	samples := make([]float32, 3*16000)
	for i := range samples {
		samples[i] = 0.3 * float32(math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	res, err := e.Transcribe(context.Background(), stt.Request{Samples: samples, Prompt: "Hola."})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	for i, s := range res.Segments {
		if math.IsInf(s.AvgLogProb, 0) || math.IsNaN(s.AvgLogProb) || s.AvgLogProb > 0 {
			t.Errorf("segment %d avg_logprob = %v, want finite and <= 0", i, s.AvgLogProb)
		}
	}
}
