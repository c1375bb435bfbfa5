package sink

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Console writes one line per message:
//
//	[15:04:05] Tú: hola a todos
//
// The timestamp is omitted when disabled.
type Console struct {
	mu         sync.Mutex
	w          io.Writer
	timestamps bool
}

// NewConsole returns a Console writing to w.
func NewConsole(w io.Writer, timestamps bool) *Console {
	return &Console{w: w, timestamps: timestamps}
}

// Name implements [Sink].
func (c *Console) Name() string { return "console" }

// Deliver implements [Sink].
func (c *Console) Deliver(_ context.Context, m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.timestamps {
		_, err = fmt.Fprintf(c.w, "[%s] %s: %s\n", m.At.Format("15:04:05"), m.Speaker, m.Text)
	} else {
		_, err = fmt.Fprintf(c.w, "%s: %s\n", m.Speaker, m.Text)
	}
	if err != nil {
		return fmt.Errorf("sink: console: %w", err)
	}
	return nil
}
