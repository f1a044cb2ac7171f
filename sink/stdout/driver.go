// esminify/sink/stdout/driver.go
package stdout

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"

	"esminify/sink"
)

/* ────────── public config ────────── */
type Config struct {
	JSON         bool      `yaml:"json"`          // one JSON object per line
	PrintCounter bool      `yaml:"print_counter"` // prepend seq#
	Out          io.Writer `yaml:"-"`             // nil → os.Stdout
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config

	mu     sync.Mutex // guards writes to cfg.Out
	closed bool
}

var seq uint64

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	d.cfg = c
	return nil
}

func (d *driver) Push(diag sink.Diagnostic) error {
	n := atomic.AddUint64(&seq, 1)

	var line string
	if d.cfg.JSON {
		b, err := sonic.Marshal(diag)
		if err != nil {
			return fmt.Errorf("stdout-sink: encode: %w", err)
		}
		line = string(b)
	} else {
		line = fmt.Sprintf("%s: %s", diag.Severity, diag.Message)
	}
	if d.cfg.PrintCounter {
		line = fmt.Sprintf("[sink %06d] %s", n, line)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("stdout-sink: closed")
	}
	out := d.cfg.Out
	if out == nil {
		out = os.Stdout
	}
	_, err := fmt.Fprintln(out, line)
	return err
}

func (d *driver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
