package shutdown

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Robitch/Robify-sub001/internal/logutils"
)

func init() {
	logutils.SetOutput(io.Discard)
}

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) service(name string, err error) *FuncShutdown {
	return NewFuncShutdown(name, func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.order = append(r.order, name)
		return err
	})
}

type fakeCloser struct {
	closed bool
	err    error
}

func (c *fakeCloser) Close() error {
	c.closed = true
	return c.err
}

func TestShutdown_ReverseRegistrationOrder(t *testing.T) {
	r := &recorder{}
	m := NewManager(time.Second)
	m.Register(r.service("database", nil))
	m.Register(r.service("download-manager", nil))
	m.Register(r.service("http_server", nil))

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	got := strings.Join(r.order, ",")
	if got != "http_server,download-manager,database" {
		t.Errorf("order = %s", got)
	}
}

func TestShutdown_CollectsErrors(t *testing.T) {
	r := &recorder{}
	boom := errors.New("boom")
	m := NewManager(time.Second)
	m.Register(r.service("first", nil))
	m.Register(r.service("broken", boom))

	err := m.Shutdown()
	if !errors.Is(err, boom) {
		t.Fatalf("Shutdown() error = %v, want wrapped boom", err)
	}
	if len(r.order) != 2 {
		t.Errorf("a failing service must not stop the others, ran %v", r.order)
	}
}

func TestShutdown_TimeoutSkipsRemaining(t *testing.T) {
	r := &recorder{}
	m := NewManager(20 * time.Millisecond)
	m.Register(r.service("never", nil))
	m.Register(NewFuncShutdown("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	if err := m.Shutdown(); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() error = %v, want deadline exceeded", err)
	}
	if len(r.order) != 0 {
		t.Errorf("services after the timeout should be skipped, ran %v", r.order)
	}
}

func TestWaitForShutdown_ContextCanceled(t *testing.T) {
	db := &fakeCloser{}
	m := NewManager(time.Second)
	m.Register(NewDatabaseShutdown(db))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.WaitForShutdown(ctx); err != nil {
		t.Fatalf("WaitForShutdown() error = %v", err)
	}
	if !db.closed {
		t.Error("database was not closed")
	}
}

func TestDatabaseShutdown_PropagatesCloseError(t *testing.T) {
	closeErr := errors.New("locked")
	d := NewDatabaseShutdown(&fakeCloser{err: closeErr})
	if err := d.Shutdown(context.Background()); !errors.Is(err, closeErr) {
		t.Errorf("Shutdown() error = %v", err)
	}
	if d.Name() != "database" {
		t.Errorf("Name() = %q", d.Name())
	}
}
