package vm

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func isKind(err error, k ErrorKind) bool {
	return errors.Is(err, k)
}

// syncBuffer is a goroutine-safe output sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(out *syncBuffer) Config {
	seed := uint64(1234)
	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.Seed = &seed
	if out != nil {
		cfg.Output = out
	} else {
		cfg.Output = &syncBuffer{}
	}
	return cfg
}

// evalSource evaluates src with a test config and a timeout that turns
// scheduler hangs into failures.
func evalSource(t *testing.T, src string) (Value, error) {
	t.Helper()
	return evalWith(t, src, testConfig(nil))
}

func evalWith(t *testing.T, src string, cfg Config) (Value, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	v, err := Evaluate(ctx, src, cfg)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("evaluation timed out")
	}
	return v, err
}

func mustEval(t *testing.T, src string) Value {
	t.Helper()
	v, err := evalSource(t, src)
	if err != nil {
		t.Fatalf("Evaluate(%q) error: %v", src, err)
	}
	return v
}

func wantInt(t *testing.T, v Value, want string) {
	t.Helper()
	n, ok := v.Integer()
	if !ok {
		t.Fatalf("value = %v (%s), want Integer %s", v, v.Kind(), want)
	}
	if n.String() != want {
		t.Errorf("value = %s, want %s", n, want)
	}
}
