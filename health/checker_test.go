package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUp(t *testing.T) {
	p := Up(204, 12*time.Millisecond)

	if !p.Healthy {
		t.Error("Up() should be healthy")
	}
	if p.StatusCode != 204 || p.Latency != 12*time.Millisecond {
		t.Errorf("Up() = %+v, want status 204 and latency 12ms", p)
	}
	if p.Err != nil {
		t.Errorf("Err = %v, want nil", p.Err)
	}
}

func TestDown(t *testing.T) {
	cause := errors.New("connection refused")
	p := Down("probe failed", cause)

	if p.Healthy {
		t.Error("Down() should not be healthy")
	}
	if p.Message != "probe failed" {
		t.Errorf("Message = %q, want 'probe failed'", p.Message)
	}
	if !errors.Is(p.Err, cause) {
		t.Errorf("Err = %v, want %v", p.Err, cause)
	}
	if p.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 without a response", p.StatusCode)
	}
}

func TestCheckerFunc(t *testing.T) {
	var calls int
	c := NewCheckerFunc("https://registry.example.org", func(ctx context.Context) Probe {
		calls++
		if ctx.Err() != nil {
			return Down("cancelled", ctx.Err())
		}
		return Up(200, 0)
	})

	if got := c.Endpoint(); got != "https://registry.example.org" {
		t.Errorf("Endpoint() = %q", got)
	}
	if p := c.Check(context.Background()); !p.Healthy {
		t.Errorf("Check() = %+v, want healthy", p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if p := c.Check(ctx); p.Healthy || !errors.Is(p.Err, context.Canceled) {
		t.Errorf("Check(cancelled) = %+v, want a cancelled probe", p)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
