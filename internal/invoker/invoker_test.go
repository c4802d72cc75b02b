package invoker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestInvoke_Success(t *testing.T) {
	inv := &Invoker{Binary: "/bin/echo"}
	res, err := inv.Invoke(context.Background(), "sys", "task", Limits{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(res.Text, "sys") || !strings.Contains(res.Text, "task") {
		t.Fatalf("unexpected output: %q", res.Text)
	}
}

func TestInvoke_NonZeroExit(t *testing.T) {
	inv := &Invoker{Binary: "/bin/false"}
	_, err := inv.Invoke(context.Background(), "sys", "task", Limits{})
	var ierr *InvocationError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected *InvocationError, got %v (%T)", err, err)
	}
	if ierr.Kind != KindNonZeroExit {
		t.Fatalf("kind = %q, want NonZeroExit", ierr.Kind)
	}
}

func TestInvoke_SpawnFailed(t *testing.T) {
	inv := &Invoker{Binary: "/no/such/binary-nox-test"}
	_, err := inv.Invoke(context.Background(), "sys", "task", Limits{})
	var ierr *InvocationError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected *InvocationError, got %v (%T)", err, err)
	}
	if ierr.Kind != KindSpawnFailed {
		t.Fatalf("kind = %q, want SpawnFailed", ierr.Kind)
	}
}

func TestInvoke_Timeout(t *testing.T) {
	inv := &Invoker{Binary: "/bin/sleep"}
	_, err := inv.Invoke(context.Background(), "5", "", Limits{Timeout: 50 * time.Millisecond})
	var ierr *InvocationError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected *InvocationError, got %v (%T)", err, err)
	}
	if ierr.Kind != KindTimeout {
		t.Fatalf("kind = %q, want Timeout", ierr.Kind)
	}
}

func TestCappedBuffer_Overflows(t *testing.T) {
	buf := newCappedBuffer(4)
	buf.Write([]byte("abcdefgh"))
	if !buf.overflowed {
		t.Fatal("expected overflow")
	}
	if buf.String() != "abcd" {
		t.Fatalf("buffer = %q, want %q", buf.String(), "abcd")
	}
}

func TestTailBuffer_KeepsLastBytes(t *testing.T) {
	buf := newTailBuffer(4)
	buf.Write([]byte("abcdefgh"))
	if buf.String() != "efgh" {
		t.Fatalf("buffer = %q, want %q", buf.String(), "efgh")
	}
}
