package async

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pulse/pkg/observability"
)

func TestSafeGo_Success(t *testing.T) {
	done := make(chan struct{})
	SafeGo(context.Background(), nil, time.Second, "test task", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SafeGo did not execute function")
	}
}

func TestSafeGo_Timeout(t *testing.T) {
	result := make(chan error, 1)
	SafeGo(context.Background(), nil, 50*time.Millisecond, "slow task", func(ctx context.Context) error {
		select {
		case <-time.After(2 * time.Second):
			result <- nil
		case <-ctx.Done():
			result <- ctx.Err()
		}
		return nil
	})

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("timeout was not applied")
	}
}

func TestSafeGo_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	SafeGo(ctx, nil, 0, "cancelled task", func(ctx context.Context) error {
		<-ctx.Done()
		result <- ctx.Err()
		return nil
	})
	cancel()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancellation was not propagated")
	}
}

func TestSafeGo_PanicIsLogged(t *testing.T) {
	var buf syncBuffer
	logger := observability.NewLogger(observability.DebugLevel, &buf)

	SafeGo(context.Background(), logger, time.Second, "panicking task", func(ctx context.Context) error {
		panic("boom")
	})

	require.Eventually(t, func() bool {
		return bytes.Contains(buf.Bytes(), []byte("PANIC recovered"))
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, buf.String(), "panicking task")
}

func TestSafeGo_ErrorIsLogged(t *testing.T) {
	var buf syncBuffer
	logger := observability.NewLogger(observability.DebugLevel, &buf)

	SafeGo(context.Background(), logger, time.Second, "failing task", func(ctx context.Context) error {
		return errors.New("disk full")
	})

	require.Eventually(t, func() bool {
		return bytes.Contains(buf.Bytes(), []byte("disk full"))
	}, time.Second, 10*time.Millisecond)
}

func TestBatch_AllSucceed(t *testing.T) {
	var sum atomic.Int64
	errs := Batch(context.Background(), []int{1, 2, 3, 4, 5}, 2, time.Second, func(ctx context.Context, n int) error {
		sum.Add(int64(n))
		return nil
	})

	assert.Empty(t, errs)
	assert.Equal(t, int64(15), sum.Load())
}

func TestBatch_CollectsErrorsAndPanics(t *testing.T) {
	var ran atomic.Int32
	errs := Batch(context.Background(), []string{"ok", "fail", "panic", "ok"}, 4, time.Second, func(ctx context.Context, s string) error {
		ran.Add(1)
		switch s {
		case "fail":
			return errors.New("failed")
		case "panic":
			panic("boom")
		}
		return nil
	})

	assert.Equal(t, int32(4), ran.Load())
	require.Len(t, errs, 2)
	var msgs []string
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	assert.ElementsMatch(t, []string{"failed", "panic: boom"}, msgs)
}

func TestBatch_RespectsWorkerLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	errs := Batch(context.Background(), make([]struct{}, 10), 3, time.Second, func(ctx context.Context, _ struct{}) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	assert.Empty(t, errs)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestBatch_PerItemTimeout(t *testing.T) {
	errs := Batch(context.Background(), []int{1}, 0, 20*time.Millisecond, func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	})

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.DeadlineExceeded)
}
