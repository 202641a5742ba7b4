package sequencer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/orneryd/registry/internal/sequencer"
)

func TestWaitFor_ReturnsImmediatelyWhenAlreadyCaughtUp(t *testing.T) {
	s := sequencer.New()
	s.Advance(5)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.True(t, s.WaitFor(ctx, 3))
}

func TestWaitFor_UnblocksOnAdvance(t *testing.T) {
	s := sequencer.New()
	done := make(chan bool, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- s.WaitFor(ctx, 10)
	}()

	time.Sleep(10 * time.Millisecond)
	s.Advance(10)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitFor did not unblock after Advance")
	}
}

func TestWaitFor_TimesOutWhenNeverReached(t *testing.T) {
	s := sequencer.New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, s.WaitFor(ctx, 100))
}
