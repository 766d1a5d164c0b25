package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDeliversToMatchingWaiterOnly(t *testing.T) {
	w := newWaiters(time.Minute)
	defer w.Close()

	chA := w.Register("job-a", time.Minute)
	chB := w.Register("job-b", time.Minute)

	require.True(t, w.Resolve("job-a", Outcome{PostURL: "https://x.com/u/status/1"}))

	select {
	case outcome := <-chA:
		assert.Equal(t, "https://x.com/u/status/1", outcome.PostURL)
	case <-time.After(time.Second):
		t.Fatal("waiter A never resolved")
	}

	select {
	case <-chB:
		t.Fatal("waiter B resolved by A's result")
	default:
	}
}

func TestResolveUnknownJobIsNoOp(t *testing.T) {
	w := newWaiters(time.Minute)
	defer w.Close()

	assert.False(t, w.Resolve("never-registered", Outcome{}))
}

func TestResolveAfterRemoveIsNoOp(t *testing.T) {
	w := newWaiters(time.Minute)
	defer w.Close()

	ch := w.Register("job-x", time.Minute)
	w.Remove("job-x")

	assert.False(t, w.Resolve("job-x", Outcome{PostURL: "late"}))
	select {
	case <-ch:
		t.Fatal("removed waiter received an outcome")
	default:
	}
}

func TestJanitorEvictsExpiredWaiters(t *testing.T) {
	w := newWaiters(10 * time.Millisecond)
	defer w.Close()

	w.Register("short-lived", 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return w.Len() == 0
	}, time.Second, 10*time.Millisecond)

	assert.False(t, w.Resolve("short-lived", Outcome{}))
}

func TestResolveConsumesWaiter(t *testing.T) {
	w := newWaiters(time.Minute)
	defer w.Close()

	w.Register("job-once", time.Minute)
	require.True(t, w.Resolve("job-once", Outcome{}))
	assert.False(t, w.Resolve("job-once", Outcome{}), "second resolve for the same job must be a no-op")
}
