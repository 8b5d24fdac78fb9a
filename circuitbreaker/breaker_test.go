package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(cfg)
	b.now = clock.now
	return b, clock
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(DefaultConfig())

	b.RecordFailure()
	ok, _ := b.Allow()
	assert.True(t, ok, "one failure stays below the threshold")

	b.RecordFailure()
	ok, wait := b.Allow()
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, wait)
	assert.True(t, b.State().Open)
}

func TestBreaker_TrialAfterBackoff(t *testing.T) {
	b, clock := newTestBreaker(DefaultConfig())
	b.RecordFailure()
	b.RecordFailure()

	clock.advance(31 * time.Second)
	ok, _ := b.Allow()
	require.True(t, ok)

	// A failed trial request reopens with a longer backoff
	b.RecordFailure()
	ok, wait := b.Allow()
	assert.False(t, ok)
	assert.Equal(t, 60*time.Second, wait)

	clock.advance(time.Minute)
	b.RecordSuccess()
	ok, _ = b.Allow()
	assert.True(t, ok)
	assert.Equal(t, State{}, b.State())
}

func TestBreaker_BackoffCapped(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, BackoffDuration: time.Minute, MaxBackoffDuration: 2 * time.Minute})
	for i := 0; i < 10; i++ {
		b.RecordFailure()
	}
	_, wait := b.Allow()
	assert.Equal(t, 2*time.Minute, wait)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(DefaultConfig())
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()

	ok, _ := b.Allow()
	assert.True(t, ok)
	assert.Equal(t, 1, b.State().FailureCount)
}

func TestBreaker_Disabled(t *testing.T) {
	b, _ := newTestBreaker(Config{})
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	ok, _ := b.Allow()
	assert.True(t, ok)
	assert.False(t, b.State().Open)
}

func TestBreaker_StateChanges(t *testing.T) {
	b, _ := newTestBreaker(DefaultConfig())
	var changes []bool
	b.OnStateChange(func(s State) { changes = append(changes, s.Open) })

	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	assert.Equal(t, []bool{true, true, false}, changes)
}
