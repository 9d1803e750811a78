package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute)

	assert.True(t, b.Allow())
	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.Allow())
	b.RecordFailure()

	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
	assert.Equal(t, 1, b.Opens())
}

func TestBreaker_AdmitsSingleCallAfterCooldown(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond)
	b.RecordFailure()
	assert.False(t, b.Allow())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.Allow())
	// Other callers stay rejected until that call reports back.
	assert.False(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_FailedHalfOpenCallReopens(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond)
	b.RecordFailure()

	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.Allow())
	b.RecordFailure()

	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
	assert.Equal(t, 2, b.Opens())
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}
