package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowEnforcesBurstThenRejects(t *testing.T) {
	l := New(60, false)
	allowed := 0
	rejected := 0
	for i := 0; i < defaultBurst+5; i++ {
		ok, retryAfter := l.Allow("hash1", "append")
		if ok {
			allowed++
		} else {
			rejected++
			assert.Greater(t, retryAfter, 0)
		}
	}
	assert.Equal(t, defaultBurst, allowed)
	assert.Equal(t, 5, rejected)
}

func TestDisabledAlwaysAllows(t *testing.T) {
	l := New(1, true)
	for i := 0; i < 100; i++ {
		ok, _ := l.Allow("hash1", "write")
		assert.True(t, ok)
	}
}

func TestBucketsAreIndependentPerAction(t *testing.T) {
	l := New(60, false)
	for i := 0; i < defaultBurst; i++ {
		ok, _ := l.Allow("hash1", "read")
		assert.True(t, ok)
	}
	ok, _ := l.Allow("hash1", "write")
	assert.True(t, ok, "a different action gets its own bucket")
}
