package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_DisabledByDefaultAllowsEverything(t *testing.T) {
	l := New(DefaultConfig(), nil)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("global"))
	}
}

func TestLimiter_RejectsOnceBucketExhausted(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 2}, nil)
	assert.True(t, l.Allow("caller-a"))
	assert.True(t, l.Allow("caller-a"))
	assert.False(t, l.Allow("caller-a"))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1}, nil)
	assert.True(t, l.Allow("caller-a"))
	assert.False(t, l.Allow("caller-a"))
	assert.True(t, l.Allow("caller-b"))
}

func TestLimiter_RefillsOverTime(t *testing.T) {
	l := New(Config{RequestsPerMinute: 6000, BurstSize: 1}, nil)
	assert.True(t, l.Allow("caller-a"))
	assert.False(t, l.Allow("caller-a"))
	time.Sleep(15 * time.Millisecond)
	assert.True(t, l.Allow("caller-a"))
}
