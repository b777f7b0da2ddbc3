package debounce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer(t *testing.T) {
	now := time.Unix(1000, 0)
	d := NewDebouncer(2 * time.Second)
	d.now = func() time.Time { return now }

	assert.True(t, d.CanProcessRequest("42:p:home"))
	assert.False(t, d.CanProcessRequest("42:p:home"))
	assert.True(t, d.CanProcessRequest("42:p:mods"), "other keys are independent")

	now = now.Add(2 * time.Second)
	assert.True(t, d.CanProcessRequest("42:p:home"))

	now = now.Add(5 * time.Second)
	assert.Equal(t, 2, d.Cleanup())
}

func TestNewDebouncer_DefaultTimeout(t *testing.T) {
	d := NewDebouncer(0)
	assert.Equal(t, DefaultTimeout, d.timeout)
}
