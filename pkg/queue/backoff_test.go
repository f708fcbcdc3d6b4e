package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	base := 2 * time.Second
	max := 60 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 2 * time.Second},
		{attempt: 1, want: 2 * time.Second},
		{attempt: 2, want: 4 * time.Second},
		{attempt: 3, want: 8 * time.Second},
		{attempt: 5, want: 32 * time.Second},
		{attempt: 6, want: 60 * time.Second},
		{attempt: 100, want: 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(base, max, tt.attempt), "attempt %d", tt.attempt)
	}

	assert.Zero(t, Backoff(0, max, 3))
	assert.Equal(t, 16*time.Second, Backoff(base, 0, 4), "no cap")
}

func TestUnrecoverable(t *testing.T) {
	assert.Nil(t, Unrecoverable(nil))

	err := Unrecoverable(ErrJobStalled)
	assert.True(t, IsUnrecoverable(err))
	assert.ErrorIs(t, err, ErrJobStalled)
	assert.Equal(t, ErrJobStalled.Error(), err.Error())
	assert.False(t, IsUnrecoverable(ErrJobStalled))
}
