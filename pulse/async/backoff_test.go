package async

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{-1, time.Minute},
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{5, 32 * time.Minute},
		{20, (1 << 20) * time.Minute},
		{63, (1 << 20) * time.Minute},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Backoff(tc.retryCount), "retryCount=%d", tc.retryCount)
	}
}

func TestNextRetryAt(t *testing.T) {
	assert.Equal(t, t0.Add(8*time.Minute), NextRetryAt(t0, 3))
}
