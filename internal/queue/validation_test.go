package queue

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeReason(t *testing.T) {
	assert.Equal(t, "boom", SanitizeReason("boom\ngoroutine 1 [running]:\nmain.main()"))
	assert.Equal(t, "", SanitizeReason(""))

	long := strings.Repeat("x", 400)
	got := SanitizeReason(long)
	assert.Len(t, got, 256)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestCalculateBackoff(t *testing.T) {
	base, maxBackoff := 100*time.Millisecond, 5*time.Second

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, base},
		{-1, base},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{6, maxBackoff},
		{100, maxBackoff},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CalculateBackoff(tt.retry, base, maxBackoff), "retry %d", tt.retry)
	}
}

func TestEnqueue_SpaceCheckPasses(t *testing.T) {
	opts := DefaultOptions()
	opts.MinFreeDiskSpace = 1
	q := setupQueue(t, opts)

	_, err := q.Enqueue([]byte("fits"))
	require.NoError(t, err)
	assertCounts(t, q, 1, 0, 0)
}
