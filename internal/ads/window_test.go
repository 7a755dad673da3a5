package ads

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInWindowAllDay(t *testing.T) {
	for h := 0; h < 24; h++ {
		assert.True(t, InWindow(h, 9, 9), "hour %d", h)
	}
}

func TestInWindowSameDay(t *testing.T) {
	for h := 0; h < 24; h++ {
		assert.Equal(t, h >= 6 && h <= 10, InWindow(h, 6, 10), "hour %d", h)
	}
}

func TestInWindowWrapping(t *testing.T) {
	for h := 0; h < 24; h++ {
		want := h >= 18 || h <= 2
		assert.Equal(t, want, InWindow(h, 18, 2), "hour %d", h)
	}
}

func TestWindowClause(t *testing.T) {
	got := WindowClause("s", "e", "$1")
	want := "((s = e) OR (s < e AND s <= $1 AND e >= $1) OR (s > e AND (s <= $1 OR e >= $1)))"
	assert.Equal(t, want, got)
}
