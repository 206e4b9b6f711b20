package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCount(t *testing.T) {
	c := NewCounter()
	assert.Equal(t, 0, c.Count(""))
	assert.Greater(t, c.Count("Find me an electric kettle under fifty pounds"), 3)
}

func TestNilCounterFallsBack(t *testing.T) {
	var c *Counter
	assert.Equal(t, 2, c.Count("12345678"))
}

func TestTruncate(t *testing.T) {
	c := NewCounter()
	long := strings.Repeat("kettle review ", 500)

	out := c.Truncate(long, 50)
	assert.Less(t, len(out), len(long))
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.Equal(t, "short", c.Truncate("short", 50))
}

func TestFitTailKeepsNewest(t *testing.T) {
	c := NewCounter()
	items := []string{
		strings.Repeat("old message ", 100),
		"recent question",
		"latest answer",
	}

	kept := c.FitTail(items, 20)
	assert.Equal(t, []string{"recent question", "latest answer"}, kept)
	assert.Empty(t, c.FitTail(items, 0))
}
