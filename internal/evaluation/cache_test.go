package evaluation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reportFor(username string) *Report {
	return &Report{Profile: ProfileSummary{Username: username}}
}

func TestCacheHitIsCaseInsensitive(t *testing.T) {
	c := NewCache(time.Minute, 10)
	c.Set("Octocat", reportFor("Octocat"))

	got, ok := c.Get("octocat")
	require.True(t, ok)
	assert.Equal(t, "Octocat", got.Profile.Username)

	_, ok = c.Get("someone-else")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(time.Minute, 10)
	now := time.Now()
	c.clock = func() time.Time { return now }

	c.Set("octocat", reportFor("octocat"))
	_, ok := c.Get("octocat")
	require.True(t, ok)

	now = now.Add(61 * time.Second)
	_, ok = c.Get("octocat")
	assert.False(t, ok)
	assert.Zero(t, c.Len(), "expired entry is dropped on lookup")
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(time.Minute, 3)
	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("user%d", i), reportFor("x"))
	}

	// Touch user0 so user1 becomes the LRU entry.
	_, ok := c.Get("user0")
	require.True(t, ok)

	c.Set("user3", reportFor("x"))

	assert.Equal(t, 3, c.Len())
	_, ok = c.Get("user1")
	assert.False(t, ok, "least recently used entry evicted")
	for _, key := range []string{"user0", "user2", "user3"} {
		_, ok := c.Get(key)
		assert.True(t, ok, key)
	}
}

func TestCacheSetRefreshesExisting(t *testing.T) {
	c := NewCache(time.Minute, 2)
	c.Set("octocat", reportFor("old"))
	c.Set("octocat", reportFor("new"))

	assert.Equal(t, 1, c.Len())
	got, ok := c.Get("octocat")
	require.True(t, ok)
	assert.Equal(t, "new", got.Profile.Username)
}
