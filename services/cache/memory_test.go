package cachesvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	type report struct {
		Total int `json:"total"`
	}

	t.Run("miss", func(t *testing.T) {
		var r report
		found, err := c.Get(ctx, "report", &r)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("hit then expire", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "report", report{Total: 3}, time.Minute))

		var r report
		found, err := c.Get(ctx, "report", &r)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 3, r.Total)

		now = now.Add(time.Minute)
		found, err = c.Get(ctx, "report", &r)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("incr", func(t *testing.T) {
		n, err := c.Incr(ctx, "gen")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = c.Incr(ctx, "gen")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		var gen int64
		found, err := c.Get(ctx, "gen", &gen)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(2), gen)
	})

	t.Run("incr non integer", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "word", "abc", 0))
		_, err := c.Incr(ctx, "word")
		assert.Error(t, err)
	})
}
