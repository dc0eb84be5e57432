package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRun(t *testing.T) {
	now := time.Date(2024, 5, 1, 15, 4, 5, 0, time.UTC)
	cases := []struct {
		spec string
		want time.Time
	}{
		{"@daily", time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)},
		{"@hourly", time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC)},
		{"30 9 * * *", time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)},
		{"@every 90m", now.Add(90 * time.Minute)},
	}
	for _, c := range cases {
		got, err := NextRun(c.spec, now)
		require.NoError(t, err, c.spec)
		assert.True(t, got.Equal(c.want), "%s: got %s want %s", c.spec, got, c.want)
	}

	_, err := NextRun("61 * * * *", now)
	assert.Error(t, err)
}
