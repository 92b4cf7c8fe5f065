package runner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/snipd/internal/models"
)

func tailOf(lines ...string) *stderrTail {
	tail := newStderrTail()
	for _, l := range lines {
		tail.add(l)
	}
	return tail
}

func TestClassify(t *testing.T) {
	exitErr := errors.New("yt-dlp: exit status 1")

	tests := []struct {
		name     string
		stderr   []string
		expected models.FailureKind
	}{
		{
			"removed video",
			[]string{"ERROR: [youtube] abc: Video unavailable. This video has been removed"},
			models.FailureSourceUnavailable,
		},
		{
			"http 404",
			[]string{"ERROR: unable to download video: HTTP Error 404: Not Found"},
			models.FailureSourceUnavailable,
		},
		{
			"private video",
			[]string{"ERROR: [youtube] abc: Private video. Sign in if you've been granted access"},
			models.FailureSourceUnavailable,
		},
		{
			"bot check",
			[]string{"ERROR: Sign in to confirm you're not a bot"},
			models.FailureAccessBlocked,
		},
		{
			"geo block",
			[]string{"ERROR: The uploader has blocked it in your country"},
			models.FailureAccessBlocked,
		},
		{
			"http 403",
			[]string{"ERROR: unable to download video data: HTTP Error 403: Forbidden"},
			models.FailureAccessBlocked,
		},
		{
			"connection reset",
			[]string{"ERROR: Connection reset by peer"},
			models.FailureTransient,
		},
		{
			"dns failure",
			[]string{"ERROR: Temporary failure in name resolution"},
			models.FailureTransient,
		},
		{
			"http 503",
			[]string{"ERROR: HTTP Error 503: Service Unavailable"},
			models.FailureTransient,
		},
		{
			"unmatched output",
			[]string{"something exploded in a novel way"},
			models.FailureUnknown,
		},
		{
			"empty stderr",
			nil,
			models.FailureUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tailOf(tt.stderr...), exitErr)

			var runErr *models.RunError
			require.ErrorAs(t, err, &runErr)
			assert.Equal(t, tt.expected, runErr.Kind)
			assert.ErrorIs(t, err, exitErr)
		})
	}

	t.Run("source unavailability beats transient noise", func(t *testing.T) {
		tail := tailOf(
			"WARNING: retrying after timeout",
			"ERROR: Video unavailable",
		)
		err := classify(tail, exitErr)

		var runErr *models.RunError
		require.ErrorAs(t, err, &runErr)
		assert.Equal(t, models.FailureSourceUnavailable, runErr.Kind)
	})

	t.Run("unknown failures carry the last stderr line", func(t *testing.T) {
		tail := tailOf("first line", "the actual complaint", "")
		err := classify(tail, exitErr)

		var runErr *models.RunError
		require.ErrorAs(t, err, &runErr)
		assert.Equal(t, "the actual complaint", runErr.Message)
	})

	t.Run("unknown with no stderr falls back to the error", func(t *testing.T) {
		err := classify(newStderrTail(), exitErr)

		var runErr *models.RunError
		require.ErrorAs(t, err, &runErr)
		assert.Equal(t, exitErr.Error(), runErr.Message)
	})
}
