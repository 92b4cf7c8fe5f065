package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentDisposition(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		expected string
	}{
		{
			"plain ascii",
			"clip.mp3",
			`attachment; filename="clip.mp3"`,
		},
		{
			"ascii with spaces",
			"my clip.mp3",
			`attachment; filename="my clip.mp3"`,
		},
		{
			"diacritics fold to ascii fallback",
			"café.mp3",
			`attachment; filename="cafe.mp3"; filename*=UTF-8''caf%C3%A9.mp3`,
		},
		{
			"non-latin becomes underscores",
			"曲.mp3",
			`attachment; filename="_.mp3"; filename*=UTF-8''%E6%9B%B2.mp3`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, contentDisposition(tt.filename))
		})
	}
}

func TestASCIIFold(t *testing.T) {
	assert.Equal(t, "resume.mp3", asciiFold("résumé.mp3"))
	assert.Equal(t, "_quoted_", asciiFold(`"quoted"`))
	assert.Equal(t, "back_slash", asciiFold(`back\slash`))
}
