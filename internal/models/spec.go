package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// OutputFormat is the container/codec the artifact is produced in.
type OutputFormat string

const (
	// FormatMP3 produces an MP3 audio snippet.
	FormatMP3 OutputFormat = "mp3"
	// FormatWAV produces a WAV audio snippet.
	FormatWAV OutputFormat = "wav"
	// FormatMP4 produces an MP4 video snippet.
	FormatMP4 OutputFormat = "mp4"
)

// Valid reports whether the format is one of the supported outputs.
func (f OutputFormat) Valid() bool {
	switch f {
	case FormatMP3, FormatWAV, FormatMP4:
		return true
	}
	return false
}

// IsAudio reports whether the format is audio-only.
func (f OutputFormat) IsAudio() bool {
	return f == FormatMP3 || f == FormatWAV
}

// ContentType returns the MIME type for the format.
func (f OutputFormat) ContentType() string {
	switch f {
	case FormatMP3:
		return "audio/mpeg"
	case FormatWAV:
		return "audio/wav"
	case FormatMP4:
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file extension for the format, without the dot.
func (f OutputFormat) Extension() string {
	return string(f)
}

// ExtractionSpec is the full description of one extraction: the source,
// the time range, and the output shape. Two specs with equal fingerprints
// describe the same artifact.
type ExtractionSpec struct {
	URL          string       `json:"url"`
	StartSeconds int          `json:"start_seconds"`
	EndSeconds   int          `json:"end_seconds"`
	ExtractFull  bool         `json:"extract_full"`
	Format       OutputFormat `json:"format"`
	Quality      string       `json:"quality"` // audio bitrate, e.g. "192k"
	Title        string       `json:"title,omitempty"`
	Artist       string       `json:"artist,omitempty"`
	Filename     string       `json:"filename,omitempty"`
}

// Fingerprint returns the content address of the artifact this spec
// produces: a SHA-256 over every input that affects the output bytes.
// Title, artist and filename are presentation only and excluded.
func (s ExtractionSpec) Fingerprint() string {
	end := strconv.Itoa(s.EndSeconds)
	if s.ExtractFull {
		end = "full"
	}
	canonical := strings.Join([]string{
		s.URL,
		strconv.Itoa(s.StartSeconds),
		end,
		string(s.Format),
		s.Quality,
	}, "\xff")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// SnippetDuration returns the requested range length, or 0 for a full
// extraction (whose length is only known after probing).
func (s ExtractionSpec) SnippetDuration() time.Duration {
	if s.ExtractFull {
		return 0
	}
	return time.Duration(s.EndSeconds-s.StartSeconds) * time.Second
}

// Validate checks the spec for well-formedness. maxSnippet bounds the
// requested range; 0 disables the check.
func (s ExtractionSpec) Validate(maxSnippet time.Duration) error {
	if s.URL == "" {
		return ErrURLRequired
	}
	u, err := url.Parse(s.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ErrInvalidURL
	}
	if !s.Format.Valid() {
		return ErrInvalidFormat
	}
	if s.StartSeconds < 0 {
		return ErrValidation{Field: "start_time", Message: "must not be negative"}
	}
	if !s.ExtractFull {
		if s.EndSeconds == 0 {
			return ErrEndTimeRequired
		}
		if s.EndSeconds <= s.StartSeconds {
			return ErrInvalidTimeRange
		}
		if maxSnippet > 0 && s.SnippetDuration() > maxSnippet {
			return ErrSnippetTooLong
		}
	}
	return nil
}

// timecodePattern accepts SS, MM:SS and HH:MM:SS with optional fractional
// seconds (fraction is truncated).
var timecodePattern = regexp.MustCompile(`^(?:(\d+):)?(?:(\d+):)?(\d+)(?:\.\d+)?$`)

// ParseTimecode converts a time string into whole seconds.
// Accepted forms: "90", "1:30", "01:30:00".
func ParseTimecode(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidTimecode
	}
	m := timecodePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimecode, s)
	}

	seconds, err := strconv.Atoi(m[3])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimecode, s)
	}

	switch {
	case m[1] != "" && m[2] != "": // HH:MM:SS
		hours, _ := strconv.Atoi(m[1])
		minutes, _ := strconv.Atoi(m[2])
		if minutes > 59 || seconds > 59 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimecode, s)
		}
		return hours*3600 + minutes*60 + seconds, nil
	case m[1] != "": // MM:SS
		minutes, _ := strconv.Atoi(m[1])
		if seconds > 59 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimecode, s)
		}
		return minutes*60 + seconds, nil
	default: // SS
		return seconds, nil
	}
}

// invalidFilenameChars are stripped from suggested download names.
var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// maxFilenameLength caps the base name, leaving room for the extension.
const maxFilenameLength = 120

// SanitizeFilename strips characters that are unsafe in filenames and
// caps the length. Returns fallback when nothing usable remains.
func SanitizeFilename(name, fallback string) string {
	name = invalidFilenameChars.ReplaceAllString(name, "")
	name = strings.Trim(strings.TrimSpace(name), ".")
	if len(name) > maxFilenameLength {
		name = name[:maxFilenameLength]
	}
	if name == "" {
		return fallback
	}
	return name
}

// SuggestedFilename returns the download name for the artifact: the
// requested filename, falling back to the title, falling back to "snippet",
// with the format extension appended.
func (s ExtractionSpec) SuggestedFilename() string {
	base := s.Filename
	if base == "" {
		base = s.Title
	}
	base = SanitizeFilename(base, "snippet")
	return base + "." + s.Format.Extension()
}
