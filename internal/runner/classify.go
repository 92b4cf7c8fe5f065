package runner

import (
	"strings"

	"github.com/jmylchreest/snipd/internal/models"
)

// Classification patterns matched against the stderr tail of a failed
// process, checked in order of specificity. Sources that are gone beat
// access walls beat network faults; anything unmatched is unknown and
// not retried.
var (
	sourceUnavailablePatterns = []string{
		"video unavailable",
		"this video is not available",
		"content isn't available",
		"has been removed",
		"no longer available",
		"private video",
		"account associated with this video has been terminated",
		"http error 404",
		"unable to extract video data",
		"unsupported url",
	}

	accessBlockedPatterns = []string{
		"sign in to confirm",
		"login required",
		"age-restricted",
		"age restricted",
		"not available in your country",
		"blocked it in your country",
		"geo restriction",
		"http error 403",
		"access denied",
		"captcha",
		"consent",
		"confirm you are not a bot",
	}

	transientPatterns = []string{
		"timed out",
		"timeout",
		"connection reset",
		"connection refused",
		"connection aborted",
		"temporary failure in name resolution",
		"network is unreachable",
		"unable to download webpage",
		"incomplete read",
		"http error 500",
		"http error 502",
		"http error 503",
		"http error 504",
		"transport error",
	}
)

// classify turns a process failure into a *models.RunError using the
// stderr tail. The first matching line wins within each category.
func classify(stderr *stderrTail, err error) error {
	output := strings.ToLower(stderr.String())

	if kind, line := matchKind(output); kind != models.FailureUnknown {
		return models.NewRunError(kind, line, err)
	}

	// Fall back to the last non-empty stderr line for the message.
	message := lastLine(stderr.String())
	if message == "" {
		message = err.Error()
	}
	return models.NewRunError(models.FailureUnknown, message, err)
}

// matchKind returns the failure kind for the first pattern found in the
// lowercased output, along with the matched pattern.
func matchKind(output string) (models.FailureKind, string) {
	for _, p := range sourceUnavailablePatterns {
		if strings.Contains(output, p) {
			return models.FailureSourceUnavailable, p
		}
	}
	for _, p := range accessBlockedPatterns {
		if strings.Contains(output, p) {
			return models.FailureAccessBlocked, p
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(output, p) {
			return models.FailureTransient, p
		}
	}
	return models.FailureUnknown, ""
}

// lastLine returns the last non-empty line of s.
func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
