package fetch

import (
	"errors"
	"strings"
)

// Kind is the typed classification of an extractor failure. It is produced
// exactly once at the collaborator boundary by Classify; downstream logic
// switches on the kind, never on message substrings.
type Kind string

// Failure kinds.
const (
	// Fatal kinds: retrying cannot help.
	KindFormatUnavailable Kind = "format_unavailable"
	KindRestricted        Kind = "restricted"
	KindBotCheck          Kind = "bot_check"
	KindAgeRestricted     Kind = "age_restricted"
	// Transient kinds: known to clear up on retry.
	KindRateLimited Kind = "rate_limited"
	KindForbidden   Kind = "forbidden"
	// KindUnknown covers everything else; treated as transient since the
	// upstream frequently fails spuriously.
	KindUnknown Kind = "unknown"
)

// Retryable reports whether a failure of this kind should be retried.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindForbidden, KindUnknown:
		return true
	default:
		return false
	}
}

// DownloadError is a classified extractor failure. Message is safe to show
// to the caller; the underlying cause is kept for logging only.
type DownloadError struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *DownloadError) Error() string {
	return e.Message
}

// Unwrap exposes the raw extractor error for logging.
func (e *DownloadError) Unwrap() error {
	return e.cause
}

// Sentinel errors surfaced by the job manager and worker routine.
var (
	// ErrServerBusy signals pool saturation; the caller may retry later.
	ErrServerBusy = errors.New("server busy, try again later")
	// ErrInvalidFormat rejects a format selector outside the allow-list.
	ErrInvalidFormat = errors.New("invalid format selector")
	// ErrOutputNotFound means no artifact survived final-file resolution.
	ErrOutputNotFound = errors.New("could not determine final output file")
	// ErrCorruptOutput means the artifact is below the minimum size.
	ErrCorruptOutput = errors.New("downloaded file too small or corrupted")
	// ErrProbeTimeout means the metadata probe missed its deadline.
	ErrProbeTimeout = errors.New("metadata probe timed out")
	// ErrNotFound is returned by lookups for unknown job IDs.
	ErrNotFound = errors.New("job not found")
)

// Substring matching on upstream error text is intentionally confined to
// this one function; upstream messages change between releases and this is
// the single place that has to track them.
var classifyTable = []struct {
	needle string
	kind   Kind
}{
	{"requested format is not available", KindFormatUnavailable},
	{"sign in to confirm your age", KindAgeRestricted},
	{"age-restricted", KindAgeRestricted},
	{"sign in to confirm", KindBotCheck},
	{"private video", KindRestricted},
	{"video unavailable", KindRestricted},
	{"has been removed", KindRestricted},
	{"account associated with this video has been terminated", KindRestricted},
	{"429", KindRateLimited},
	{"too many requests", KindRateLimited},
	{"rate-limit", KindRateLimited},
	{"403", KindForbidden},
	{"forbidden", KindForbidden},
}

var kindMessages = map[Kind]string{
	KindFormatUnavailable: "Requested format is not available for this video",
	KindRestricted:        "Video is private, unavailable, or has been removed",
	KindBotCheck:          "Video requires login/cookies or is blocked by a bot check; configure a cookies file",
	KindAgeRestricted:     "Video is age-restricted; configure a cookies file from a signed-in browser",
	KindRateLimited:       "Upstream is rate limiting requests",
	KindForbidden:         "Upstream refused the request",
	KindUnknown:           "Download failed",
}

// Classify translates a raw extractor error into a DownloadError with a
// typed kind and a user-facing message. Passing a nil error returns nil; an
// already classified error is returned as-is.
func Classify(err error) *DownloadError {
	if err == nil {
		return nil
	}
	var de *DownloadError
	if errors.As(err, &de) {
		return de
	}
	text := strings.ToLower(err.Error())
	kind := KindUnknown
	for _, entry := range classifyTable {
		if strings.Contains(text, entry.needle) {
			kind = entry.kind
			break
		}
	}
	return &DownloadError{Kind: kind, Message: kindMessages[kind], cause: err}
}

// ExhaustedError converts a transient failure into the fatal, user-visible
// error reported after the retry budget runs out.
func ExhaustedError(last *DownloadError) *DownloadError {
	msg := "Upstream kept blocking the download; configure a cookies file and try again"
	if last != nil {
		return &DownloadError{Kind: last.Kind, Message: msg, cause: last.cause}
	}
	return &DownloadError{Kind: KindUnknown, Message: msg}
}
