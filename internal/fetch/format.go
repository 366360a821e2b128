package fetch

import "regexp"

// The format selector is forwarded into the extractor's own expression
// language, so unconstrained pass-through is an injection risk. Only a
// small set of selector shapes is accepted; anything else is rejected.
var formatTemplates = []*regexp.Regexp{
	// best / worst, optionally stream-scoped: best, bestvideo, worstaudio
	regexp.MustCompile(`^(?:best|worst)(?:video|audio)?$`),
	// explicit format IDs, optionally merged: 137, 137+140
	regexp.MustCompile(`^\d{1,4}(?:\+\d{1,4})?$`),
	// merged best streams with an optional fallback: bestvideo+bestaudio/best
	regexp.MustCompile(`^bestvideo\+bestaudio(?:/best)?$`),
	// audio-first with fallback: bestaudio/best
	regexp.MustCompile(`^bestaudio/best$`),
	// height-capped video: bestvideo[height<=1080]+bestaudio/best
	regexp.MustCompile(`^bestvideo\[height<=\d{3,4}\](?:\+bestaudio)?(?:/best)?$`),
}

const maxSelectorLen = 64

// ValidFormatSelector reports whether the selector matches the allow-list.
func ValidFormatSelector(selector string) bool {
	if selector == "" || len(selector) > maxSelectorLen {
		return false
	}
	for _, re := range formatTemplates {
		if re.MatchString(selector) {
			return true
		}
	}
	return false
}
