package engine

import "strings"

// Challenge page markers. A static fetch that lands on one of these pages did
// not reach the real content; the caller decides whether to retry with the
// browser engine or fail the job.
var challengeMarkers = []string{
	// Cloudflare
	"cf-browser-verification",
	"challenge-platform",
	"cf_chl_opt",
	"_cf_chl",
	"checking your browser",
	"just a moment...",
	"attention required! | cloudflare",
	// Captcha widgets
	"g-recaptcha",
	"grecaptcha",
	"h-captcha",
	"hcaptcha",
	"data-sitekey",
	"cf-turnstile",
	"turnstile",
	// Generic bot walls
	"access to this page has been denied",
	"please verify you are human",
	"are you a robot",
	"bot detected",
}

// IsChallengePage reports whether a response looks like a bot-protection
// interstitial rather than real content. 403 and 503 with a marker body are
// the common cases; a marker alone is enough regardless of status.
func IsChallengePage(statusCode int, body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	if (statusCode == 403 || statusCode == 503) && len(strings.TrimSpace(body)) < 2048 {
		return true
	}
	return false
}
