package broadcast

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FailureKind is the taxonomy for failed send attempts.
type FailureKind int

const (
	// FailureThrottled: the remote rejected the send due to rate limiting.
	// Self-healing; sending pauses for the extracted wait and the attempt is
	// not charged against the retry budget.
	FailureThrottled FailureKind = iota
	// FailureUnreachable: the recipient blocked the bot or the account is
	// deactivated. Terminal for that recipient.
	FailureUnreachable
	// FailureTransient: anything else; retried up to the budget.
	FailureTransient
)

// Classification is the result of mapping a raw send error.
type Classification struct {
	Kind FailureKind
	// Wait is set for FailureThrottled only.
	Wait time.Duration
}

// defaultThrottleWait is used when a throttling error carries no parsable
// wait time.
const defaultThrottleWait = 60 * time.Second

// Phrases that mark a recipient as permanently unreachable. Matched
// case-insensitively as substrings.
var unreachablePhrases = []string{
	"blocked by the user",
	"user is deactivated",
	"chat not found",
	"user not found",
	"bot can't initiate conversation",
	"forbidden",
}

// Signals that the remote is throttling us. Matched case-insensitively.
var throttleMarkers = []string{
	"too many requests",
	"retry after",
	"retry in",
	"flood",
	"slow down",
	"429",
}

var throttleWaitMarker = regexp.MustCompile(`(?i)wait\s+\d+\s+second`)

// Ordered wait-extraction patterns; the first match wins. The final pattern
// accepts a bare trailing integer (e.g. "FloodWait: 7").
var throttleWaitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)retry after (\d+)`),
	regexp.MustCompile(`(?i)retry in (\d+)`),
	regexp.MustCompile(`(?i)wait (\d+) second`),
	regexp.MustCompile(`(?i)(\d+) second`),
	regexp.MustCompile(`(\d+)\s*$`),
}

// Classify maps a raw send error to the failure taxonomy. It is pure: the
// same error text always yields the same classification.
func Classify(err error) Classification {
	msg := strings.ToLower(err.Error())

	for _, phrase := range unreachablePhrases {
		if strings.Contains(msg, phrase) {
			return Classification{Kind: FailureUnreachable}
		}
	}

	if isThrottle(msg) {
		return Classification{Kind: FailureThrottled, Wait: extractWait(err.Error())}
	}

	return Classification{Kind: FailureTransient}
}

func isThrottle(lowerMsg string) bool {
	for _, m := range throttleMarkers {
		if strings.Contains(lowerMsg, m) {
			return true
		}
	}
	return throttleWaitMarker.MatchString(lowerMsg)
}

func extractWait(msg string) time.Duration {
	for _, re := range throttleWaitPatterns {
		m := re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		secs, err := strconv.Atoi(m[1])
		if err != nil || secs <= 0 {
			continue
		}
		return time.Duration(secs) * time.Second
	}
	return defaultThrottleWait
}
