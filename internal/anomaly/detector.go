package anomaly

import (
	"log/slog"
	"strings"
	"time"

	"github.com/medigate/backend/internal/models"
)

// Detection thresholds
const (
	rateLimitWindow      = 60 * time.Second
	rateLimitMaxRequests = 100
	maxFailedLogins      = 5
	maxServerErrors      = 5
	maxResponseSize      = 5_000_000
)

var (
	injectionMarkers = []string{"../", "%00", "<script>"}
	// Case-sensitive automation markers, matched as substrings of the
	// declared user agent.
	automationMarkers = []string{"curl", "python-requests", "bot"}
	// Mutating methods never expected on the login route.
	abnormalLoginMethods = []string{"DELETE", "PUT", "PATCH"}
)

// Rule is a pure predicate over a client's history snapshot. recent is the
// subset of history within the trailing 60-second window.
type Rule struct {
	Reason string
	Match  func(history, recent []models.RequestRecord) bool
}

// Detector evaluates a client's rolling history against an ordered rule set,
// stopping at the first match. A client is flagged for exactly one reason.
type Detector struct {
	flags  *FlagStore
	rules  []Rule
	logger *slog.Logger
	now    func() time.Time
}

func NewDetector(flags *FlagStore, logger *slog.Logger) *Detector {
	return &Detector{
		flags:  flags,
		rules:  defaultRules(),
		logger: logger,
		now:    time.Now,
	}
}

// Evaluate tests the rules in priority order against the history snapshot and
// flags the client on the first match. Evaluation reads the snapshot taken at
// record time; under concurrency detection may trail the triggering event by
// one request.
func (d *Detector) Evaluate(clientAddr string, history []models.RequestRecord) {
	cutoff := d.now().UTC().Add(-rateLimitWindow)
	recent := history[:0:0]
	for _, rec := range history {
		if rec.Timestamp.After(cutoff) {
			recent = append(recent, rec)
		}
	}

	for _, rule := range d.rules {
		if rule.Match(history, recent) {
			if d.flags.Flag(clientAddr, rule.Reason) {
				d.logger.Warn("client flagged",
					slog.String("client_addr", clientAddr),
					slog.String("reason", rule.Reason))
			}
			return
		}
	}
}

// defaultRules returns the rule set in fixed priority order.
func defaultRules() []Rule {
	return []Rule{
		{
			// The retained history is itself bounded to 100 entries, so the
			// threshold fires when the entire retained window fits in 60s.
			Reason: "rate limit exceeded",
			Match: func(_, recent []models.RequestRecord) bool {
				return len(recent) >= rateLimitMaxRequests
			},
		},
		{
			Reason: "repeated failed logins",
			Match: func(history, _ []models.RequestRecord) bool {
				count := 0
				for _, rec := range history {
					if rec.Status == 401 {
						count++
					}
				}
				return count > maxFailedLogins
			},
		},
		{
			Reason: "frequent server errors",
			Match: func(history, _ []models.RequestRecord) bool {
				count := 0
				for _, rec := range history {
					if rec.Status >= 500 {
						count++
					}
				}
				return count > maxServerErrors
			},
		},
		{
			Reason: "abnormal method on login endpoint",
			Match: func(history, _ []models.RequestRecord) bool {
				for _, rec := range history {
					if !strings.Contains(rec.Path, "login") {
						continue
					}
					for _, method := range abnormalLoginMethods {
						if rec.Method == method {
							return true
						}
					}
				}
				return false
			},
		},
		{
			Reason: "possible path traversal or XSS",
			Match: func(history, _ []models.RequestRecord) bool {
				for _, rec := range history {
					for _, marker := range injectionMarkers {
						if strings.Contains(rec.Path, marker) {
							return true
						}
					}
				}
				return false
			},
		},
		{
			Reason: "suspicious user agent",
			Match: func(history, _ []models.RequestRecord) bool {
				for _, rec := range history {
					if rec.UserAgent == "" {
						return true
					}
					for _, marker := range automationMarkers {
						if strings.Contains(rec.UserAgent, marker) {
							return true
						}
					}
				}
				return false
			},
		},
		{
			Reason: "large unexpected upload",
			Match: func(history, _ []models.RequestRecord) bool {
				for _, rec := range history {
					if rec.ResponseSize > maxResponseSize {
						return true
					}
				}
				return false
			},
		},
	}
}
