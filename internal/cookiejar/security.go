package cookiejar

import (
	"strings"
	"time"
)

// Classification is the closed cookie-purpose taxonomy from spec §4.E.
type Classification string

const (
	ClassAuthentication Classification = "authentication"
	ClassSecurity       Classification = "security"
	ClassAnalytics      Classification = "analytics"
	ClassAdvertising    Classification = "advertising"
	ClassPreferences    Classification = "preferences"
	ClassFunctional     Classification = "functional"
)

// Severity is the closed severity scale for issues.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Issue is one finding from the analyzer.
type Issue struct {
	Code     string
	Severity Severity
}

// Analysis is the per-cookie security report.
type Analysis struct {
	Classification Classification
	Issues         []Issue
	Score          int
}

var classificationSubstrings = []struct {
	class Classification
	subs  []string
}{
	{ClassAuthentication, []string{"session", "sid", "auth", "token", "jwt", "sso"}},
	{ClassSecurity, []string{"csrf", "xsrf"}},
	{ClassAnalytics, []string{"_ga", "_gid", "utm"}},
	{ClassAdvertising, []string{"ad", "doubleclick"}},
	{ClassPreferences, []string{"pref", "settings", "lang"}},
}

func classify(name string) Classification {
	lower := strings.ToLower(name)
	for _, rule := range classificationSubstrings {
		for _, sub := range rule.subs {
			if strings.Contains(lower, sub) {
				return rule.class
			}
		}
	}
	return ClassFunctional
}

const issuePenaltyHigh = 25
const issuePenaltyMedium = 10
const issuePenaltyLow = 3

const longExpiryThreshold = 365 * 24 * time.Hour

// Analyze applies spec §4.E's classification and issue rules to one cookie.
func Analyze(c Cookie) Analysis {
	class := classify(c.Name)
	sensitive := class == ClassAuthentication || class == ClassSecurity

	var issues []Issue
	if !c.Secure {
		sev := SeverityMedium
		if sensitive {
			sev = SeverityHigh
		}
		issues = append(issues, Issue{Code: "missing_secure", Severity: sev})
	}
	if !c.HTTPOnly {
		sev := SeverityMedium
		if sensitive {
			sev = SeverityHigh
		}
		issues = append(issues, Issue{Code: "missing_httponly", Severity: sev})
	}
	if c.SameSite == "" {
		issues = append(issues, Issue{Code: "missing_samesite", Severity: SeverityMedium})
	}
	if c.ExpirationDate != nil && c.ExpirationDate.Sub(time.Now()) > longExpiryThreshold {
		issues = append(issues, Issue{Code: "long_expiry", Severity: SeverityLow})
	}

	score := 100
	for _, iss := range issues {
		switch iss.Severity {
		case SeverityHigh:
			score -= issuePenaltyHigh
		case SeverityMedium:
			score -= issuePenaltyMedium
		case SeverityLow:
			score -= issuePenaltyLow
		}
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return Analysis{Classification: class, Issues: issues, Score: score}
}

// AnalyzeJar scores every cookie in a jar's live/stored set.
func AnalyzeJar(cookies []Cookie) []Analysis {
	out := make([]Analysis, len(cookies))
	for i, c := range cookies {
		out[i] = Analyze(c)
	}
	return out
}
