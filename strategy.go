package offlinecache

import "regexp"

// Strategy is a caching policy deciding whether a request is answered from
// the namespace or from the network.
type Strategy int

const (
	NetworkFirst Strategy = iota
	CacheFirst
	StaleWhileRevalidate
)

func (s Strategy) String() string {
	switch s {
	case CacheFirst:
		return "cacheFirst"
	case NetworkFirst:
		return "networkFirst"
	case StaleWhileRevalidate:
		return "staleWhileRevalidate"
	default:
		return "unknown"
	}
}

// StrategyRule binds an ordered pattern set to a strategy.
type StrategyRule struct {
	Patterns []*regexp.Regexp
	Strategy Strategy
}

// Matches reports whether any pattern matches path.
func (r StrategyRule) Matches(path string) bool {
	for _, pattern := range r.Patterns {
		if pattern.MatchString(path) {
			return true
		}
	}
	return false
}

// Rules is evaluated in declaration order.
type Rules []StrategyRule

// Select returns the strategy of the first matching rule, or NetworkFirst.
func (rules Rules) Select(path string) Strategy {
	for _, rule := range rules {
		if rule.Matches(path) {
			return rule.Strategy
		}
	}
	return NetworkFirst
}

// DefaultRules routes static assets cache-first, API and job state
// network-first, and pages stale-while-revalidate. "/api/" paths ending in a
// slash hit the network-first rule before the page rule.
func DefaultRules() Rules {
	return Rules{
		{
			Strategy: CacheFirst,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\.(?:js|css|woff2?|ttf|otf|eot)$`),
				regexp.MustCompile(`/_next/static/`),
			},
		},
		{
			Strategy: NetworkFirst,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`/api/`),
				regexp.MustCompile(`/result/`),
				regexp.MustCompile(`/progress/`),
			},
		},
		{
			Strategy: StaleWhileRevalidate,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`/$`),
				regexp.MustCompile(`/submit`),
				regexp.MustCompile(`/jobs`),
				regexp.MustCompile(`/help`),
			},
		},
	}
}
