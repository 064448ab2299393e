package worker

import "github.com/vietddude/sifter/internal/core/domain"

// FilterCriteria configures the default profile filter. The rule set is
// pluggable; any domain.FilterFunc may replace DefaultFilter.
type FilterCriteria struct {
	// MaxCommendations is the ceiling above which a profile always fails,
	// regardless of medals.
	MaxCommendations int

	// RequiredMedals lists medals of which at least one must be present.
	// Empty means no medal requirement.
	RequiredMedals []string
}

// DefaultFilter builds the standard filter predicate.
func DefaultFilter(c FilterCriteria) domain.FilterFunc {
	required := make(map[string]struct{}, len(c.RequiredMedals))
	for _, m := range c.RequiredMedals {
		required[m] = struct{}{}
	}

	return func(p *domain.Profile) bool {
		if p == nil {
			return false
		}
		if p.VacBanned {
			return false
		}
		// Commendation ceiling trumps everything else.
		if p.Commendations > c.MaxCommendations {
			return false
		}
		if len(required) == 0 {
			return true
		}
		for _, m := range p.Medals {
			if _, ok := required[m]; ok {
				return true
			}
		}
		return false
	}
}
