package domain

import "context"

// Service resolves an extracted code or name to a supplier. Exact code match
// wins; fuzzy name match is the fallback.
type Service interface {
	Match(ctx context.Context, fields map[string]string) (MatchResult, error)
}
