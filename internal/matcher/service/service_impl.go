package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/agext/levenshtein"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/docflowhq/docflow/internal/matcher/domain"
)

const defaultThreshold = 0.70

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      domain.Repository
	threshold float64
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("matcher.service"),
		repo:      p.Repo,
		threshold: defaultThreshold,
	}
}

// Match resolves the extracted fields to a supplier. Exact code match is
// checked first and always wins; fuzzy name matching is only consulted when
// no code matched or none was provided.
func (s *Service) Match(ctx context.Context, fields map[string]string) (domain.MatchResult, error) {
	code := strings.TrimSpace(firstAliasValue(fields, codeAliases))
	name := strings.TrimSpace(firstAliasValue(fields, nameAliases))

	if code != "" {
		supplier, err := s.repo.FindActiveByCode(ctx, s.db, code)
		if err != nil {
			return domain.MatchResult{Method: domain.MatchMethodNone}, err
		}
		if supplier != nil {
			id := supplier.ID
			return domain.MatchResult{
				SupplierID: &id,
				Method:     domain.MatchMethodCode,
				Confidence: 1.0,
			}, nil
		}
	}

	if name != "" {
		result, err := s.matchByName(ctx, name)
		if err != nil {
			return domain.MatchResult{Method: domain.MatchMethodNone}, err
		}
		if result.Matched() {
			return result, nil
		}
		return domain.MatchResult{
			Method: domain.MatchMethodNone,
			Error:  noMatchReason(code, name, result.Confidence, s.threshold),
		}, nil
	}

	return domain.MatchResult{
		Method: domain.MatchMethodNone,
		Error:  noMatchReason(code, name, 0, s.threshold),
	}, nil
}

// matchByName scores every active supplier name and accepts the best score
// at or above the threshold. Ties break on earliest creation order, which
// ListActive already guarantees.
func (s *Service) matchByName(ctx context.Context, name string) (domain.MatchResult, error) {
	suppliers, err := s.repo.ListActive(ctx, s.db)
	if err != nil {
		return domain.MatchResult{}, err
	}

	var best *domain.Supplier
	var bestScore float64
	for i := range suppliers {
		score := levenshtein.Similarity(
			strings.ToLower(name),
			strings.ToLower(suppliers[i].Name),
			nil,
		)
		if score > bestScore {
			bestScore = score
			best = &suppliers[i]
		}
	}

	if best == nil || bestScore < s.threshold {
		return domain.MatchResult{Method: domain.MatchMethodNone, Confidence: bestScore}, nil
	}

	id := best.ID
	s.log.Debug("fuzzy name match accepted",
		zap.String("input", name),
		zap.String("matched", best.Name),
		zap.Float64("score", bestScore),
	)
	return domain.MatchResult{
		SupplierID: &id,
		Method:     domain.MatchMethodNameFuzzy,
		Confidence: bestScore,
	}, nil
}

// noMatchReason explains exactly which signal was missing or insufficient so
// operators can self-serve.
func noMatchReason(code, name string, bestScore, threshold float64) string {
	switch {
	case code == "" && name == "":
		return "no supplier code or name was extracted from the document; map an account number or supplier name field in the template"
	case code != "" && name == "":
		return fmt.Sprintf("no active supplier has code %q; create a supplier with that code first", code)
	case code != "":
		return fmt.Sprintf("no active supplier has code %q and no name matched %q with similarity >= %.2f (best %.2f)", code, name, threshold, bestScore)
	default:
		return fmt.Sprintf("no supplier name matched %q with similarity >= %.2f (best %.2f)", name, threshold, bestScore)
	}
}
