// Package matcher links external payroll employees to internally-held staff
// records and surfaces field-level conflicts for manual review.
package matcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/rpattn/staffsync/internal/domain"
	"github.com/rpattn/staffsync/internal/repository"
)

// defaultSimilarityThreshold is the minimum normalized name similarity
// (0-100) a fuzzy candidate must reach to count as a match.
const defaultSimilarityThreshold = 80

// Service computes EmployeeMatch results on demand; nothing here is
// persisted.
type Service struct {
	staff     repository.StaffRepository
	threshold int
}

// Option customizes a Service.
type Option func(*Service)

// WithThreshold overrides the fuzzy similarity threshold.
func WithThreshold(threshold int) Option {
	return func(s *Service) {
		if threshold > 0 && threshold <= 100 {
			s.threshold = threshold
		}
	}
}

// NewService creates a matcher.
func NewService(staff repository.StaffRepository, opts ...Option) *Service {
	service := &Service{
		staff:     staff,
		threshold: defaultSimilarityThreshold,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// MatchAll loads the internal staff set once and produces one EmployeeMatch
// per external record.
func (s *Service) MatchAll(ctx context.Context, externals []domain.EmployeeRecord) ([]domain.EmployeeMatch, error) {
	members, err := s.staff.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list staff members: %w", err)
	}

	matches := make([]domain.EmployeeMatch, len(externals))
	for i, external := range externals {
		matches[i] = s.match(external, members)
	}
	return matches, nil
}

// match applies the strategies in priority order: an exact case-insensitive
// email match always wins over any fuzzy score; a fuzzy candidate below the
// threshold never matches.
func (s *Service) match(external domain.EmployeeRecord, members []domain.StaffMember) domain.EmployeeMatch {
	result := domain.EmployeeMatch{
		External:  external,
		MatchType: domain.MatchTypeNone,
	}

	if external.Email != "" {
		for i := range members {
			if strings.EqualFold(members[i].Email, external.Email) {
				result.Internal = &members[i]
				result.MatchType = domain.MatchTypeExactEmail
				result.Confidence = 100
				break
			}
		}
	}

	if result.Internal == nil {
		// Ties on the best score keep the first-scanned candidate; the
		// ordering between equal candidates is not otherwise defined.
		best := -1
		for i := range members {
			score := NameSimilarity(external.FullName(), members[i].FullName())
			if score >= s.threshold && score > best {
				best = score
				result.Internal = &members[i]
			}
		}
		if result.Internal != nil {
			result.MatchType = domain.MatchTypeFuzzyName
			result.Confidence = best
		}
	}

	if result.Internal == nil {
		// New employee: nothing to compare, everything to create.
		result.SyncRequired = true
		return result
	}

	result.Conflicts = fieldConflicts(external, *result.Internal)
	result.SyncRequired = len(result.Conflicts) > 0
	return result
}

// NameSimilarity scores two full names on a 0-100 scale using normalized
// edit distance.
func NameSimilarity(a, b string) int {
	normA := normalizeName(a)
	normB := normalizeName(b)
	if normA == "" || normB == "" {
		return 0
	}
	if normA == normB {
		return 100
	}

	distance := levenshtein.ComputeDistance(normA, normB)
	longest := len([]rune(normA))
	if l := len([]rune(normB)); l > longest {
		longest = l
	}
	if distance >= longest {
		return 0
	}
	return int((1 - float64(distance)/float64(longest)) * 100)
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// fieldConflicts compares the fixed field set between the two systems. An
// empty list only means the compared fields agree, not that the records are
// identical.
func fieldConflicts(external domain.EmployeeRecord, internal domain.StaffMember) []string {
	var conflicts []string

	if !strings.EqualFold(strings.TrimSpace(external.FullName()), strings.TrimSpace(internal.FullName())) {
		conflicts = append(conflicts, fmt.Sprintf("name: external=%s internal=%s", external.FullName(), internal.FullName()))
	}
	if !strings.EqualFold(strings.TrimSpace(external.Email), strings.TrimSpace(internal.Email)) {
		conflicts = append(conflicts, fmt.Sprintf("email: external=%s internal=%s", external.Email, internal.Email))
	}
	if normalizePhone(external.Phone) != normalizePhone(internal.Phone) {
		conflicts = append(conflicts, fmt.Sprintf("phone: external=%s internal=%s", external.Phone, internal.Phone))
	}

	return conflicts
}

func normalizePhone(phone string) string {
	var builder strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' || r == '+' {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}
