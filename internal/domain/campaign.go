package domain

import (
	"math"
	"strings"
	"time"
)

// Campaign represents one marketing campaign and the planning inputs its risk gate reads.
type Campaign struct {
	ID         string
	Slug       string
	Name       string
	Category   string
	Budget     float64
	StartDate  time.Time
	EndDate    time.Time
	Team       []TeamMember
	Benchmarks HistoricalBenchmarks
	Creative   CreativeStrategy
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TeamMember identifies one person work items can be assigned to.
type TeamMember struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HistoricalBenchmarks stores prior-campaign performance benchmarks; nil means unknown.
type HistoricalBenchmarks struct {
	CTR  *float64 `json:"ctr,omitempty"`
	CPA  *float64 `json:"cpa,omitempty"`
	ROAS *float64 `json:"roas,omitempty"`
}

// CreativeStrategy stores the creative brief fields checked by the readiness factor.
type CreativeStrategy struct {
	Format      string `json:"format"`
	Theme       string `json:"theme"`
	Message     string `json:"message"`
	CTA         string `json:"cta"`
	TestingPlan string `json:"testing_plan"`
}

// CampaignInput holds constructor values for a campaign.
type CampaignInput struct {
	ID         string
	Name       string
	Category   string
	Budget     float64
	StartDate  time.Time
	EndDate    time.Time
	Team       []TeamMember
	Benchmarks HistoricalBenchmarks
	Creative   CreativeStrategy
}

// NewCampaign validates input and constructs a campaign.
func NewCampaign(in CampaignInput, now time.Time) (Campaign, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	if in.ID == "" {
		return Campaign{}, ErrInvalidID
	}
	if in.Name == "" {
		return Campaign{}, ErrInvalidName
	}
	category := NormalizeCategory(in.Category)
	if category == "" {
		return Campaign{}, ErrInvalidCategory
	}
	if in.Budget < 0 || math.IsNaN(in.Budget) || math.IsInf(in.Budget, 0) {
		return Campaign{}, ErrInvalidBudget
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() || in.EndDate.Before(in.StartDate) {
		return Campaign{}, ErrInvalidDateRange
	}
	team, err := normalizeTeam(in.Team)
	if err != nil {
		return Campaign{}, err
	}

	return Campaign{
		ID:         in.ID,
		Slug:       normalizeSlug(in.Name),
		Name:       in.Name,
		Category:   category,
		Budget:     in.Budget,
		StartDate:  in.StartDate.UTC(),
		EndDate:    in.EndDate.UTC(),
		Team:       team,
		Benchmarks: in.Benchmarks,
		Creative:   normalizeCreative(in.Creative),
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}, nil
}

// DurationDays returns the campaign window in whole days, rounded up.
func (c Campaign) DurationDays() int {
	if c.EndDate.Before(c.StartDate) {
		return 0
	}
	return ceilDays(c.EndDate.Sub(c.StartDate))
}

// UpdateStrategy replaces the benchmark and creative inputs.
func (c *Campaign) UpdateStrategy(benchmarks HistoricalBenchmarks, creative CreativeStrategy, now time.Time) {
	c.Benchmarks = benchmarks
	c.Creative = normalizeCreative(creative)
	c.UpdatedAt = now.UTC()
}

// SetTeam replaces the campaign team roster.
func (c *Campaign) SetTeam(team []TeamMember, now time.Time) error {
	normalized, err := normalizeTeam(team)
	if err != nil {
		return err
	}
	c.Team = normalized
	c.UpdatedAt = now.UTC()
	return nil
}

// NormalizeCategory canonicalizes a campaign category key.
func NormalizeCategory(raw string) string {
	return strings.ReplaceAll(normalizeSlug(raw), "-", "_")
}

// normalizeTeam trims members and drops duplicate ids.
func normalizeTeam(in []TeamMember) ([]TeamMember, error) {
	out := make([]TeamMember, 0, len(in))
	seen := map[string]struct{}{}
	for _, member := range in {
		member.ID = strings.TrimSpace(member.ID)
		member.Name = strings.TrimSpace(member.Name)
		if member.ID == "" {
			return nil, ErrInvalidID
		}
		if _, ok := seen[member.ID]; ok {
			continue
		}
		seen[member.ID] = struct{}{}
		if member.Name == "" {
			member.Name = member.ID
		}
		out = append(out, member)
	}
	return out, nil
}

func normalizeCreative(in CreativeStrategy) CreativeStrategy {
	return CreativeStrategy{
		Format:      strings.TrimSpace(in.Format),
		Theme:       strings.TrimSpace(in.Theme),
		Message:     strings.TrimSpace(in.Message),
		CTA:         strings.TrimSpace(in.CTA),
		TestingPlan: strings.TrimSpace(in.TestingPlan),
	}
}

// normalizeSlug normalizes slug.
func normalizeSlug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	var b strings.Builder
	prevDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
			prevDash = false
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// ceilDays converts a duration into whole days, rounding any partial day up.
func ceilDays(d time.Duration) int {
	const day = 24 * time.Hour
	if d <= 0 {
		return int(d / day)
	}
	days := int(d / day)
	if d%day != 0 {
		days++
	}
	return days
}

// dateOnly truncates a timestamp to its UTC calendar date.
func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
