package domain

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// RiskFactorStatus is the per-factor verdict.
type RiskFactorStatus string

// RiskFactorStatus values.
const (
	FactorPass RiskFactorStatus = "pass"
	FactorWarn RiskFactorStatus = "warn"
	FactorFail RiskFactorStatus = "fail"
)

// RiskLevel buckets the overall score.
type RiskLevel string

// RiskLevel values.
const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// GateDecision is the launch recommendation derived from the overall score.
type GateDecision string

// GateDecision values.
const (
	GateProceed GateDecision = "proceed"
	GateAdjust  GateDecision = "adjust"
	GatePause   GateDecision = "pause"
)

var validGateDecisions = []GateDecision{GateProceed, GateAdjust, GatePause}

// Risk factor names.
const (
	FactorBudgetAdequacy        = "Budget Adequacy"
	FactorTimelineFeasibility   = "Timeline Feasibility"
	FactorTeamCapacity          = "Team Capacity"
	FactorHistoricalPerformance = "Historical Performance"
	FactorCreativeReadiness     = "Creative Readiness"
)

// DefaultMaxActiveItemsPerMember is used when RiskInput leaves the limit unset.
const DefaultMaxActiveItemsPerMember = 5

var factorMitigations = map[string]string{
	FactorBudgetAdequacy:        "Increase budget toward the category benchmark or narrow targeting to fit the current spend.",
	FactorTimelineFeasibility:   "Extend the campaign window or shorten planned phase durations so the plan fits the schedule.",
	FactorTeamCapacity:          "Rebalance active work items away from overloaded team members or add capacity.",
	FactorHistoricalPerformance: "Record CTR, CPA, and ROAS benchmarks from comparable past campaigns.",
	FactorCreativeReadiness:     "Complete the creative brief: format, theme, message, call to action, and testing plan.",
}

// RiskFactorResult is one scored factor.
type RiskFactorResult struct {
	Name   string           `json:"name"`
	Score  int              `json:"score"`
	Status RiskFactorStatus `json:"status"`
	Detail string           `json:"detail"`
	Weight int              `json:"weight"`
}

// RiskAssessment aggregates factor scores into a gate recommendation.
type RiskAssessment struct {
	ID                    string             `json:"id,omitempty"`
	CampaignID            string             `json:"campaign_id"`
	OverallScore          int                `json:"overall_score"`
	RiskLevel             RiskLevel          `json:"risk_level"`
	GateRecommendation    GateDecision       `json:"gate_recommendation"`
	Factors               []RiskFactorResult `json:"factors"`
	MitigationSuggestions []string           `json:"mitigation_suggestions"`
	AssessedAt            time.Time          `json:"assessed_at"`
}

// RiskInput is the campaign state read by AssessRisk.
type RiskInput struct {
	Campaign                Campaign
	Phases                  []Phase
	Items                   []WorkItem
	CategoryBenchmark       float64
	MaxActiveItemsPerMember int
}

// AssessRisk scores launch readiness. It is a pure function of its input; ID and AssessedAt
// are left for the caller to stamp.
func AssessRisk(in RiskInput) RiskAssessment {
	factors := []RiskFactorResult{
		budgetAdequacy(in.Campaign.Budget, in.CategoryBenchmark),
		timelineFeasibility(in.Campaign, in.Phases),
		teamCapacity(in.Campaign.Team, in.Items, in.MaxActiveItemsPerMember),
		historicalPerformance(in.Campaign.Benchmarks),
		creativeReadiness(in.Campaign.Creative),
	}
	score := OverallRiskScore(factors)
	return RiskAssessment{
		CampaignID:            in.Campaign.ID,
		OverallScore:          score,
		RiskLevel:             RiskLevelForScore(score),
		GateRecommendation:    GateForScore(score),
		Factors:               factors,
		MitigationSuggestions: MitigationsFor(factors),
	}
}

// OverallRiskScore is the weight-averaged factor score, rounded to the nearest integer.
func OverallRiskScore(factors []RiskFactorResult) int {
	weighted, weights := 0, 0
	for _, factor := range factors {
		weighted += factor.Score * factor.Weight
		weights += factor.Weight
	}
	if weights == 0 {
		return 0
	}
	return int(math.Round(float64(weighted) / float64(weights)))
}

// RiskLevelForScore maps an overall score to a risk level.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score >= 70:
		return RiskLow
	case score >= 50:
		return RiskMedium
	case score >= 30:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// GateForScore maps an overall score to a gate recommendation.
func GateForScore(score int) GateDecision {
	switch {
	case score >= 70:
		return GateProceed
	case score >= 50:
		return GateAdjust
	default:
		return GatePause
	}
}

// MitigationsFor returns one remediation per non-passing factor, in factor order.
func MitigationsFor(factors []RiskFactorResult) []string {
	out := make([]string, 0, len(factors))
	for _, factor := range factors {
		if factor.Status == FactorPass {
			continue
		}
		if text, ok := factorMitigations[factor.Name]; ok {
			out = append(out, text)
		}
	}
	return out
}

// OverloadedMembers lists roster members whose non-terminal items exceed maxActive, sorted by id.
// Items assigned to anyone outside team are ignored.
func OverloadedMembers(team []TeamMember, items []WorkItem, maxActive int) []string {
	if maxActive <= 0 {
		maxActive = DefaultMaxActiveItemsPerMember
	}
	roster := make(map[string]struct{}, len(team))
	for _, member := range team {
		if id := strings.TrimSpace(member.ID); id != "" {
			roster[id] = struct{}{}
		}
	}
	active := map[string]int{}
	for _, item := range items {
		assignee := strings.TrimSpace(item.AssigneeID)
		if assignee == "" || item.IsTerminal() {
			continue
		}
		if _, ok := roster[assignee]; !ok {
			continue
		}
		active[assignee]++
	}
	out := make([]string, 0)
	for member, count := range active {
		if count > maxActive {
			out = append(out, member)
		}
	}
	slices.Sort(out)
	return out
}

// IsValidGateDecision reports whether decision is supported.
func IsValidGateDecision(decision GateDecision) bool {
	return slices.Contains(validGateDecisions, decision)
}

func budgetAdequacy(budget, benchmark float64) RiskFactorResult {
	factor := RiskFactorResult{Name: FactorBudgetAdequacy, Weight: 25}
	if benchmark <= 0 {
		factor.Score, factor.Status = 50, FactorWarn
		factor.Detail = "No category benchmark budget is configured."
		return factor
	}
	ratio := budget / benchmark
	switch {
	case ratio >= 1.5:
		factor.Score, factor.Status = 90, FactorPass
	case ratio >= 0.8:
		factor.Score, factor.Status = 70, FactorPass
	case ratio >= 0.5:
		factor.Score, factor.Status = 50, FactorWarn
	default:
		factor.Score, factor.Status = 30, FactorFail
	}
	factor.Detail = fmt.Sprintf("Budget is %.0f%% of the %.0f category benchmark.", ratio*100, benchmark)
	return factor
}

func timelineFeasibility(campaign Campaign, phases []Phase) RiskFactorResult {
	factor := RiskFactorResult{Name: FactorTimelineFeasibility, Weight: 25}
	planned := 0
	for _, phase := range phases {
		planned += phase.PlannedDurationDays
	}
	if len(phases) == 0 || planned <= 0 {
		factor.Score, factor.Status = 60, FactorWarn
		factor.Detail = "No phase plan is defined yet."
		return factor
	}
	days := campaign.DurationDays()
	ratio := float64(days) / float64(planned)
	switch {
	case ratio >= 1.2:
		factor.Score, factor.Status = 90, FactorPass
	case ratio >= 1.0:
		factor.Score, factor.Status = 70, FactorPass
	case ratio >= 0.8:
		factor.Score, factor.Status = 50, FactorWarn
	default:
		factor.Score, factor.Status = 30, FactorFail
	}
	factor.Detail = fmt.Sprintf("Campaign runs %d days against %d planned phase days.", days, planned)
	return factor
}

func teamCapacity(team []TeamMember, items []WorkItem, maxActive int) RiskFactorResult {
	factor := RiskFactorResult{Name: FactorTeamCapacity, Weight: 20}
	overloaded := OverloadedMembers(team, items, maxActive)
	switch len(overloaded) {
	case 0:
		factor.Score, factor.Status = 90, FactorPass
		factor.Detail = "No team member is overloaded."
	case 1:
		factor.Score, factor.Status = 65, FactorWarn
		factor.Detail = fmt.Sprintf("Overloaded: %s.", overloaded[0])
	default:
		factor.Score, factor.Status = 40, FactorFail
		factor.Detail = fmt.Sprintf("Overloaded: %s.", strings.Join(overloaded, ", "))
	}
	return factor
}

func historicalPerformance(benchmarks HistoricalBenchmarks) RiskFactorResult {
	factor := RiskFactorResult{Name: FactorHistoricalPerformance, Weight: 15}
	present := 0
	for _, value := range []*float64{benchmarks.CTR, benchmarks.CPA, benchmarks.ROAS} {
		if value != nil {
			present++
		}
	}
	switch {
	case present == 3:
		factor.Score, factor.Status = 85, FactorPass
	case present >= 1:
		factor.Score, factor.Status = 65, FactorWarn
	default:
		factor.Score, factor.Status = 45, FactorWarn
	}
	factor.Detail = fmt.Sprintf("%d of 3 historical benchmarks recorded.", present)
	return factor
}

func creativeReadiness(creative CreativeStrategy) RiskFactorResult {
	factor := RiskFactorResult{Name: FactorCreativeReadiness, Weight: 15}
	present := 0
	for _, value := range []string{creative.Format, creative.Theme, creative.Message, creative.CTA, creative.TestingPlan} {
		if strings.TrimSpace(value) != "" {
			present++
		}
	}
	switch {
	case present >= 4:
		factor.Score, factor.Status = 90, FactorPass
	case present >= 2:
		factor.Score, factor.Status = 60, FactorWarn
	default:
		factor.Score, factor.Status = 35, FactorFail
	}
	factor.Detail = fmt.Sprintf("%d of 5 creative brief fields completed.", present)
	return factor
}
