package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/evanschultz/cadence/internal/domain"
)

// Default service tuning values.
const (
	DefaultPollInterval       = 60 * time.Second
	DefaultReasoningTimeout   = 8 * time.Second
	DefaultReasoningWorkers   = 2
	defaultBenchmarkKey       = "default"
	maxPollInterval           = 60 * time.Second
	minPollInterval           = time.Second
	defaultChangeEventsLimit  = 50
	fallbackCategoryBenchmark = 5000
)

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	// CategoryBenchmarks maps a normalized campaign category to its benchmark budget.
	// The "default" key applies to unknown categories.
	CategoryBenchmarks      map[string]float64
	MaxActiveItemsPerMember int
	Correlation             domain.CorrelationThresholds
	PollInterval            time.Duration

	Reasoner               Reasoner
	ReasoningTimeout       time.Duration
	ReasoningConcurrency   int
	ReasoningMinConfidence int

	Logger Logger
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service orchestrates the engines over persisted campaign state.
type Service struct {
	repo          Repository
	idGen         IDGenerator
	clock         Clock
	benchmarks    map[string]float64
	maxActive     int
	thresholds    domain.CorrelationThresholds
	pollInterval  time.Duration
	reasoner      Reasoner
	fallback      Reasoner
	timeout       time.Duration
	workers       int
	minConfidence int
	log           Logger
}

// NewService constructs a new value for this package.
func NewService(repo Repository, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.Correlation == (domain.CorrelationThresholds{}) {
		cfg.Correlation = domain.DefaultCorrelationThresholds()
	}
	if cfg.MaxActiveItemsPerMember <= 0 {
		cfg.MaxActiveItemsPerMember = domain.DefaultMaxActiveItemsPerMember
	}
	if cfg.ReasoningTimeout <= 0 {
		cfg.ReasoningTimeout = DefaultReasoningTimeout
	}
	if cfg.ReasoningConcurrency <= 0 {
		cfg.ReasoningConcurrency = DefaultReasoningWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &Service{
		repo:          repo,
		idGen:         idGen,
		clock:         clock,
		benchmarks:    sanitizeBenchmarks(cfg.CategoryBenchmarks),
		maxActive:     cfg.MaxActiveItemsPerMember,
		thresholds:    cfg.Correlation,
		pollInterval:  clampPollInterval(cfg.PollInterval),
		reasoner:      cfg.Reasoner,
		fallback:      DeterministicReasoner{Thresholds: cfg.Correlation},
		timeout:       cfg.ReasoningTimeout,
		workers:       cfg.ReasoningConcurrency,
		minConfidence: cfg.ReasoningMinConfidence,
		log:           cfg.Logger,
	}
}

// CreateCampaignInput holds input values for create campaign operations.
type CreateCampaignInput struct {
	Name       string
	Category   string
	Budget     float64
	StartDate  time.Time
	EndDate    time.Time
	Team       []domain.TeamMember
	Benchmarks domain.HistoricalBenchmarks
	Creative   domain.CreativeStrategy
}

// CreateCampaign creates campaign.
func (s *Service) CreateCampaign(ctx context.Context, in CreateCampaignInput) (domain.Campaign, error) {
	campaign, err := domain.NewCampaign(domain.CampaignInput{
		ID:         s.idGen(),
		Name:       in.Name,
		Category:   in.Category,
		Budget:     in.Budget,
		StartDate:  in.StartDate,
		EndDate:    in.EndDate,
		Team:       in.Team,
		Benchmarks: in.Benchmarks,
		Creative:   in.Creative,
	}, s.clock())
	if err != nil {
		return domain.Campaign{}, err
	}
	if err := s.repo.CreateCampaign(ctx, campaign); err != nil {
		return domain.Campaign{}, err
	}
	s.log.Info("campaign created", "campaign_id", campaign.ID, "category", campaign.Category)
	return campaign, nil
}

// GetCampaign returns campaign.
func (s *Service) GetCampaign(ctx context.Context, campaignID string) (domain.Campaign, error) {
	return s.repo.GetCampaign(ctx, strings.TrimSpace(campaignID))
}

// ListCampaigns lists campaigns ordered by start date.
func (s *Service) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	campaigns, err := s.repo.ListCampaigns(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(campaigns, func(a, b domain.Campaign) int {
		if c := a.StartDate.Compare(b.StartDate); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return campaigns, nil
}

// UpdateCampaignStrategy replaces benchmark and creative inputs read by the risk gate.
func (s *Service) UpdateCampaignStrategy(ctx context.Context, campaignID string, benchmarks domain.HistoricalBenchmarks, creative domain.CreativeStrategy) (domain.Campaign, error) {
	campaign, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return domain.Campaign{}, err
	}
	campaign.UpdateStrategy(benchmarks, creative, s.clock())
	if err := s.repo.UpdateCampaign(ctx, campaign); err != nil {
		return domain.Campaign{}, err
	}
	return campaign, nil
}

// SetCampaignTeam replaces the campaign roster.
func (s *Service) SetCampaignTeam(ctx context.Context, campaignID string, team []domain.TeamMember) (domain.Campaign, error) {
	campaign, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return domain.Campaign{}, err
	}
	if err := campaign.SetTeam(team, s.clock()); err != nil {
		return domain.Campaign{}, err
	}
	if err := s.repo.UpdateCampaign(ctx, campaign); err != nil {
		return domain.Campaign{}, err
	}
	return campaign, nil
}

// CreatePhaseInput holds input values for create phase operations.
type CreatePhaseInput struct {
	CampaignID          string
	Name                string
	PlannedDurationDays int
	PlannedEndDate      *time.Time
	// PhaseNumber is appended after the last phase when zero.
	PhaseNumber int
}

// CreatePhase creates phase.
func (s *Service) CreatePhase(ctx context.Context, in CreatePhaseInput) (domain.Phase, error) {
	if _, err := s.repo.GetCampaign(ctx, in.CampaignID); err != nil {
		return domain.Phase{}, err
	}
	number := in.PhaseNumber
	if number == 0 {
		phases, err := s.repo.ListPhases(ctx, in.CampaignID)
		if err != nil {
			return domain.Phase{}, err
		}
		for _, p := range phases {
			if p.PhaseNumber >= number {
				number = p.PhaseNumber + 1
			}
		}
		if number == 0 {
			number = 1
		}
	}
	phase, err := domain.NewPhase(domain.PhaseInput{
		ID:                  s.idGen(),
		CampaignID:          in.CampaignID,
		Name:                in.Name,
		PhaseNumber:         number,
		PlannedDurationDays: in.PlannedDurationDays,
		PlannedEndDate:      in.PlannedEndDate,
	}, s.clock())
	if err != nil {
		return domain.Phase{}, err
	}
	if err := s.repo.CreatePhase(ctx, phase); err != nil {
		return domain.Phase{}, err
	}
	return phase, nil
}

// ListPhases lists phases in workflow order.
func (s *Service) ListPhases(ctx context.Context, campaignID string) ([]domain.Phase, error) {
	phases, err := s.repo.ListPhases(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	domain.SortPhases(phases)
	return phases, nil
}

// StartPhase records the phase's actual start date.
func (s *Service) StartPhase(ctx context.Context, phaseID string) (domain.Phase, error) {
	phase, err := s.repo.GetPhase(ctx, phaseID)
	if err != nil {
		return domain.Phase{}, err
	}
	if err := phase.Start(s.clock()); err != nil {
		return domain.Phase{}, err
	}
	if err := s.repo.UpdatePhase(ctx, phase); err != nil {
		return domain.Phase{}, err
	}
	return phase, nil
}

// BlockPhase marks a phase blocked without touching its dates.
func (s *Service) BlockPhase(ctx context.Context, phaseID string) (domain.Phase, error) {
	phase, err := s.repo.GetPhase(ctx, phaseID)
	if err != nil {
		return domain.Phase{}, err
	}
	if err := phase.SetStatus(domain.PhaseStatusBlocked, s.clock()); err != nil {
		return domain.Phase{}, err
	}
	if err := s.repo.UpdatePhase(ctx, phase); err != nil {
		return domain.Phase{}, err
	}
	return phase, nil
}

// CompletePhaseInput holds input values for complete phase operations.
type CompletePhaseInput struct {
	PhaseID     string
	RootCause   string
	Attribution string
}

// CompletePhase closes a phase and persists its drift event.
func (s *Service) CompletePhase(ctx context.Context, in CompletePhaseInput) (domain.Phase, domain.DriftEvent, error) {
	phase, err := s.repo.GetPhase(ctx, in.PhaseID)
	if err != nil {
		return domain.Phase{}, domain.DriftEvent{}, err
	}
	now := s.clock()
	if _, err := phase.Complete(now); err != nil {
		return domain.Phase{}, domain.DriftEvent{}, err
	}
	if strings.TrimSpace(in.RootCause) != "" || strings.TrimSpace(in.Attribution) != "" {
		phase.RecordCause(in.RootCause, in.Attribution, now)
	}
	items, err := s.repo.ListWorkItems(ctx, phase.CampaignID)
	if err != nil {
		return domain.Phase{}, domain.DriftEvent{}, err
	}
	event, _ := domain.BuildDriftEvent(phase, items, now)
	event.ID = s.idGen()
	if err := s.repo.CompletePhase(ctx, phase, event); err != nil {
		return domain.Phase{}, domain.DriftEvent{}, err
	}
	s.log.Info("phase completed",
		"campaign_id", phase.CampaignID,
		"phase_id", phase.ID,
		"drift_days", event.DriftDays,
		"drift_type", event.DriftType,
	)
	return phase, event, nil
}

// categoryBenchmark resolves the benchmark budget for a campaign category.
func (s *Service) categoryBenchmark(category string) float64 {
	if v, ok := s.benchmarks[domain.NormalizeCategory(category)]; ok {
		return v
	}
	if v, ok := s.benchmarks[defaultBenchmarkKey]; ok {
		return v
	}
	return fallbackCategoryBenchmark
}

// sanitizeBenchmarks normalizes category keys and drops non-positive values.
func sanitizeBenchmarks(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for key, value := range in {
		key = domain.NormalizeCategory(key)
		if key == "" || value <= 0 {
			continue
		}
		out[key] = value
	}
	return out
}

// clampPollInterval keeps live drift refreshes between one second and one minute.
func clampPollInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultPollInterval
	case d < minPollInterval:
		return minPollInterval
	case d > maxPollInterval:
		return maxPollInterval
	default:
		return d
	}
}
