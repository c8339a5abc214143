package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/evanschultz/cadence/internal/domain"
)

// SnapshotVersion defines a package constant value.
const SnapshotVersion = "cadence.snapshot.v1"

// Snapshot represents snapshot data used by this package.
type Snapshot struct {
	Version            string                      `json:"version"`
	ExportedAt         time.Time                   `json:"exported_at"`
	Campaigns          []SnapshotCampaign          `json:"campaigns"`
	Phases             []SnapshotPhase             `json:"phases"`
	WorkItems          []SnapshotWorkItem          `json:"work_items"`
	PhaseHistory       []domain.PhaseHistoryEntry  `json:"phase_history,omitempty"`
	DriftEvents        []domain.DriftEvent         `json:"drift_events,omitempty"`
	RiskAssessments    []domain.RiskAssessment     `json:"risk_assessments,omitempty"`
	Overrides          []domain.OverrideEvent      `json:"overrides,omitempty"`
	PerformanceReports []domain.PerformanceReport  `json:"performance_reports,omitempty"`
	Insights           []domain.CorrelationInsight `json:"insights,omitempty"`
}

// SnapshotCampaign represents snapshot campaign data used by this package.
type SnapshotCampaign struct {
	ID         string                      `json:"id"`
	Slug       string                      `json:"slug"`
	Name       string                      `json:"name"`
	Category   string                      `json:"category"`
	Budget     float64                     `json:"budget"`
	StartDate  time.Time                   `json:"start_date"`
	EndDate    time.Time                   `json:"end_date"`
	Team       []domain.TeamMember         `json:"team"`
	Benchmarks domain.HistoricalBenchmarks `json:"benchmarks"`
	Creative   domain.CreativeStrategy     `json:"creative"`
	CreatedAt  time.Time                   `json:"created_at"`
	UpdatedAt  time.Time                   `json:"updated_at"`
}

// SnapshotPhase represents snapshot phase data used by this package.
type SnapshotPhase struct {
	ID                  string             `json:"id"`
	CampaignID          string             `json:"campaign_id"`
	Name                string             `json:"name"`
	PhaseNumber         int                `json:"phase_number"`
	PlannedDurationDays int                `json:"planned_duration_days"`
	PlannedEndDate      *time.Time         `json:"planned_end_date,omitempty"`
	Status              domain.PhaseStatus `json:"status"`
	ActualStartDate     *time.Time         `json:"actual_start_date,omitempty"`
	ActualEndDate       *time.Time         `json:"actual_end_date,omitempty"`
	ActualDurationDays  *int               `json:"actual_duration_days,omitempty"`
	DriftDays           *int               `json:"drift_days,omitempty"`
	DriftType           domain.DriftType   `json:"drift_type,omitempty"`
	RootCause           string             `json:"root_cause,omitempty"`
	Attribution         string             `json:"attribution,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// SnapshotWorkItem represents snapshot work item data used by this package.
type SnapshotWorkItem struct {
	ID                 string                `json:"id"`
	CampaignID         string                `json:"campaign_id"`
	PhaseID            string                `json:"phase_id,omitempty"`
	Title              string                `json:"title"`
	AssigneeID         string                `json:"assignee_id,omitempty"`
	Status             domain.WorkItemStatus `json:"status"`
	Position           int                   `json:"position"`
	StartedAt          *time.Time            `json:"started_at,omitempty"`
	TimeInPhaseMinutes int                   `json:"time_in_phase_minutes"`
	CompletedPhases    []string              `json:"completed_phases"`
	DelayReason        string                `json:"delay_reason,omitempty"`
	DueAt              *time.Time            `json:"due_at,omitempty"`
	CompletedAt        *time.Time            `json:"completed_at,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

// ExportSnapshot handles export snapshot.
func (s *Service) ExportSnapshot(ctx context.Context) (Snapshot, error) {
	campaigns, err := s.repo.ListCampaigns(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Version:            SnapshotVersion,
		ExportedAt:         s.clock().UTC(),
		Campaigns:          make([]SnapshotCampaign, 0, len(campaigns)),
		Phases:             make([]SnapshotPhase, 0),
		WorkItems:          make([]SnapshotWorkItem, 0),
		PhaseHistory:       make([]domain.PhaseHistoryEntry, 0),
		DriftEvents:        make([]domain.DriftEvent, 0),
		RiskAssessments:    make([]domain.RiskAssessment, 0),
		Overrides:          make([]domain.OverrideEvent, 0),
		PerformanceReports: make([]domain.PerformanceReport, 0),
		Insights:           make([]domain.CorrelationInsight, 0),
	}
	for _, campaign := range campaigns {
		snap.Campaigns = append(snap.Campaigns, snapshotCampaignFromDomain(campaign))

		phases, listErr := s.repo.ListPhases(ctx, campaign.ID)
		if listErr != nil {
			return Snapshot{}, listErr
		}
		for _, phase := range phases {
			snap.Phases = append(snap.Phases, snapshotPhaseFromDomain(phase))
		}

		items, listErr := s.repo.ListWorkItems(ctx, campaign.ID)
		if listErr != nil {
			return Snapshot{}, listErr
		}
		for _, item := range items {
			snap.WorkItems = append(snap.WorkItems, snapshotWorkItemFromDomain(item))
		}

		history, listErr := s.repo.ListCampaignPhaseHistory(ctx, campaign.ID)
		if listErr != nil {
			return Snapshot{}, listErr
		}
		snap.PhaseHistory = append(snap.PhaseHistory, history...)

		drift, listErr := s.repo.ListDriftEvents(ctx, campaign.ID)
		if listErr != nil {
			return Snapshot{}, listErr
		}
		snap.DriftEvents = append(snap.DriftEvents, drift...)

		assessments, listErr := s.repo.ListRiskAssessments(ctx, campaign.ID)
		if listErr != nil {
			return Snapshot{}, listErr
		}
		snap.RiskAssessments = append(snap.RiskAssessments, assessments...)

		overrides, listErr := s.repo.ListOverrides(ctx, campaign.ID)
		if listErr != nil {
			return Snapshot{}, listErr
		}
		snap.Overrides = append(snap.Overrides, overrides...)

		reports, listErr := s.repo.ListPerformanceReports(ctx, campaign.ID)
		if listErr != nil {
			return Snapshot{}, listErr
		}
		snap.PerformanceReports = append(snap.PerformanceReports, reports...)

		insights, listErr := s.repo.ListCorrelationInsights(ctx, campaign.ID)
		if listErr != nil {
			return Snapshot{}, listErr
		}
		snap.Insights = append(snap.Insights, insights...)
	}

	snap.sort()
	return snap, nil
}

// ImportSnapshot handles import snapshot.
func (s *Service) ImportSnapshot(ctx context.Context, snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	snap.sort()

	for _, campaign := range snap.Campaigns {
		if err := s.upsertCampaign(ctx, campaign.toDomain()); err != nil {
			return err
		}
	}
	for _, phase := range snap.Phases {
		if err := s.upsertPhase(ctx, phase.toDomain()); err != nil {
			return err
		}
	}
	importCtx := WithMutationActor(ctx, MutationActor{ActorID: "snapshot-import", ActorType: domain.ActorTypeSystem})
	for _, item := range snap.WorkItems {
		if err := s.upsertWorkItem(importCtx, item.toDomain()); err != nil {
			return err
		}
	}
	for _, entry := range snap.PhaseHistory {
		if err := s.repo.SavePhaseHistoryEntry(ctx, entry); err != nil {
			return err
		}
	}
	for _, event := range snap.DriftEvents {
		if err := s.repo.SaveDriftEvent(ctx, event); err != nil {
			return err
		}
	}
	for _, assessment := range snap.RiskAssessments {
		if err := s.repo.SaveRiskAssessment(ctx, assessment); err != nil {
			return err
		}
	}
	for _, override := range snap.Overrides {
		if err := s.repo.SaveOverride(ctx, override); err != nil {
			return err
		}
	}
	for _, report := range snap.PerformanceReports {
		if err := s.repo.SavePerformanceReport(ctx, report); err != nil {
			return err
		}
	}

	insightsByCampaign := map[string][]domain.CorrelationInsight{}
	for _, insight := range snap.Insights {
		insightsByCampaign[insight.CampaignID] = append(insightsByCampaign[insight.CampaignID], insight)
	}
	for campaignID, insights := range insightsByCampaign {
		if err := s.repo.ReplaceCorrelationInsights(ctx, campaignID, insights); err != nil {
			return err
		}
	}
	s.log.Info("snapshot imported",
		"campaigns", len(snap.Campaigns),
		"phases", len(snap.Phases),
		"work_items", len(snap.WorkItems),
	)
	return nil
}

// Validate checks snapshot references and required fields.
func (s *Snapshot) Validate() error {
	if s.Version != "" && s.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %q", s.Version)
	}

	campaignIDs := map[string]struct{}{}
	for i, c := range s.Campaigns {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("campaigns[%d].id is required", i)
		}
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("campaigns[%d].name is required", i)
		}
		if c.EndDate.Before(c.StartDate) {
			return fmt.Errorf("campaigns[%d] end_date must not be before start_date", i)
		}
		if c.CreatedAt.IsZero() || c.UpdatedAt.IsZero() {
			return fmt.Errorf("campaigns[%d] timestamps are required", i)
		}
		if _, exists := campaignIDs[c.ID]; exists {
			return fmt.Errorf("duplicate campaign id: %q", c.ID)
		}
		campaignIDs[c.ID] = struct{}{}
	}

	phaseCampaign := map[string]string{}
	for i, p := range s.Phases {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("phases[%d].id is required", i)
		}
		if _, ok := campaignIDs[p.CampaignID]; !ok {
			return fmt.Errorf("phases[%d] references unknown campaign_id %q", i, p.CampaignID)
		}
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("phases[%d].name is required", i)
		}
		if p.PlannedDurationDays < 0 || p.PhaseNumber < 0 {
			return fmt.Errorf("phases[%d] planned_duration_days and phase_number must be >= 0", i)
		}
		if p.Status == "" {
			s.Phases[i].Status = domain.PhaseStatusPending
		} else if !domain.IsValidPhaseStatus(p.Status) {
			return fmt.Errorf("phases[%d].status must be pending|in_progress|completed|blocked", i)
		}
		if _, exists := phaseCampaign[p.ID]; exists {
			return fmt.Errorf("duplicate phase id: %q", p.ID)
		}
		phaseCampaign[p.ID] = p.CampaignID
	}

	itemIDs := map[string]struct{}{}
	for i, w := range s.WorkItems {
		if strings.TrimSpace(w.ID) == "" {
			return fmt.Errorf("work_items[%d].id is required", i)
		}
		if _, ok := campaignIDs[w.CampaignID]; !ok {
			return fmt.Errorf("work_items[%d] references unknown campaign_id %q", i, w.CampaignID)
		}
		if strings.TrimSpace(w.Title) == "" {
			return fmt.Errorf("work_items[%d].title is required", i)
		}
		if w.PhaseID != "" && phaseCampaign[w.PhaseID] != w.CampaignID {
			return fmt.Errorf("work_items[%d] references phase %q outside its campaign", i, w.PhaseID)
		}
		if w.Status == "" {
			s.WorkItems[i].Status = domain.StatusPlanned
		} else if !domain.IsValidWorkItemStatus(w.Status) {
			return fmt.Errorf("work_items[%d].status must be planned|in_progress|completed|blocked|cancelled", i)
		}
		if w.TimeInPhaseMinutes < 0 {
			return fmt.Errorf("work_items[%d].time_in_phase_minutes must be >= 0", i)
		}
		if _, exists := itemIDs[w.ID]; exists {
			return fmt.Errorf("duplicate work item id: %q", w.ID)
		}
		itemIDs[w.ID] = struct{}{}
	}

	for i, h := range s.PhaseHistory {
		if strings.TrimSpace(h.ID) == "" {
			return fmt.Errorf("phase_history[%d].id is required", i)
		}
		if _, ok := itemIDs[h.WorkItemID]; !ok {
			return fmt.Errorf("phase_history[%d] references unknown work_item_id %q", i, h.WorkItemID)
		}
		if _, ok := phaseCampaign[h.PhaseID]; !ok {
			return fmt.Errorf("phase_history[%d] references unknown phase_id %q", i, h.PhaseID)
		}
	}
	for i, d := range s.DriftEvents {
		if strings.TrimSpace(d.ID) == "" {
			return fmt.Errorf("drift_events[%d].id is required", i)
		}
		if phaseCampaign[d.PhaseID] != d.CampaignID {
			return fmt.Errorf("drift_events[%d] references unknown phase_id %q", i, d.PhaseID)
		}
	}
	assessmentIDs := map[string]struct{}{}
	for i, a := range s.RiskAssessments {
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("risk_assessments[%d].id is required", i)
		}
		if _, ok := campaignIDs[a.CampaignID]; !ok {
			return fmt.Errorf("risk_assessments[%d] references unknown campaign_id %q", i, a.CampaignID)
		}
		assessmentIDs[a.ID] = struct{}{}
	}
	for i, o := range s.Overrides {
		if strings.TrimSpace(o.ID) == "" {
			return fmt.Errorf("overrides[%d].id is required", i)
		}
		if _, ok := campaignIDs[o.CampaignID]; !ok {
			return fmt.Errorf("overrides[%d] references unknown campaign_id %q", i, o.CampaignID)
		}
		if !domain.IsValidGateDecision(o.OriginalRecommendation) || !domain.IsValidGateDecision(o.ActualAction) {
			return fmt.Errorf("overrides[%d] gate decisions must be proceed|adjust|pause", i)
		}
	}
	for i, r := range s.PerformanceReports {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("performance_reports[%d].id is required", i)
		}
		if _, ok := campaignIDs[r.CampaignID]; !ok {
			return fmt.Errorf("performance_reports[%d] references unknown campaign_id %q", i, r.CampaignID)
		}
		if r.WeekStarting.IsZero() {
			return fmt.Errorf("performance_reports[%d].week_starting is required", i)
		}
	}
	for i, in := range s.Insights {
		if strings.TrimSpace(in.ID) == "" {
			return fmt.Errorf("insights[%d].id is required", i)
		}
		if _, ok := campaignIDs[in.CampaignID]; !ok {
			return fmt.Errorf("insights[%d] references unknown campaign_id %q", i, in.CampaignID)
		}
	}
	return nil
}

// upsertCampaign upserts one campaign row.
func (s *Service) upsertCampaign(ctx context.Context, c domain.Campaign) error {
	if _, err := s.repo.GetCampaign(ctx, c.ID); err == nil {
		return s.repo.UpdateCampaign(ctx, c)
	} else if !isNotFound(err) {
		return err
	}
	return s.repo.CreateCampaign(ctx, c)
}

// upsertPhase upserts one phase row.
func (s *Service) upsertPhase(ctx context.Context, p domain.Phase) error {
	if _, err := s.repo.GetPhase(ctx, p.ID); err == nil {
		return s.repo.UpdatePhase(ctx, p)
	} else if !isNotFound(err) {
		return err
	}
	return s.repo.CreatePhase(ctx, p)
}

// upsertWorkItem upserts one work item and records the import in the activity ledger.
func (s *Service) upsertWorkItem(ctx context.Context, w domain.WorkItem) error {
	metadata := map[string]string{"source": "snapshot"}
	if _, err := s.repo.GetWorkItem(ctx, w.ID); err == nil {
		return s.repo.UpdateWorkItem(ctx, w, changeEventFor(ctx, w, domain.ChangeOperationStatus, metadata, w.UpdatedAt))
	} else if !isNotFound(err) {
		return err
	}
	return s.repo.CreateWorkItem(ctx, w, changeEventFor(ctx, w, domain.ChangeOperationCreate, metadata, w.CreatedAt))
}

// sort orders snapshot rows deterministically.
func (s *Snapshot) sort() {
	sort.SliceStable(s.Campaigns, func(i, j int) bool {
		return s.Campaigns[i].ID < s.Campaigns[j].ID
	})
	sort.SliceStable(s.Phases, func(i, j int) bool {
		a, b := s.Phases[i], s.Phases[j]
		if a.CampaignID != b.CampaignID {
			return a.CampaignID < b.CampaignID
		}
		if a.PhaseNumber != b.PhaseNumber {
			return a.PhaseNumber < b.PhaseNumber
		}
		return a.ID < b.ID
	})
	sort.SliceStable(s.WorkItems, func(i, j int) bool {
		a, b := s.WorkItems[i], s.WorkItems[j]
		if a.CampaignID != b.CampaignID {
			return a.CampaignID < b.CampaignID
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.ID < b.ID
	})
	sort.SliceStable(s.PhaseHistory, func(i, j int) bool {
		a, b := s.PhaseHistory[i], s.PhaseHistory[j]
		if !a.EnteredAt.Equal(b.EnteredAt) {
			return a.EnteredAt.Before(b.EnteredAt)
		}
		return a.ID < b.ID
	})
	sort.SliceStable(s.PerformanceReports, func(i, j int) bool {
		a, b := s.PerformanceReports[i], s.PerformanceReports[j]
		if a.CampaignID != b.CampaignID {
			return a.CampaignID < b.CampaignID
		}
		return a.WeekStarting.Before(b.WeekStarting)
	})
}

func snapshotCampaignFromDomain(c domain.Campaign) SnapshotCampaign {
	return SnapshotCampaign{
		ID:         c.ID,
		Slug:       c.Slug,
		Name:       c.Name,
		Category:   c.Category,
		Budget:     c.Budget,
		StartDate:  c.StartDate.UTC(),
		EndDate:    c.EndDate.UTC(),
		Team:       append([]domain.TeamMember(nil), c.Team...),
		Benchmarks: c.Benchmarks,
		Creative:   c.Creative,
		CreatedAt:  c.CreatedAt.UTC(),
		UpdatedAt:  c.UpdatedAt.UTC(),
	}
}

func snapshotPhaseFromDomain(p domain.Phase) SnapshotPhase {
	return SnapshotPhase{
		ID:                  p.ID,
		CampaignID:          p.CampaignID,
		Name:                p.Name,
		PhaseNumber:         p.PhaseNumber,
		PlannedDurationDays: p.PlannedDurationDays,
		PlannedEndDate:      copyTimePtr(p.PlannedEndDate),
		Status:              p.Status,
		ActualStartDate:     copyTimePtr(p.ActualStartDate),
		ActualEndDate:       copyTimePtr(p.ActualEndDate),
		ActualDurationDays:  copyIntPtr(p.ActualDurationDays),
		DriftDays:           copyIntPtr(p.DriftDays),
		DriftType:           p.DriftType,
		RootCause:           p.RootCause,
		Attribution:         p.Attribution,
		CreatedAt:           p.CreatedAt.UTC(),
		UpdatedAt:           p.UpdatedAt.UTC(),
	}
}

func snapshotWorkItemFromDomain(w domain.WorkItem) SnapshotWorkItem {
	return SnapshotWorkItem{
		ID:                 w.ID,
		CampaignID:         w.CampaignID,
		PhaseID:            w.PhaseID,
		Title:              w.Title,
		AssigneeID:         w.AssigneeID,
		Status:             w.Status,
		Position:           w.Position,
		StartedAt:          copyTimePtr(w.StartedAt),
		TimeInPhaseMinutes: w.TimeInPhaseMinutes,
		CompletedPhases:    append([]string{}, w.CompletedPhases...),
		DelayReason:        w.DelayReason,
		DueAt:              copyTimePtr(w.DueAt),
		CompletedAt:        copyTimePtr(w.CompletedAt),
		CreatedAt:          w.CreatedAt.UTC(),
		UpdatedAt:          w.UpdatedAt.UTC(),
	}
}

func (c SnapshotCampaign) toDomain() domain.Campaign {
	slug := strings.TrimSpace(c.Slug)
	if slug == "" {
		slug = fallbackSlug(c.Name)
	}
	return domain.Campaign{
		ID:         strings.TrimSpace(c.ID),
		Slug:       slug,
		Name:       strings.TrimSpace(c.Name),
		Category:   domain.NormalizeCategory(c.Category),
		Budget:     c.Budget,
		StartDate:  c.StartDate.UTC(),
		EndDate:    c.EndDate.UTC(),
		Team:       append([]domain.TeamMember(nil), c.Team...),
		Benchmarks: c.Benchmarks,
		Creative:   c.Creative,
		CreatedAt:  c.CreatedAt.UTC(),
		UpdatedAt:  c.UpdatedAt.UTC(),
	}
}

func (p SnapshotPhase) toDomain() domain.Phase {
	return domain.Phase{
		ID:                  strings.TrimSpace(p.ID),
		CampaignID:          strings.TrimSpace(p.CampaignID),
		Name:                strings.TrimSpace(p.Name),
		PhaseNumber:         p.PhaseNumber,
		PlannedDurationDays: p.PlannedDurationDays,
		PlannedEndDate:      copyTimePtr(p.PlannedEndDate),
		Status:              p.Status,
		ActualStartDate:     copyTimePtr(p.ActualStartDate),
		ActualEndDate:       copyTimePtr(p.ActualEndDate),
		ActualDurationDays:  copyIntPtr(p.ActualDurationDays),
		DriftDays:           copyIntPtr(p.DriftDays),
		DriftType:           p.DriftType,
		RootCause:           p.RootCause,
		Attribution:         p.Attribution,
		CreatedAt:           p.CreatedAt.UTC(),
		UpdatedAt:           p.UpdatedAt.UTC(),
	}
}

func (w SnapshotWorkItem) toDomain() domain.WorkItem {
	completed := append([]string{}, w.CompletedPhases...)
	return domain.WorkItem{
		ID:                 strings.TrimSpace(w.ID),
		CampaignID:         strings.TrimSpace(w.CampaignID),
		PhaseID:            strings.TrimSpace(w.PhaseID),
		Title:              strings.TrimSpace(w.Title),
		AssigneeID:         strings.TrimSpace(w.AssigneeID),
		Status:             w.Status,
		Position:           w.Position,
		StartedAt:          copyTimePtr(w.StartedAt),
		TimeInPhaseMinutes: w.TimeInPhaseMinutes,
		CompletedPhases:    completed,
		DelayReason:        w.DelayReason,
		DueAt:              copyTimePtr(w.DueAt),
		CompletedAt:        copyTimePtr(w.CompletedAt),
		CreatedAt:          w.CreatedAt.UTC(),
		UpdatedAt:          w.UpdatedAt.UTC(),
	}
}

// fallbackSlug derives a slug when a snapshot row omits one.
func fallbackSlug(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return ""
	}
	return strings.Join(strings.Fields(name), "-")
}

func copyTimePtr(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	out := in.UTC()
	return &out
}

func copyIntPtr(in *int) *int {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}
