package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evanschultz/cadence/internal/domain"
)

type fakeRepo struct {
	mu sync.Mutex

	campaigns   map[string]domain.Campaign
	phases      map[string]domain.Phase
	items       map[string]domain.WorkItem
	history     map[string]domain.PhaseHistoryEntry
	events      []domain.ChangeEvent
	drift       map[string]domain.DriftEvent
	assessments map[string]domain.RiskAssessment
	overrides   map[string]domain.OverrideEvent
	reports     map[string]domain.PerformanceReport
	insights    map[string][]domain.CorrelationInsight

	moveErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		campaigns:   map[string]domain.Campaign{},
		phases:      map[string]domain.Phase{},
		items:       map[string]domain.WorkItem{},
		history:     map[string]domain.PhaseHistoryEntry{},
		drift:       map[string]domain.DriftEvent{},
		assessments: map[string]domain.RiskAssessment{},
		overrides:   map[string]domain.OverrideEvent{},
		reports:     map[string]domain.PerformanceReport{},
		insights:    map[string][]domain.CorrelationInsight{},
	}
}

func (f *fakeRepo) CreateCampaign(_ context.Context, c domain.Campaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaigns[c.ID] = c
	return nil
}

func (f *fakeRepo) UpdateCampaign(_ context.Context, c domain.Campaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.campaigns[c.ID]; !ok {
		return ErrNotFound
	}
	f.campaigns[c.ID] = c
	return nil
}

func (f *fakeRepo) GetCampaign(_ context.Context, id string) (domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return domain.Campaign{}, ErrNotFound
	}
	return c, nil
}

func (f *fakeRepo) ListCampaigns(context.Context) ([]domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Campaign, 0, len(f.campaigns))
	for _, c := range f.campaigns {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeRepo) CreatePhase(_ context.Context, p domain.Phase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phases[p.ID] = p
	return nil
}

func (f *fakeRepo) UpdatePhase(_ context.Context, p domain.Phase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.phases[p.ID]; !ok {
		return ErrNotFound
	}
	f.phases[p.ID] = p
	return nil
}

func (f *fakeRepo) GetPhase(_ context.Context, id string) (domain.Phase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.phases[id]
	if !ok {
		return domain.Phase{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) ListPhases(_ context.Context, campaignID string) ([]domain.Phase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Phase, 0)
	for _, p := range f.phases {
		if p.CampaignID == campaignID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRepo) CompletePhase(_ context.Context, p domain.Phase, event domain.DriftEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phases[p.ID] = p
	f.drift[event.ID] = event
	return nil
}

func (f *fakeRepo) CreateWorkItem(_ context.Context, w domain.WorkItem, event domain.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[w.ID] = w
	f.events = append(f.events, event)
	return nil
}

func (f *fakeRepo) UpdateWorkItem(_ context.Context, w domain.WorkItem, event domain.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[w.ID]; !ok {
		return ErrNotFound
	}
	f.items[w.ID] = w
	f.events = append(f.events, event)
	return nil
}

func (f *fakeRepo) GetWorkItem(_ context.Context, id string) (domain.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.items[id]
	if !ok {
		return domain.WorkItem{}, ErrNotFound
	}
	return w, nil
}

func (f *fakeRepo) ListWorkItems(_ context.Context, campaignID string) ([]domain.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.WorkItem, 0)
	for _, w := range f.items {
		if w.CampaignID == campaignID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeRepo) ApplyWorkItemMove(_ context.Context, move WorkItemMove) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moveErr != nil {
		return f.moveErr
	}
	f.items[move.Item.ID] = move.Item
	if move.Closed != nil {
		f.history[move.Closed.ID] = *move.Closed
	}
	if move.Opened != nil {
		f.history[move.Opened.ID] = *move.Opened
	}
	f.events = append(f.events, move.Event)
	return nil
}

func (f *fakeRepo) ListPhaseHistory(_ context.Context, itemID string) ([]domain.PhaseHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.PhaseHistoryEntry, 0)
	for _, h := range f.history {
		if h.WorkItemID == itemID {
			out = append(out, h)
		}
	}
	domain.SortHistory(out)
	return out, nil
}

func (f *fakeRepo) ListCampaignPhaseHistory(_ context.Context, campaignID string) ([]domain.PhaseHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.PhaseHistoryEntry, 0)
	for _, h := range f.history {
		if f.items[h.WorkItemID].CampaignID == campaignID {
			out = append(out, h)
		}
	}
	domain.SortHistory(out)
	return out, nil
}

func (f *fakeRepo) SavePhaseHistoryEntry(_ context.Context, entry domain.PhaseHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[entry.ID] = entry
	return nil
}

func (f *fakeRepo) ListCampaignChangeEvents(_ context.Context, campaignID string, limit int) ([]domain.ChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ChangeEvent, 0)
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.events[i].CampaignID == campaignID {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

func (f *fakeRepo) SaveDriftEvent(_ context.Context, event domain.DriftEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drift[event.ID] = event
	return nil
}

func (f *fakeRepo) ListDriftEvents(_ context.Context, campaignID string) ([]domain.DriftEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.DriftEvent, 0)
	for _, event := range f.drift {
		if event.CampaignID == campaignID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (f *fakeRepo) SaveRiskAssessment(_ context.Context, a domain.RiskAssessment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assessments[a.ID] = a
	return nil
}

func (f *fakeRepo) GetRiskAssessment(_ context.Context, id string) (domain.RiskAssessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assessments[id]
	if !ok {
		return domain.RiskAssessment{}, ErrNotFound
	}
	return a, nil
}

func (f *fakeRepo) ListRiskAssessments(_ context.Context, campaignID string) ([]domain.RiskAssessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.RiskAssessment, 0)
	for _, a := range f.assessments {
		if a.CampaignID == campaignID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeRepo) SaveOverride(_ context.Context, o domain.OverrideEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides[o.ID] = o
	return nil
}

func (f *fakeRepo) GetOverride(_ context.Context, id string) (domain.OverrideEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.overrides[id]
	if !ok {
		return domain.OverrideEvent{}, ErrNotFound
	}
	return o, nil
}

func (f *fakeRepo) ListOverrides(_ context.Context, campaignID string) ([]domain.OverrideEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.OverrideEvent, 0)
	for _, o := range f.overrides {
		if o.CampaignID == campaignID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeRepo) SavePerformanceReport(_ context.Context, r domain.PerformanceReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[r.ID] = r
	return nil
}

func (f *fakeRepo) ListPerformanceReports(_ context.Context, campaignID string) ([]domain.PerformanceReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.PerformanceReport, 0)
	for _, r := range f.reports {
		if r.CampaignID == campaignID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) ReplaceCorrelationInsights(_ context.Context, campaignID string, insights []domain.CorrelationInsight) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insights[campaignID] = slices.Clone(insights)
	return nil
}

func (f *fakeRepo) ListCorrelationInsights(_ context.Context, campaignID string) ([]domain.CorrelationInsight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.insights[campaignID]), nil
}

// testClock is a settable clock shared by a service under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs() IDGenerator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%d", n.Add(1))
	}
}

// recordingLogger captures warn messages.
type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Debug(any, ...any) {}
func (l *recordingLogger) Info(any, ...any)  {}
func (l *recordingLogger) Error(any, ...any) {}

func (l *recordingLogger) Warn(msg any, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fmt.Sprint(msg))
}

func (l *recordingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

// stubReasoner returns a fixed response or error and tracks call concurrency.
type stubReasoner struct {
	resp  domain.ReasoningResponse
	err   error
	panic bool
	block bool

	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (s *stubReasoner) Explain(ctx context.Context, _ domain.ReasoningRequest) (domain.ReasoningResponse, error) {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if s.panic {
		panic("reasoner exploded")
	}
	if s.block {
		<-ctx.Done()
		return domain.ReasoningResponse{}, ctx.Err()
	}
	time.Sleep(2 * time.Millisecond)
	if s.err != nil {
		return domain.ReasoningResponse{}, s.err
	}
	return s.resp, nil
}

func newTestService(t *testing.T, cfg ServiceConfig) (*Service, *fakeRepo, *testClock) {
	t.Helper()
	repo := newFakeRepo()
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	return NewService(repo, sequentialIDs(), clock.Now, cfg), repo, clock
}

func mustCampaign(t *testing.T, svc *Service) domain.Campaign {
	t.Helper()
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	campaign, err := svc.CreateCampaign(context.Background(), CreateCampaignInput{
		Name:      "Spring Launch",
		Category:  "Product Launch",
		Budget:    12000,
		StartDate: start,
		EndDate:   start.Add(30 * 24 * time.Hour),
		Team:      []domain.TeamMember{{ID: "ana", Name: "Ana"}},
	})
	if err != nil {
		t.Fatalf("CreateCampaign() error = %v", err)
	}
	return campaign
}

func mustPhase(t *testing.T, svc *Service, campaignID, name string, planned int) domain.Phase {
	t.Helper()
	phase, err := svc.CreatePhase(context.Background(), CreatePhaseInput{
		CampaignID:          campaignID,
		Name:                name,
		PlannedDurationDays: planned,
	})
	if err != nil {
		t.Fatalf("CreatePhase(%q) error = %v", name, err)
	}
	return phase
}

func TestCreatePhaseAppendsPhaseNumbers(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	campaign := mustCampaign(t, svc)
	first := mustPhase(t, svc, campaign.ID, "Plan", 3)
	second := mustPhase(t, svc, campaign.ID, "Build", 5)
	if first.PhaseNumber != 1 || second.PhaseNumber != 2 {
		t.Fatalf("unexpected phase numbers %d, %d", first.PhaseNumber, second.PhaseNumber)
	}
	if _, err := svc.CreatePhase(context.Background(), CreatePhaseInput{CampaignID: "missing", Name: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown campaign, got %v", err)
	}
}

func TestCompletePhasePersistsDriftEvent(t *testing.T) {
	svc, repo, clock := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	campaign := mustCampaign(t, svc)
	phase := mustPhase(t, svc, campaign.ID, "Launch", 5)

	if _, _, err := svc.CompletePhase(ctx, CompletePhaseInput{PhaseID: phase.ID}); !errors.Is(err, domain.ErrPhaseNotStarted) {
		t.Fatalf("expected ErrPhaseNotStarted, got %v", err)
	}
	if _, err := svc.StartPhase(ctx, phase.ID); err != nil {
		t.Fatalf("StartPhase() error = %v", err)
	}
	clock.Advance(8 * 24 * time.Hour)
	completed, event, err := svc.CompletePhase(ctx, CompletePhaseInput{PhaseID: phase.ID, RootCause: "vendor delay"})
	if err != nil {
		t.Fatalf("CompletePhase() error = %v", err)
	}
	if completed.Status != domain.PhaseStatusCompleted || *completed.DriftDays != 3 {
		t.Fatalf("unexpected completed phase %#v", completed)
	}
	if event.DriftType != domain.DriftNegative || event.RootCause != "vendor delay" || event.ID == "" {
		t.Fatalf("unexpected drift event %#v", event)
	}
	if _, ok := repo.drift[event.ID]; !ok {
		t.Fatal("expected drift event to be persisted")
	}
	if _, _, err := svc.CompletePhase(ctx, CompletePhaseInput{PhaseID: phase.ID}); !errors.Is(err, domain.ErrPhaseAlreadyCompleted) {
		t.Fatalf("expected ErrPhaseAlreadyCompleted, got %v", err)
	}
}

func TestMoveWorkItemCarriesTimeAcrossRevisits(t *testing.T) {
	svc, repo, clock := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	campaign := mustCampaign(t, svc)
	draft := mustPhase(t, svc, campaign.ID, "Draft", 3)
	review := mustPhase(t, svc, campaign.ID, "Review", 2)
	item, err := svc.CreateWorkItem(ctx, CreateWorkItemInput{CampaignID: campaign.ID, Title: "Hero video", AssigneeID: "ana"})
	if err != nil {
		t.Fatalf("CreateWorkItem() error = %v", err)
	}

	move := func(to string) domain.WorkItem {
		t.Helper()
		moved, err := svc.MoveWorkItem(ctx, MoveWorkItemInput{ItemID: item.ID, ToPhaseID: to})
		if err != nil {
			t.Fatalf("MoveWorkItem(%q) error = %v", to, err)
		}
		return moved
	}

	move(draft.ID)
	clock.Advance(30 * time.Minute)
	move(review.ID)
	clock.Advance(20 * time.Minute)
	back := move(draft.ID)
	if back.TimeInPhaseMinutes != 30 || back.Status != domain.StatusInProgress {
		t.Fatalf("expected 30 carried minutes, got %#v", back)
	}
	clock.Advance(10 * time.Minute)
	live, err := svc.LiveElapsedMinutes(ctx, item.ID)
	if err != nil {
		t.Fatalf("LiveElapsedMinutes() error = %v", err)
	}
	if live != 40 {
		t.Fatalf("expected 40 live minutes, got %d", live)
	}

	history, err := svc.ListPhaseHistory(ctx, item.ID)
	if err != nil {
		t.Fatalf("ListPhaseHistory() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 history entries, got %#v", history)
	}
	if history[0].TimeSpentMinutes != 30 || history[1].TimeSpentMinutes != 20 || history[2].IsClosed() {
		t.Fatalf("unexpected history %#v", history)
	}
	if history[2].Sequence != 2 {
		t.Fatalf("expected revisit sequence 2, got %d", history[2].Sequence)
	}

	same, err := svc.MoveWorkItem(ctx, MoveWorkItemInput{ItemID: item.ID, ToPhaseID: draft.ID})
	if err != nil || same.TimeInPhaseMinutes != 30 {
		t.Fatalf("expected no-op move, got %#v err=%v", same, err)
	}
	if len(repo.events) != 4 {
		t.Fatalf("expected create + 3 move events, got %d", len(repo.events))
	}
}

func TestMoveWorkItemFailureLeavesStateUntouched(t *testing.T) {
	svc, repo, clock := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	campaign := mustCampaign(t, svc)
	draft := mustPhase(t, svc, campaign.ID, "Draft", 3)
	item, err := svc.CreateWorkItem(ctx, CreateWorkItemInput{CampaignID: campaign.ID, Title: "Copy"})
	if err != nil {
		t.Fatalf("CreateWorkItem() error = %v", err)
	}
	repo.moveErr = errors.New("disk full")
	clock.Advance(time.Minute)
	if _, err := svc.MoveWorkItem(ctx, MoveWorkItemInput{ItemID: item.ID, ToPhaseID: draft.ID}); err == nil {
		t.Fatal("expected move error")
	}
	stored, _ := repo.GetWorkItem(ctx, item.ID)
	if stored.PhaseID != "" || stored.StartedAt != nil || len(repo.history) != 0 {
		t.Fatalf("expected untouched item and history, got %#v / %#v", stored, repo.history)
	}
}

func TestMoveWorkItemRejectsPhaseFromOtherCampaign(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	first := mustCampaign(t, svc)
	second := mustCampaign(t, svc)
	foreign := mustPhase(t, svc, second.ID, "Draft", 3)
	item, err := svc.CreateWorkItem(ctx, CreateWorkItemInput{CampaignID: first.ID, Title: "Copy"})
	if err != nil {
		t.Fatalf("CreateWorkItem() error = %v", err)
	}
	if _, err := svc.MoveWorkItem(ctx, MoveWorkItemInput{ItemID: item.ID, ToPhaseID: foreign.ID}); !errors.Is(err, domain.ErrPhaseCampaignMismatch) {
		t.Fatalf("expected ErrPhaseCampaignMismatch, got %v", err)
	}
}

func TestChangeEventsCarryMutationActor(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	campaign := mustCampaign(t, svc)
	ctx := WithMutationActor(context.Background(), MutationActor{ActorID: " planner-bot ", ActorType: "AGENT"})
	item, err := svc.CreateWorkItem(ctx, CreateWorkItemInput{CampaignID: campaign.ID, Title: "Landing page"})
	if err != nil {
		t.Fatalf("CreateWorkItem() error = %v", err)
	}
	if _, err := svc.SetWorkItemStatus(context.Background(), item.ID, domain.StatusBlocked, "legal review"); err != nil {
		t.Fatalf("SetWorkItemStatus() error = %v", err)
	}
	events, err := svc.ListChangeEvents(context.Background(), campaign.ID, 0)
	if err != nil {
		t.Fatalf("ListChangeEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %#v", events)
	}
	status, create := events[0], events[1]
	if create.ActorID != "planner-bot" || create.ActorType != domain.ActorTypeAgent || create.Operation != domain.ChangeOperationCreate {
		t.Fatalf("unexpected create event %#v", create)
	}
	if status.ActorID != defaultActorID || status.Metadata["to_status"] != "blocked" {
		t.Fatalf("unexpected status event %#v", status)
	}
}

func TestDriftBoardMergesPersistedAndProjected(t *testing.T) {
	svc, repo, clock := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	campaign := mustCampaign(t, svc)
	done := mustPhase(t, svc, campaign.ID, "Plan", 2)
	running := mustPhase(t, svc, campaign.ID, "Build", 3)
	mustPhase(t, svc, campaign.ID, "Launch", 4)

	if _, err := svc.StartPhase(ctx, done.ID); err != nil {
		t.Fatalf("StartPhase() error = %v", err)
	}
	clock.Advance(2 * 24 * time.Hour)
	if _, _, err := svc.CompletePhase(ctx, CompletePhaseInput{PhaseID: done.ID}); err != nil {
		t.Fatalf("CompletePhase() error = %v", err)
	}
	if _, err := svc.StartPhase(ctx, running.ID); err != nil {
		t.Fatalf("StartPhase() error = %v", err)
	}
	clock.Advance(5 * 24 * time.Hour)
	persistedBefore := len(repo.drift)

	board, err := svc.DriftBoard(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("DriftBoard() error = %v", err)
	}
	if len(board.Events) != 2 {
		t.Fatalf("expected completed + projected events, got %#v", board.Events)
	}
	if board.Events[0].Projected || board.Events[0].DriftDays != 0 {
		t.Fatalf("unexpected completed event %#v", board.Events[0])
	}
	projected := board.Events[1]
	if !projected.Projected || projected.DriftDays != 2 || projected.DriftType != domain.DriftNegative {
		t.Fatalf("unexpected projected event %#v", projected)
	}
	if len(repo.drift) != persistedBefore {
		t.Fatal("expected drift board to be read-only")
	}
	// (1 + 0.5) / 3 * 100 = 50, average drift (0 + 2) / 2 = 1, penalty 5.
	if board.Health.Score != 45 {
		t.Fatalf("expected health score 45, got %#v", board.Health)
	}

	got, ok, err := svc.ProjectedDrift(ctx, running.ID)
	if err != nil || !ok || got.DriftDays != 2 {
		t.Fatalf("unexpected projected drift %#v ok=%v err=%v", got, ok, err)
	}
	if _, ok, _ := svc.ProjectedDrift(ctx, done.ID); ok {
		t.Fatal("expected completed phase to have no projection")
	}
}

func TestWatchProjectedDriftEmitsUntilCancelled(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	campaign := mustCampaign(t, svc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	err := svc.WatchProjectedDrift(ctx, campaign.ID, time.Second, func(board DriftBoard) error {
		calls++
		if board.CampaignID != campaign.ID {
			t.Fatalf("unexpected board %#v", board)
		}
		cancel()
		return nil
	})
	if err != nil {
		t.Fatalf("WatchProjectedDrift() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one immediate emission, got %d", calls)
	}

	stop := errors.New("stop")
	err = svc.WatchProjectedDrift(context.Background(), campaign.ID, 0, func(DriftBoard) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if err := svc.WatchProjectedDrift(context.Background(), "missing", 0, func(DriftBoard) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClampPollInterval(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		0:                DefaultPollInterval,
		-time.Second:     DefaultPollInterval,
		time.Millisecond: time.Second,
		5 * time.Second:  5 * time.Second,
		5 * time.Minute:  time.Minute,
	}
	for in, want := range cases {
		if got := clampPollInterval(in); got != want {
			t.Fatalf("clampPollInterval(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestCategoryBenchmarkResolution(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{CategoryBenchmarks: map[string]float64{
		"product_launch": 15000,
		"Default":        4200,
		"broken":         -1,
	}})
	if got := svc.categoryBenchmark("Product Launch"); got != 15000 {
		t.Fatalf("expected product launch benchmark, got %v", got)
	}
	if got := svc.categoryBenchmark("unknown"); got != 4200 {
		t.Fatalf("expected default benchmark, got %v", got)
	}
	if got := svc.categoryBenchmark("broken"); got != 4200 {
		t.Fatalf("expected non-positive benchmark to be ignored, got %v", got)
	}
	bare, _, _ := newTestService(t, ServiceConfig{})
	if got := bare.categoryBenchmark("anything"); got != fallbackCategoryBenchmark {
		t.Fatalf("expected built-in fallback benchmark, got %v", got)
	}
}

func TestAssessRiskPersistsAndOverridesReconcile(t *testing.T) {
	svc, _, clock := newTestService(t, ServiceConfig{CategoryBenchmarks: map[string]float64{"product_launch": 15000}})
	ctx := context.Background()
	campaign := mustCampaign(t, svc)

	if _, err := svc.LatestRiskAssessment(ctx, campaign.ID); !errors.Is(err, ErrNoAssessment) {
		t.Fatalf("expected ErrNoAssessment, got %v", err)
	}
	preview, err := svc.PreviewRisk(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("PreviewRisk() error = %v", err)
	}
	if preview.ID != "" {
		t.Fatalf("expected preview to stay unsaved, got id %q", preview.ID)
	}
	first, err := svc.AssessRisk(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("AssessRisk() error = %v", err)
	}
	if first.OverallScore != preview.OverallScore || len(first.Factors) != 5 {
		t.Fatalf("expected assessment to match preview, got %#v vs %#v", first, preview)
	}
	clock.Advance(time.Hour)
	second, err := svc.AssessRisk(ctx, campaign.ID)
	if err != nil {
		t.Fatalf("AssessRisk() error = %v", err)
	}
	latest, err := svc.LatestRiskAssessment(ctx, campaign.ID)
	if err != nil || latest.ID != second.ID {
		t.Fatalf("expected latest assessment %q, got %#v err=%v", second.ID, latest, err)
	}

	action := domain.GateProceed
	if second.GateRecommendation == domain.GateProceed {
		action = domain.GatePause
	}
	override, err := svc.RecordOverride(ctx, RecordOverrideInput{CampaignID: campaign.ID, ActualAction: action, Reason: "launch date fixed"})
	if err != nil {
		t.Fatalf("RecordOverride() error = %v", err)
	}
	if override.AssessmentID != second.ID || !override.Deviated() || override.OverallScore != second.OverallScore {
		t.Fatalf("unexpected override %#v", override)
	}
	reconciled, err := svc.ReconcileOverride(ctx, override.ID, domain.OutcomeSuccess, "beat plan")
	if err != nil {
		t.Fatalf("ReconcileOverride() error = %v", err)
	}
	if reconciled.Justified == nil || !*reconciled.Justified {
		t.Fatalf("expected successful deviation to be justified, got %#v", reconciled)
	}
	if _, err := svc.ReconcileOverride(ctx, override.ID, domain.OutcomeFailure, ""); !errors.Is(err, domain.ErrOverrideAlreadyReconciled) {
		t.Fatalf("expected ErrOverrideAlreadyReconciled, got %v", err)
	}

	other := mustCampaign(t, svc)
	if _, err := svc.RecordOverride(ctx, RecordOverrideInput{CampaignID: other.ID, AssessmentID: first.ID, ActualAction: domain.GatePause}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign assessment, got %v", err)
	}
}

// seedLateLaunch builds a campaign whose 5-day phase ran 8 days while sales fell 58%.
func seedLateLaunch(t *testing.T, svc *Service, clock *testClock) domain.Campaign {
	t.Helper()
	ctx := context.Background()
	campaign := mustCampaign(t, svc)
	phase := mustPhase(t, svc, campaign.ID, "Launch", 5)
	if _, err := svc.StartPhase(ctx, phase.ID); err != nil {
		t.Fatalf("StartPhase() error = %v", err)
	}
	clock.Advance(8 * 24 * time.Hour)
	if _, _, err := svc.CompletePhase(ctx, CompletePhaseInput{PhaseID: phase.ID, RootCause: "asset approvals"}); err != nil {
		t.Fatalf("CompletePhase() error = %v", err)
	}
	for _, r := range []RecordPerformanceReportInput{
		{CampaignID: campaign.ID, WeekStarting: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), TotalSales: 1200},
		{CampaignID: campaign.ID, WeekStarting: time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), TotalSales: 500},
	} {
		if _, err := svc.RecordPerformanceReport(ctx, r); err != nil {
			t.Fatalf("RecordPerformanceReport() error = %v", err)
		}
	}
	return campaign
}

func TestAnalyzeCorrelationsFallsBackOnReasonerFailure(t *testing.T) {
	cases := map[string]*stubReasoner{
		"error":   {err: errors.New("upstream 503")},
		"invalid": {resp: domain.ReasoningResponse{PerformanceImpact: "catastrophic", CorrelationStrength: domain.StrengthStrong, Analysis: "x", Confidence: 90}},
		"panic":   {panic: true},
		"timeout": {block: true},
	}
	for name, reasoner := range cases {
		t.Run(name, func(t *testing.T) {
			logger := &recordingLogger{}
			svc, repo, clock := newTestService(t, ServiceConfig{
				Reasoner:         reasoner,
				ReasoningTimeout: 20 * time.Millisecond,
				Logger:           logger,
			})
			campaign := seedLateLaunch(t, svc, clock)

			report, err := svc.AnalyzeCorrelations(context.Background(), campaign.ID)
			if err != nil {
				t.Fatalf("AnalyzeCorrelations() error = %v", err)
			}
			if len(report.Insights) != 2 {
				t.Fatalf("expected delay + phase change insights, got %#v", report.Insights)
			}
			for _, insight := range report.Insights {
				if insight.Source != domain.SourceFallback || insight.Confidence != 40 || insight.PerformanceImpact != domain.ImpactNegative {
					t.Fatalf("expected fallback insight, got %#v", insight)
				}
				if insight.ID == "" {
					t.Fatal("expected insight id")
				}
			}
			if report.Summary.StrongCorrelations != 1 || report.Summary.NegativeImpacts != 2 {
				t.Fatalf("unexpected summary %#v", report.Summary)
			}
			if report.Summary.KeyInsight == nil || report.Summary.KeyInsight.Event.Type != domain.EventDelay {
				t.Fatalf("expected the delay as key insight, got %#v", report.Summary.KeyInsight)
			}
			if logger.count() != 2 {
				t.Fatalf("expected one warning per fallback, got %d", logger.count())
			}
			if len(repo.insights[campaign.ID]) != 2 {
				t.Fatalf("expected insights to be stored, got %#v", repo.insights[campaign.ID])
			}
		})
	}
}

func TestAnalyzeCorrelationsUsesReasonerAndBoundsConcurrency(t *testing.T) {
	reasoner := &stubReasoner{resp: domain.ReasoningResponse{
		PerformanceImpact:   domain.ImpactNegative,
		CorrelationStrength: domain.StrengthStrong,
		Analysis:            "Launch slip pushed the promo past its peak week.",
		Confidence:          82,
		ActionableInsight:   "Lock creative approvals a week earlier.",
	}}
	svc, _, clock := newTestService(t, ServiceConfig{Reasoner: reasoner, ReasoningConcurrency: 1})
	campaign := seedLateLaunch(t, svc, clock)

	report, err := svc.AnalyzeCorrelations(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("AnalyzeCorrelations() error = %v", err)
	}
	if reasoner.calls.Load() != 2 || reasoner.peak.Load() != 1 {
		t.Fatalf("expected 2 sequential calls, got calls=%d peak=%d", reasoner.calls.Load(), reasoner.peak.Load())
	}
	for _, insight := range report.Insights {
		if insight.Source != domain.SourceReasoning || insight.Confidence != 82 {
			t.Fatalf("expected reasoned insight, got %#v", insight)
		}
	}

	stored, err := svc.ListCorrelationInsights(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("ListCorrelationInsights() error = %v", err)
	}
	if stored.Summary.TotalInsights != 2 || stored.GeneratedAt.IsZero() {
		t.Fatalf("unexpected stored report %#v", stored)
	}
}

func TestAnalyzeCorrelationsStopsWhenCanceled(t *testing.T) {
	cases := map[string]*stubReasoner{
		"reasoner": {block: true},
		"fallback": nil,
	}
	for name, reasoner := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := ServiceConfig{ReasoningTimeout: time.Second}
			if reasoner != nil {
				cfg.Reasoner = reasoner
			}
			svc, repo, clock := newTestService(t, cfg)
			campaign := seedLateLaunch(t, svc, clock)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			if _, err := svc.AnalyzeCorrelations(ctx, campaign.ID); !errors.Is(err, context.Canceled) {
				t.Fatalf("AnalyzeCorrelations() error = %v, want %v", err, context.Canceled)
			}
			if len(repo.insights[campaign.ID]) != 0 {
				t.Fatalf("expected no stored insights after cancel, got %#v", repo.insights[campaign.ID])
			}
		})
	}
}

func TestAnalyzeCorrelationsRejectsLowConfidence(t *testing.T) {
	reasoner := &stubReasoner{resp: domain.ReasoningResponse{
		PerformanceImpact:   domain.ImpactPositive,
		CorrelationStrength: domain.StrengthWeak,
		Analysis:            "Probably seasonal.",
		Confidence:          12,
	}}
	svc, _, clock := newTestService(t, ServiceConfig{Reasoner: reasoner, ReasoningMinConfidence: 50})
	campaign := seedLateLaunch(t, svc, clock)

	report, err := svc.AnalyzeCorrelations(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("AnalyzeCorrelations() error = %v", err)
	}
	for _, insight := range report.Insights {
		if insight.Source != domain.SourceFallback {
			t.Fatalf("expected low-confidence response to fall back, got %#v", insight)
		}
	}
}

func TestAnalyzeCorrelationsWithoutReports(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	campaign := mustCampaign(t, svc)
	report, err := svc.AnalyzeCorrelations(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("AnalyzeCorrelations() error = %v", err)
	}
	if len(report.Insights) != 0 || report.Summary.KeyInsight != nil {
		t.Fatalf("expected empty report, got %#v", report)
	}
	if _, err := svc.AnalyzeCorrelations(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
