package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/evanschultz/cadence/internal/adapters/reasoning/gemini"
	serveradapter "github.com/evanschultz/cadence/internal/adapters/server"
	servercommon "github.com/evanschultz/cadence/internal/adapters/server/common"
	"github.com/evanschultz/cadence/internal/app"
	"github.com/evanschultz/cadence/internal/config"
	"github.com/evanschultz/cadence/internal/domain"
)

// TestMain sets deterministic environment defaults for CLI tests.
func TestMain(m *testing.M) {
	_ = os.Setenv("CADENCE_DEV_MODE", "false")
	_ = os.Unsetenv("CADENCE_GENAI_API_KEY")
	_ = os.Unsetenv("CADENCE_REASONING_ENABLED")
	os.Exit(m.Run())
}

// cliHarness runs commands against one temp database.
type cliHarness struct {
	t       *testing.T
	dbPath  string
	cfgPath string
}

func newCLIHarness(t *testing.T) cliHarness {
	t.Helper()
	dir := t.TempDir()
	return cliHarness{
		t:       t,
		dbPath:  filepath.Join(dir, "cadence.db"),
		cfgPath: filepath.Join(dir, "missing-config.toml"),
	}
}

// run executes args and returns stdout, failing the test on error.
func (h cliHarness) run(args ...string) string {
	h.t.Helper()
	out, err := h.runErr(args...)
	if err != nil {
		h.t.Fatalf("run(%v) error = %v", args, err)
	}
	return out
}

func (h cliHarness) runErr(args ...string) (string, error) {
	h.t.Helper()
	var stdout bytes.Buffer
	full := append([]string{"--db", h.dbPath, "--config", h.cfgPath, "--dev=false"}, args...)
	err := run(context.Background(), full, &stdout, io.Discard)
	return stdout.String(), err
}

// runJSON executes args with --json and decodes stdout into out.
func (h cliHarness) runJSON(out any, args ...string) {
	h.t.Helper()
	raw := h.run(append([]string{"--json"}, args...)...)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		h.t.Fatalf("decode %v output: %v\n%s", args, err, raw)
	}
}

// TestRunVersion verifies the version flag is wired.
func TestRunVersion(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), []string{"--version"}, &out, io.Discard); err != nil {
		t.Fatalf("run(--version) error = %v", err)
	}
	if strings.TrimSpace(out.String()) == "" {
		t.Fatal("expected version output")
	}
}

// TestRunPathsCommand verifies path resolution output without opening storage.
func TestRunPathsCommand(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), []string{"--app", "cadence-test", "--dev=false", "paths"}, &out, io.Discard); err != nil {
		t.Fatalf("run(paths) error = %v", err)
	}
	for _, want := range []string{"app: cadence-test", "dev_mode: false", "config:", "data_dir:", "db:", "log_dir:"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("paths output missing %q:\n%s", want, out.String())
		}
	}
}

// TestRunCampaignLifecycle drives a campaign through phases, items, drift, and events.
func TestRunCampaignLifecycle(t *testing.T) {
	h := newCLIHarness(t)

	var campaign servercommon.Campaign
	h.runJSON(&campaign, "campaign", "create",
		"--name", "Spring Launch",
		"--category", "product_launch",
		"--budget", "50000",
		"--start", "2026-03-01",
		"--end", "2026-04-15",
		"--member", "ana:Ana",
	)
	if campaign.ID == "" || campaign.Name != "Spring Launch" {
		t.Fatalf("unexpected campaign %#v", campaign)
	}
	if len(campaign.Team) != 1 || campaign.Team[0].ID != "ana" {
		t.Fatalf("expected roster with ana, got %#v", campaign.Team)
	}

	if out := h.run("campaign", "list"); !strings.Contains(out, "Spring Launch") {
		t.Fatalf("campaign list missing campaign:\n%s", out)
	}

	var creative servercommon.Phase
	h.runJSON(&creative, "phase", "add", campaign.ID, "--name", "Creative", "--days", "5")
	var review servercommon.Phase
	h.runJSON(&review, "phase", "add", campaign.ID, "--name", "Review", "--days", "3")
	if creative.PhaseNumber != 1 || review.PhaseNumber != 2 {
		t.Fatalf("expected appended phase numbers 1,2, got %d,%d", creative.PhaseNumber, review.PhaseNumber)
	}

	var started servercommon.Phase
	h.runJSON(&started, "phase", "start", creative.ID)
	if started.Status != string(domain.PhaseStatusInProgress) {
		t.Fatalf("expected in_progress phase, got %q", started.Status)
	}

	var item servercommon.WorkItem
	h.runJSON(&item, "item", "add", campaign.ID, "--title", "Hero video", "--assignee", "ana")
	if item.PhaseID != "" {
		t.Fatalf("expected backlog item, got phase %q", item.PhaseID)
	}

	var moved servercommon.WorkItem
	h.runJSON(&moved, "--actor", "tester", "item", "move", item.ID, "--to", creative.ID)
	if moved.PhaseID != creative.ID || moved.Status != string(domain.StatusInProgress) {
		t.Fatalf("unexpected moved item %#v", moved)
	}

	var history []domain.PhaseHistoryEntry
	h.runJSON(&history, "item", "history", item.ID)
	if len(history) != 1 || history[0].PhaseID != creative.ID || history[0].ExitedAt != nil {
		t.Fatalf("expected one open history entry, got %#v", history)
	}

	var result servercommon.CompletePhaseResult
	h.runJSON(&result, "phase", "complete", creative.ID, "--root-cause", "late approvals", "--attribution", "client")
	if result.Phase.Status != string(domain.PhaseStatusCompleted) {
		t.Fatalf("expected completed phase, got %q", result.Phase.Status)
	}
	if result.DriftEvent.PlannedDuration != 5 || result.DriftEvent.PhaseID != creative.ID {
		t.Fatalf("unexpected drift event %#v", result.DriftEvent)
	}

	var board app.DriftBoard
	h.runJSON(&board, "drift", campaign.ID)
	if board.Health.TotalPhases != 2 || board.Health.CompletedPhases != 1 {
		t.Fatalf("unexpected health %#v", board.Health)
	}
	if out := h.run("drift", campaign.ID); !strings.Contains(out, "Operational health") {
		t.Fatalf("drift output missing health header:\n%s", out)
	}

	var events []servercommon.ChangeEvent
	h.runJSON(&events, "events", campaign.ID, "--limit", "10")
	if len(events) == 0 {
		t.Fatal("expected change events")
	}
	foundMove := false
	for _, event := range events {
		if event.WorkItemID == item.ID && event.ActorID == "tester" && event.ActorType == string(domain.ActorTypeUser) {
			foundMove = true
		}
	}
	if !foundMove {
		t.Fatalf("expected move event attributed to tester, got %#v", events)
	}

	var blocked servercommon.WorkItem
	h.runJSON(&blocked, "item", "status", item.ID, "blocked", "--reason", "waiting on legal")
	if blocked.Status != string(domain.StatusBlocked) || blocked.DelayReason != "waiting on legal" {
		t.Fatalf("unexpected blocked item %#v", blocked)
	}
}

// TestRunRiskAndOverrides verifies assessment, override, and reconcile commands.
func TestRunRiskAndOverrides(t *testing.T) {
	h := newCLIHarness(t)

	var campaign servercommon.Campaign
	h.runJSON(&campaign, "campaign", "create",
		"--name", "Retain",
		"--category", "awareness",
		"--budget", "20000",
		"--start", "2026-05-01",
		"--end", "2026-06-30",
	)

	var preview domain.RiskAssessment
	h.runJSON(&preview, "risk", campaign.ID, "--preview")
	if preview.ID != "" {
		t.Fatalf("expected preview without id, got %q", preview.ID)
	}
	if _, err := h.runErr("override", "record", campaign.ID, "--action", "proceed"); err == nil {
		t.Fatal("expected override before any stored assessment to fail")
	}

	var assessment domain.RiskAssessment
	h.runJSON(&assessment, "risk", campaign.ID)
	if assessment.ID == "" || len(assessment.Factors) == 0 {
		t.Fatalf("unexpected assessment %#v", assessment)
	}
	if out := h.run("risk", campaign.ID, "--preview"); !strings.Contains(out, "Launch readiness") {
		t.Fatalf("risk output missing header:\n%s", out)
	}

	var override domain.OverrideEvent
	h.runJSON(&override, "override", "record", campaign.ID, "--action", "proceed", "--reason", "launch window fixed")
	if override.AssessmentID == "" || override.ActualAction != domain.GateProceed {
		t.Fatalf("unexpected override %#v", override)
	}

	var reconciled domain.OverrideEvent
	h.runJSON(&reconciled, "override", "reconcile", override.ID, "--outcome", "success", "--notes", "hit targets")
	if reconciled.Justified == nil || !*reconciled.Justified {
		t.Fatalf("expected justified override, got %#v", reconciled)
	}
	if _, err := h.runErr("override", "reconcile", override.ID, "--outcome", "failure"); err == nil {
		t.Fatal("expected second reconcile to fail")
	}

	var overrides []domain.OverrideEvent
	h.runJSON(&overrides, "override", "list", campaign.ID)
	if len(overrides) != 1 || overrides[0].Outcome != domain.OutcomeSuccess {
		t.Fatalf("unexpected override list %#v", overrides)
	}
}

// TestRunReportsAndCorrelate verifies reports feed correlation analysis.
func TestRunReportsAndCorrelate(t *testing.T) {
	h := newCLIHarness(t)

	var campaign servercommon.Campaign
	h.runJSON(&campaign, "campaign", "create",
		"--name", "Summer Sale",
		"--category", "conversion",
		"--budget", "30000",
		"--start", "2026-06-01",
		"--end", "2026-07-31",
	)
	h.run("report", "add", campaign.ID, "--week", "2026-06-01", "--sales", "100", "--revenue", "1000", "--engagement", "50", "--views", "900")
	h.run("report", "add", campaign.ID, "--week", "2026-06-08", "--sales", "60", "--revenue", "700", "--engagement", "45", "--views", "880")

	var reports []domain.PerformanceReport
	h.runJSON(&reports, "report", "list", campaign.ID)
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}

	var result app.CorrelationReport
	h.runJSON(&result, "correlate", campaign.ID)
	if result.CampaignID != campaign.ID {
		t.Fatalf("unexpected correlation campaign %q", result.CampaignID)
	}
	for _, insight := range result.Insights {
		if insight.Source != domain.SourceFallback {
			t.Fatalf("expected fallback explanations without a reasoner, got %q", insight.Source)
		}
	}

	var cached app.CorrelationReport
	h.runJSON(&cached, "correlate", campaign.ID, "--cached")
	if len(cached.Insights) != len(result.Insights) {
		t.Fatalf("cached insights = %d, want %d", len(cached.Insights), len(result.Insights))
	}
	if out := h.run("correlate", campaign.ID, "--cached"); !strings.Contains(out, "Correlation summary") {
		t.Fatalf("correlate output missing markdown summary:\n%s", out)
	}
}

// TestRunExportImportRoundTrip verifies snapshots move data between databases.
func TestRunExportImportRoundTrip(t *testing.T) {
	src := newCLIHarness(t)
	var campaign servercommon.Campaign
	src.runJSON(&campaign, "campaign", "create",
		"--name", "Export Me",
		"--category", "awareness",
		"--budget", "10000",
		"--start", "2026-01-05",
		"--end", "2026-02-05",
	)
	src.run("phase", "add", campaign.ID, "--name", "Plan", "--days", "4")

	snapshotPath := filepath.Join(t.TempDir(), "out", "snapshot.json")
	src.run("export", "--out", snapshotPath)
	raw, err := os.ReadFile(snapshotPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var snap app.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Campaigns) != 1 || len(snap.Phases) != 1 {
		t.Fatalf("unexpected snapshot contents: %d campaigns, %d phases", len(snap.Campaigns), len(snap.Phases))
	}
	if out := src.run("export"); !strings.Contains(out, "Export Me") {
		t.Fatalf("stdout export missing campaign:\n%s", out)
	}

	dst := newCLIHarness(t)
	dst.run("import", "--in", snapshotPath)
	var campaigns []servercommon.Campaign
	dst.runJSON(&campaigns, "campaign", "list")
	if len(campaigns) != 1 || campaigns[0].ID != campaign.ID {
		t.Fatalf("unexpected imported campaigns %#v", campaigns)
	}

	if _, err := dst.runErr("import"); err == nil {
		t.Fatal("expected import without --in to fail")
	}
}

// TestRunServeCommandUsesConfigDefaults verifies serve wiring without binding a socket.
func TestRunServeCommandUsesConfigDefaults(t *testing.T) {
	orig := serveCommandRunner
	t.Cleanup(func() { serveCommandRunner = orig })

	var (
		gotCfg  serveradapter.Config
		gotDeps serveradapter.Dependencies
		pingErr error
	)
	serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
		gotCfg = cfg
		gotDeps = deps
		if deps.Ping != nil {
			pingErr = deps.Ping(ctx)
		}
		return nil
	}

	h := newCLIHarness(t)
	h.run("serve", "--http", "127.0.0.1:9999")
	if gotCfg.HTTPBind != "127.0.0.1:9999" {
		t.Fatalf("HTTPBind = %q", gotCfg.HTTPBind)
	}
	if gotCfg.APIEndpoint != "/api/v1" || gotCfg.MCPEndpoint != "/mcp" {
		t.Fatalf("unexpected endpoints %q %q", gotCfg.APIEndpoint, gotCfg.MCPEndpoint)
	}
	if gotCfg.ServerName != "cadence" {
		t.Fatalf("ServerName = %q", gotCfg.ServerName)
	}
	if gotDeps.Engine == nil || gotDeps.Ping == nil {
		t.Fatalf("expected engine and ping dependencies, got %#v", gotDeps)
	}
	if pingErr != nil {
		t.Fatalf("Ping() error = %v", pingErr)
	}

	serveCommandRunner = func(context.Context, serveradapter.Config, serveradapter.Dependencies) error {
		return errors.New("boom")
	}
	if _, err := h.runErr("serve"); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected serve error, got %v", err)
	}
}

// TestRunRejectsUnknownCampaign verifies not-found errors surface from commands.
func TestRunRejectsUnknownCampaign(t *testing.T) {
	h := newCLIHarness(t)
	if _, err := h.runErr("drift", "missing"); err == nil {
		t.Fatal("expected error for unknown campaign")
	}
	if _, err := h.runErr("campaign", "create", "--name", "No dates"); err == nil {
		t.Fatal("expected error for campaign without dates")
	}
}

// stubReasoner records construction for reasoner wiring tests.
type stubReasoner struct{}

func (stubReasoner) Explain(context.Context, domain.ReasoningRequest) (domain.ReasoningResponse, error) {
	return domain.ReasoningResponse{}, nil
}

// TestBuildReasoner verifies disabled, keyless, and configured reasoning paths.
func TestBuildReasoner(t *testing.T) {
	orig := newReasoner
	t.Cleanup(func() { newReasoner = orig })

	var gotCfg gemini.Config
	calls := 0
	newReasoner = func(_ context.Context, cfg gemini.Config, _ ...gemini.Option) (app.Reasoner, error) {
		calls++
		gotCfg = cfg
		return stubReasoner{}, nil
	}

	logger, err := newRuntimeLogger(io.Discard, "cadence", false, config.LoggingConfig{Level: "info"}, "", time.Now)
	if err != nil {
		t.Fatalf("newRuntimeLogger() error = %v", err)
	}
	cfg := config.Default("ignored.db").Reasoning

	reasoner, err := buildReasoner(context.Background(), cfg, logger)
	if err != nil || reasoner != nil {
		t.Fatalf("disabled reasoning = (%v, %v), want (nil, nil)", reasoner, err)
	}

	cfg.Enabled = true
	reasoner, err = buildReasoner(context.Background(), cfg, logger)
	if err != nil || reasoner != nil {
		t.Fatalf("keyless reasoning = (%v, %v), want (nil, nil)", reasoner, err)
	}
	if calls != 0 {
		t.Fatalf("expected no client construction, got %d calls", calls)
	}

	cfg.APIKey = "test-key"
	reasoner, err = buildReasoner(context.Background(), cfg, logger)
	if err != nil || reasoner == nil {
		t.Fatalf("configured reasoning = (%v, %v), want client", reasoner, err)
	}
	if calls != 1 || gotCfg.APIKey != "test-key" || gotCfg.Model != cfg.Model {
		t.Fatalf("unexpected client config %#v (calls=%d)", gotCfg, calls)
	}

	newReasoner = func(context.Context, gemini.Config, ...gemini.Option) (app.Reasoner, error) {
		return nil, errors.New("no network")
	}
	if _, err := buildReasoner(context.Background(), cfg, logger); err == nil {
		t.Fatal("expected construction error to surface")
	}
}

// TestRunUsesReasonerFromEnv verifies env-enabled reasoning reaches the runtime.
func TestRunUsesReasonerFromEnv(t *testing.T) {
	orig := newReasoner
	t.Cleanup(func() { newReasoner = orig })
	calls := 0
	newReasoner = func(context.Context, gemini.Config, ...gemini.Option) (app.Reasoner, error) {
		calls++
		return stubReasoner{}, nil
	}
	t.Setenv("CADENCE_REASONING_ENABLED", "true")
	t.Setenv("CADENCE_GENAI_API_KEY", "env-key")

	h := newCLIHarness(t)
	h.run("campaign", "list")
	if calls != 1 {
		t.Fatalf("expected one reasoner construction, got %d", calls)
	}
}

// TestCorrelationThresholdsFromConfig verifies config cutoffs map onto engine thresholds.
func TestCorrelationThresholdsFromConfig(t *testing.T) {
	cfg := config.Default("ignored.db").Correlation
	got := correlationThresholds(cfg)
	if got.SignificanceFloorPct != cfg.SignificanceFloorPct || got.TrendWindow != cfg.TrendWindow || got.FallbackConfidence != cfg.FallbackConfidence {
		t.Fatalf("unexpected thresholds %#v", got)
	}
}

// TestParseMembers verifies roster flag decoding.
func TestParseMembers(t *testing.T) {
	members, err := parseMembers([]string{"ana:Ana Ruiz", "bo"})
	if err != nil {
		t.Fatalf("parseMembers() error = %v", err)
	}
	if len(members) != 2 || members[0].Name != "Ana Ruiz" || members[1].Name != "bo" {
		t.Fatalf("unexpected members %#v", members)
	}
	if _, err := parseMembers([]string{":nameless"}); err == nil {
		t.Fatal("expected error for member without id")
	}
}

// TestDevLogFilePath verifies absolute, workspace, and fallback resolution.
func TestDevLogFilePath(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

	absDir := t.TempDir()
	got, err := devLogFilePath(absDir, "", "cadence", now)
	if err != nil {
		t.Fatalf("devLogFilePath() error = %v", err)
	}
	if want := filepath.Join(absDir, "cadence-20260309.log"); got != want {
		t.Fatalf("devLogFilePath(abs) = %q, want %q", got, want)
	}

	workspace := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspace, "go.mod"), []byte("module x\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	nested := filepath.Join(workspace, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	root, ok := workspaceRootFrom(nested)
	if !ok || root != workspace {
		t.Fatalf("workspaceRootFrom() = (%q, %t), want (%q, true)", root, ok, workspace)
	}

	t.Chdir(nested)
	got, err = devLogFilePath(".cadence/log", "", "my app", now)
	if err != nil {
		t.Fatalf("devLogFilePath() error = %v", err)
	}
	if want := filepath.Join(workspace, ".cadence", "log", "my-app-20260309.log"); got != want {
		t.Fatalf("devLogFilePath(workspace) = %q, want %q", got, want)
	}

	if got := sanitizeLogFileStem(" / "); got != "cadence" {
		t.Fatalf("sanitizeLogFileStem(blank) = %q", got)
	}
}

// TestRuntimeLoggerWritesDevFile verifies dev mode adds a logfmt file sink.
func TestRuntimeLoggerWritesDevFile(t *testing.T) {
	dir := t.TempDir()
	now := func() time.Time { return time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC) }
	var console bytes.Buffer
	logger, err := newRuntimeLogger(&console, "cadence", true, config.LoggingConfig{
		Level:   "debug",
		DevFile: config.DevFileConfig{Enabled: true, Dir: dir},
	}, "", now)
	if err != nil {
		t.Fatalf("newRuntimeLogger() error = %v", err)
	}
	logger.Info("phase completed", "phase_id", "p1")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	content, err := os.ReadFile(logger.DevLogPath())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(content), "phase_id=p1") {
		t.Fatalf("dev log missing keyvals: %q", string(content))
	}
	if !strings.Contains(console.String(), "phase completed") {
		t.Fatalf("console log missing message: %q", console.String())
	}

	if _, err := newRuntimeLogger(io.Discard, "cadence", false, config.LoggingConfig{Level: "loud"}, "", now); err == nil {
		t.Fatal("expected invalid level error")
	}
}
