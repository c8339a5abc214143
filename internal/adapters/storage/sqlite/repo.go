package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanschultz/cadence/internal/app"
	"github.com/evanschultz/cadence/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// Repository represents repository data used by this package.
type Repository struct {
	db *sql.DB
}

// Open opens the requested operation.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenInMemory opens in memory.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, "file::memory:?cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL,
			name TEXT NOT NULL,
			category TEXT NOT NULL,
			budget REAL NOT NULL DEFAULT 0,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			team_json TEXT NOT NULL DEFAULT '[]',
			benchmarks_json TEXT NOT NULL DEFAULT '{}',
			creative_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS phases (
			id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL,
			name TEXT NOT NULL,
			phase_number INTEGER NOT NULL,
			planned_duration_days INTEGER NOT NULL DEFAULT 0,
			planned_end_date TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			actual_start_date TEXT,
			actual_end_date TEXT,
			actual_duration_days INTEGER,
			drift_days INTEGER,
			drift_type TEXT NOT NULL DEFAULT '',
			root_cause TEXT NOT NULL DEFAULT '',
			attribution TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY(campaign_id) REFERENCES campaigns(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS work_items (
			id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL,
			phase_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			assignee_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'planned',
			position INTEGER NOT NULL,
			started_at TEXT,
			time_in_phase_minutes INTEGER NOT NULL DEFAULT 0,
			completed_phases_json TEXT NOT NULL DEFAULT '[]',
			delay_reason TEXT NOT NULL DEFAULT '',
			due_at TEXT,
			completed_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY(campaign_id) REFERENCES campaigns(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS phase_history (
			id TEXT PRIMARY KEY,
			work_item_id TEXT NOT NULL,
			phase_id TEXT NOT NULL,
			phase_name TEXT NOT NULL DEFAULT '',
			sequence INTEGER NOT NULL DEFAULT 1,
			entered_at TEXT NOT NULL,
			exited_at TEXT,
			time_spent_minutes INTEGER NOT NULL DEFAULT 0,
			completion_timing TEXT NOT NULL DEFAULT '',
			FOREIGN KEY(work_item_id) REFERENCES work_items(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS change_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			campaign_id TEXT NOT NULL,
			work_item_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			actor_type TEXT NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			FOREIGN KEY(campaign_id) REFERENCES campaigns(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS drift_events (
			id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL,
			phase_id TEXT NOT NULL,
			phase_name TEXT NOT NULL DEFAULT '',
			drift_type TEXT NOT NULL,
			drift_days INTEGER NOT NULL,
			planned_duration INTEGER NOT NULL,
			actual_duration INTEGER NOT NULL,
			root_cause TEXT NOT NULL DEFAULT '',
			attribution TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			FOREIGN KEY(campaign_id) REFERENCES campaigns(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS risk_assessments (
			id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL,
			overall_score INTEGER NOT NULL,
			risk_level TEXT NOT NULL,
			gate_recommendation TEXT NOT NULL,
			factors_json TEXT NOT NULL DEFAULT '[]',
			mitigations_json TEXT NOT NULL DEFAULT '[]',
			assessed_at TEXT NOT NULL,
			FOREIGN KEY(campaign_id) REFERENCES campaigns(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS overrides (
			id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL,
			assessment_id TEXT NOT NULL DEFAULT '',
			original_recommendation TEXT NOT NULL,
			actual_action TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			overall_score INTEGER NOT NULL,
			risk_level TEXT NOT NULL,
			decided_at TEXT NOT NULL,
			outcome TEXT NOT NULL DEFAULT '',
			outcome_notes TEXT NOT NULL DEFAULT '',
			reconciled_at TEXT,
			justified INTEGER,
			FOREIGN KEY(campaign_id) REFERENCES campaigns(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS performance_reports (
			id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL,
			week_starting TEXT NOT NULL,
			total_sales REAL NOT NULL DEFAULT 0,
			total_revenue REAL NOT NULL DEFAULT 0,
			total_engagement REAL NOT NULL DEFAULT 0,
			views REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			FOREIGN KEY(campaign_id) REFERENCES campaigns(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS correlation_insights (
			id TEXT PRIMARY KEY,
			campaign_id TEXT NOT NULL,
			event_json TEXT NOT NULL,
			metric_changes_json TEXT NOT NULL DEFAULT '[]',
			performance_impact TEXT NOT NULL,
			correlation_strength TEXT NOT NULL,
			confidence INTEGER NOT NULL,
			analysis TEXT NOT NULL DEFAULT '',
			actionable_insight TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY(campaign_id) REFERENCES campaigns(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_phases_campaign_number ON phases(campaign_id, phase_number);`,
		`CREATE INDEX IF NOT EXISTS idx_work_items_campaign_position ON work_items(campaign_id, position);`,
		`CREATE INDEX IF NOT EXISTS idx_phase_history_item_entered ON phase_history(work_item_id, entered_at ASC, sequence ASC);`,
		`CREATE INDEX IF NOT EXISTS idx_change_events_campaign_created_at ON change_events(campaign_id, created_at DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_drift_events_campaign ON drift_events(campaign_id, occurred_at);`,
		`CREATE INDEX IF NOT EXISTS idx_risk_assessments_campaign ON risk_assessments(campaign_id, assessed_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_overrides_campaign ON overrides(campaign_id, decided_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_performance_reports_campaign_week ON performance_reports(campaign_id, week_starting);`,
		`CREATE INDEX IF NOT EXISTS idx_correlation_insights_campaign ON correlation_insights(campaign_id);`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// CreateCampaign creates campaign.
func (r *Repository) CreateCampaign(ctx context.Context, c domain.Campaign) error {
	teamJSON, benchmarksJSON, creativeJSON, err := encodeCampaignJSON(c)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns(id, slug, name, category, budget, start_date, end_date, team_json, benchmarks_json, creative_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Slug, c.Name, c.Category, c.Budget, ts(c.StartDate), ts(c.EndDate), teamJSON, benchmarksJSON, creativeJSON, ts(c.CreatedAt), ts(c.UpdatedAt))
	return err
}

// UpdateCampaign updates state for the requested operation.
func (r *Repository) UpdateCampaign(ctx context.Context, c domain.Campaign) error {
	teamJSON, benchmarksJSON, creativeJSON, err := encodeCampaignJSON(c)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET slug = ?, name = ?, category = ?, budget = ?, start_date = ?, end_date = ?, team_json = ?, benchmarks_json = ?, creative_json = ?, updated_at = ?
		WHERE id = ?
	`, c.Slug, c.Name, c.Category, c.Budget, ts(c.StartDate), ts(c.EndDate), teamJSON, benchmarksJSON, creativeJSON, ts(c.UpdatedAt), c.ID)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// GetCampaign returns campaign.
func (r *Repository) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, slug, name, category, budget, start_date, end_date, team_json, benchmarks_json, creative_json, created_at, updated_at
		FROM campaigns
		WHERE id = ?
	`, id)
	return scanCampaign(row)
}

// ListCampaigns lists campaigns.
func (r *Repository) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, slug, name, category, budget, start_date, end_date, team_json, benchmarks_json, creative_json, created_at, updated_at
		FROM campaigns
		ORDER BY start_date ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Campaign, 0)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreatePhase creates phase.
func (r *Repository) CreatePhase(ctx context.Context, p domain.Phase) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO phases(
			id, campaign_id, name, phase_number, planned_duration_days, planned_end_date, status, actual_start_date, actual_end_date,
			actual_duration_days, drift_days, drift_type, root_cause, attribution, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID,
		p.CampaignID,
		p.Name,
		p.PhaseNumber,
		p.PlannedDurationDays,
		nullableTS(p.PlannedEndDate),
		string(p.Status),
		nullableTS(p.ActualStartDate),
		nullableTS(p.ActualEndDate),
		nullableInt(p.ActualDurationDays),
		nullableInt(p.DriftDays),
		string(p.DriftType),
		p.RootCause,
		p.Attribution,
		ts(p.CreatedAt),
		ts(p.UpdatedAt),
	)
	return err
}

// UpdatePhase updates state for the requested operation.
func (r *Repository) UpdatePhase(ctx context.Context, p domain.Phase) error {
	return updatePhase(ctx, r.db, p)
}

// GetPhase returns phase.
func (r *Repository) GetPhase(ctx context.Context, id string) (domain.Phase, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+phaseColumns+`
		FROM phases
		WHERE id = ?
	`, id)
	return scanPhase(row)
}

// ListPhases lists phases.
func (r *Repository) ListPhases(ctx context.Context, campaignID string) ([]domain.Phase, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+phaseColumns+`
		FROM phases
		WHERE campaign_id = ?
		ORDER BY phase_number ASC, id ASC
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Phase, 0)
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CompletePhase stores the completed phase and its drift event in one transaction.
func (r *Repository) CompletePhase(ctx context.Context, p domain.Phase, event domain.DriftEvent) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = updatePhase(ctx, tx, p); err != nil {
		return err
	}
	if err = upsertDriftEvent(ctx, tx, event); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// phaseColumns lists the phase columns in scanPhase order.
const phaseColumns = `id, campaign_id, name, phase_number, planned_duration_days, planned_end_date, status, actual_start_date, actual_end_date,
			actual_duration_days, drift_days, drift_type, root_cause, attribution, created_at, updated_at`

func updatePhase(ctx context.Context, execer execerContext, p domain.Phase) error {
	res, err := execer.ExecContext(ctx, `
		UPDATE phases
		SET name = ?, phase_number = ?, planned_duration_days = ?, planned_end_date = ?, status = ?, actual_start_date = ?, actual_end_date = ?,
			actual_duration_days = ?, drift_days = ?, drift_type = ?, root_cause = ?, attribution = ?, updated_at = ?
		WHERE id = ?
	`,
		p.Name,
		p.PhaseNumber,
		p.PlannedDurationDays,
		nullableTS(p.PlannedEndDate),
		string(p.Status),
		nullableTS(p.ActualStartDate),
		nullableTS(p.ActualEndDate),
		nullableInt(p.ActualDurationDays),
		nullableInt(p.DriftDays),
		string(p.DriftType),
		p.RootCause,
		p.Attribution,
		ts(p.UpdatedAt),
		p.ID,
	)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

func encodeCampaignJSON(c domain.Campaign) (team, benchmarks, creative string, err error) {
	members := c.Team
	if members == nil {
		members = []domain.TeamMember{}
	}
	teamJSON, err := json.Marshal(members)
	if err != nil {
		return "", "", "", fmt.Errorf("encode campaign team: %w", err)
	}
	benchmarksJSON, err := json.Marshal(c.Benchmarks)
	if err != nil {
		return "", "", "", fmt.Errorf("encode campaign benchmarks: %w", err)
	}
	creativeJSON, err := json.Marshal(c.Creative)
	if err != nil {
		return "", "", "", fmt.Errorf("encode campaign creative: %w", err)
	}
	return string(teamJSON), string(benchmarksJSON), string(creativeJSON), nil
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

// queryRower represents a query-only DB contract used by DB and Tx implementations.
type queryRower interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// execerContext represents a write-only DB contract used by DB and Tx implementations.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// scanCampaign handles scan campaign.
func scanCampaign(s scanner) (domain.Campaign, error) {
	var (
		c             domain.Campaign
		startRaw      string
		endRaw        string
		teamRaw       string
		benchmarksRaw string
		creativeRaw   string
		createdRaw    string
		updatedRaw    string
	)
	if err := s.Scan(&c.ID, &c.Slug, &c.Name, &c.Category, &c.Budget, &startRaw, &endRaw, &teamRaw, &benchmarksRaw, &creativeRaw, &createdRaw, &updatedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Campaign{}, app.ErrNotFound
		}
		return domain.Campaign{}, err
	}
	if err := decodeJSONColumn(teamRaw, "[]", &c.Team); err != nil {
		return domain.Campaign{}, fmt.Errorf("decode campaigns.team_json: %w", err)
	}
	if err := decodeJSONColumn(benchmarksRaw, "{}", &c.Benchmarks); err != nil {
		return domain.Campaign{}, fmt.Errorf("decode campaigns.benchmarks_json: %w", err)
	}
	if err := decodeJSONColumn(creativeRaw, "{}", &c.Creative); err != nil {
		return domain.Campaign{}, fmt.Errorf("decode campaigns.creative_json: %w", err)
	}
	c.StartDate = parseTS(startRaw)
	c.EndDate = parseTS(endRaw)
	c.CreatedAt = parseTS(createdRaw)
	c.UpdatedAt = parseTS(updatedRaw)
	return c, nil
}

// scanPhase handles scan phase.
func scanPhase(s scanner) (domain.Phase, error) {
	var (
		p              domain.Phase
		plannedEnd     sql.NullString
		statusRaw      string
		actualStart    sql.NullString
		actualEnd      sql.NullString
		actualDuration sql.NullInt64
		driftDays      sql.NullInt64
		driftType      string
		createdRaw     string
		updatedRaw     string
	)
	if err := s.Scan(
		&p.ID,
		&p.CampaignID,
		&p.Name,
		&p.PhaseNumber,
		&p.PlannedDurationDays,
		&plannedEnd,
		&statusRaw,
		&actualStart,
		&actualEnd,
		&actualDuration,
		&driftDays,
		&driftType,
		&p.RootCause,
		&p.Attribution,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Phase{}, app.ErrNotFound
		}
		return domain.Phase{}, err
	}
	p.PlannedEndDate = parseNullTS(plannedEnd)
	p.Status = domain.PhaseStatus(statusRaw)
	if !domain.IsValidPhaseStatus(p.Status) {
		p.Status = domain.PhaseStatusPending
	}
	p.ActualStartDate = parseNullTS(actualStart)
	p.ActualEndDate = parseNullTS(actualEnd)
	p.ActualDurationDays = parseNullInt(actualDuration)
	p.DriftDays = parseNullInt(driftDays)
	p.DriftType = domain.DriftType(driftType)
	p.CreatedAt = parseTS(createdRaw)
	p.UpdatedAt = parseTS(updatedRaw)
	return p, nil
}

// decodeJSONColumn decodes a JSON text column, treating blanks as empty.
func decodeJSONColumn(raw, empty string, out any) error {
	if strings.TrimSpace(raw) == "" {
		raw = empty
	}
	return json.Unmarshal([]byte(raw), out)
}

// translateNoRows handles translate no rows.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// nullableTS handles nullable ts.
func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// parseNullTS parses input into a normalized form.
func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	ts := parseTS(v.String)
	return &ts
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func parseNullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
