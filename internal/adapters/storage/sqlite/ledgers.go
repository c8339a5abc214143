package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/evanschultz/cadence/internal/app"
	"github.com/evanschultz/cadence/internal/domain"
)

// SaveDriftEvent inserts or replaces one persisted drift event.
func (r *Repository) SaveDriftEvent(ctx context.Context, event domain.DriftEvent) error {
	return upsertDriftEvent(ctx, r.db, event)
}

// ListDriftEvents lists a campaign's persisted drift events by occurrence.
func (r *Repository) ListDriftEvents(ctx context.Context, campaignID string) ([]domain.DriftEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, phase_id, phase_name, drift_type, drift_days, planned_duration, actual_duration, root_cause, attribution, status, occurred_at
		FROM drift_events
		WHERE campaign_id = ?
		ORDER BY occurred_at ASC, id ASC
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.DriftEvent, 0)
	for rows.Next() {
		var (
			event       domain.DriftEvent
			driftType   string
			statusRaw   string
			occurredRaw string
		)
		if err := rows.Scan(
			&event.ID,
			&event.CampaignID,
			&event.PhaseID,
			&event.PhaseName,
			&driftType,
			&event.DriftDays,
			&event.PlannedDuration,
			&event.ActualDuration,
			&event.RootCause,
			&event.Attribution,
			&statusRaw,
			&occurredRaw,
		); err != nil {
			return nil, err
		}
		event.DriftType = domain.DriftType(driftType)
		event.Status = domain.DriftEventStatus(statusRaw)
		event.OccurredAt = parseTS(occurredRaw)
		out = append(out, event)
	}
	return out, rows.Err()
}

// upsertDriftEvent writes a drift event through a DB or Tx.
func upsertDriftEvent(ctx context.Context, execer execerContext, event domain.DriftEvent) error {
	status := event.Status
	if status == "" {
		status = domain.DriftEventCompleted
	}
	_, err := execer.ExecContext(ctx, `
		INSERT INTO drift_events(id, campaign_id, phase_id, phase_name, drift_type, drift_days, planned_duration, actual_duration, root_cause, attribution, status, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase_name = excluded.phase_name,
			drift_type = excluded.drift_type,
			drift_days = excluded.drift_days,
			planned_duration = excluded.planned_duration,
			actual_duration = excluded.actual_duration,
			root_cause = excluded.root_cause,
			attribution = excluded.attribution,
			status = excluded.status,
			occurred_at = excluded.occurred_at
	`,
		event.ID,
		event.CampaignID,
		event.PhaseID,
		event.PhaseName,
		string(event.DriftType),
		event.DriftDays,
		event.PlannedDuration,
		event.ActualDuration,
		event.RootCause,
		event.Attribution,
		string(status),
		ts(normalizeEventTS(event.OccurredAt)),
	)
	if err != nil {
		return fmt.Errorf("save drift event: %w", err)
	}
	return nil
}

// SaveRiskAssessment inserts or replaces one assessment.
func (r *Repository) SaveRiskAssessment(ctx context.Context, a domain.RiskAssessment) error {
	factorsJSON, err := json.Marshal(nonNilFactors(a.Factors))
	if err != nil {
		return fmt.Errorf("encode risk factors: %w", err)
	}
	mitigationsJSON, err := json.Marshal(nonNilStrings(a.MitigationSuggestions))
	if err != nil {
		return fmt.Errorf("encode risk mitigations: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO risk_assessments(id, campaign_id, overall_score, risk_level, gate_recommendation, factors_json, mitigations_json, assessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			overall_score = excluded.overall_score,
			risk_level = excluded.risk_level,
			gate_recommendation = excluded.gate_recommendation,
			factors_json = excluded.factors_json,
			mitigations_json = excluded.mitigations_json,
			assessed_at = excluded.assessed_at
	`, a.ID, a.CampaignID, a.OverallScore, string(a.RiskLevel), string(a.GateRecommendation), string(factorsJSON), string(mitigationsJSON), ts(a.AssessedAt))
	return err
}

// GetRiskAssessment returns risk assessment.
func (r *Repository) GetRiskAssessment(ctx context.Context, id string) (domain.RiskAssessment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, overall_score, risk_level, gate_recommendation, factors_json, mitigations_json, assessed_at
		FROM risk_assessments
		WHERE id = ?
	`, id)
	return scanRiskAssessment(row)
}

// ListRiskAssessments lists a campaign's assessments newest first.
func (r *Repository) ListRiskAssessments(ctx context.Context, campaignID string) ([]domain.RiskAssessment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, overall_score, risk_level, gate_recommendation, factors_json, mitigations_json, assessed_at
		FROM risk_assessments
		WHERE campaign_id = ?
		ORDER BY assessed_at DESC, id DESC
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.RiskAssessment, 0)
	for rows.Next() {
		a, err := scanRiskAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveOverride inserts or replaces one override.
func (r *Repository) SaveOverride(ctx context.Context, o domain.OverrideEvent) error {
	var justified any
	if o.Justified != nil {
		justified = boolToInt(*o.Justified)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO overrides(
			id, campaign_id, assessment_id, original_recommendation, actual_action, reason, overall_score, risk_level, decided_at,
			outcome, outcome_notes, reconciled_at, justified
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			outcome = excluded.outcome,
			outcome_notes = excluded.outcome_notes,
			reconciled_at = excluded.reconciled_at,
			justified = excluded.justified
	`,
		o.ID,
		o.CampaignID,
		o.AssessmentID,
		string(o.OriginalRecommendation),
		string(o.ActualAction),
		o.Reason,
		o.OverallScore,
		string(o.RiskLevel),
		ts(o.DecidedAt),
		string(o.Outcome),
		o.OutcomeNotes,
		nullableTS(o.ReconciledAt),
		justified,
	)
	return err
}

// GetOverride returns override.
func (r *Repository) GetOverride(ctx context.Context, id string) (domain.OverrideEvent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+overrideColumns+`
		FROM overrides
		WHERE id = ?
	`, id)
	return scanOverride(row)
}

// ListOverrides lists a campaign's overrides newest first.
func (r *Repository) ListOverrides(ctx context.Context, campaignID string) ([]domain.OverrideEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+overrideColumns+`
		FROM overrides
		WHERE campaign_id = ?
		ORDER BY decided_at DESC, id DESC
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.OverrideEvent, 0)
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// SavePerformanceReport inserts or replaces one weekly report.
func (r *Repository) SavePerformanceReport(ctx context.Context, report domain.PerformanceReport) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO performance_reports(id, campaign_id, week_starting, total_sales, total_revenue, total_engagement, views, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			week_starting = excluded.week_starting,
			total_sales = excluded.total_sales,
			total_revenue = excluded.total_revenue,
			total_engagement = excluded.total_engagement,
			views = excluded.views
	`,
		report.ID,
		report.CampaignID,
		ts(report.WeekStarting),
		report.TotalSales,
		report.TotalRevenue,
		report.TotalEngagement,
		report.Views,
		ts(report.CreatedAt),
	)
	return err
}

// ListPerformanceReports lists a campaign's reports by week.
func (r *Repository) ListPerformanceReports(ctx context.Context, campaignID string) ([]domain.PerformanceReport, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, week_starting, total_sales, total_revenue, total_engagement, views, created_at
		FROM performance_reports
		WHERE campaign_id = ?
		ORDER BY week_starting ASC, id ASC
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PerformanceReport, 0)
	for rows.Next() {
		var (
			report     domain.PerformanceReport
			weekRaw    string
			createdRaw string
		)
		if err := rows.Scan(&report.ID, &report.CampaignID, &weekRaw, &report.TotalSales, &report.TotalRevenue, &report.TotalEngagement, &report.Views, &createdRaw); err != nil {
			return nil, err
		}
		report.WeekStarting = parseTS(weekRaw)
		report.CreatedAt = parseTS(createdRaw)
		out = append(out, report)
	}
	return out, rows.Err()
}

// ReplaceCorrelationInsights swaps a campaign's stored insights in one transaction.
func (r *Repository) ReplaceCorrelationInsights(ctx context.Context, campaignID string, insights []domain.CorrelationInsight) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM correlation_insights WHERE campaign_id = ?`, campaignID); err != nil {
		return err
	}
	for _, insight := range insights {
		eventJSON, marshalErr := json.Marshal(insight.Event)
		if marshalErr != nil {
			err = fmt.Errorf("encode insight event: %w", marshalErr)
			return err
		}
		changes := insight.MetricChanges
		if changes == nil {
			changes = []domain.MetricChange{}
		}
		changesJSON, marshalErr := json.Marshal(changes)
		if marshalErr != nil {
			err = fmt.Errorf("encode insight metric changes: %w", marshalErr)
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO correlation_insights(
				id, campaign_id, event_json, metric_changes_json, performance_impact, correlation_strength, confidence,
				analysis, actionable_insight, source, created_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			insight.ID,
			campaignID,
			string(eventJSON),
			string(changesJSON),
			string(insight.PerformanceImpact),
			string(insight.CorrelationStrength),
			insight.Confidence,
			insight.Analysis,
			insight.ActionableInsight,
			string(insight.Source),
			ts(insight.CreatedAt),
		)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// ListCorrelationInsights lists a campaign's stored insights.
func (r *Repository) ListCorrelationInsights(ctx context.Context, campaignID string) ([]domain.CorrelationInsight, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, event_json, metric_changes_json, performance_impact, correlation_strength, confidence,
			analysis, actionable_insight, source, created_at
		FROM correlation_insights
		WHERE campaign_id = ?
		ORDER BY confidence DESC, id ASC
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CorrelationInsight, 0)
	for rows.Next() {
		var (
			insight     domain.CorrelationInsight
			eventRaw    string
			changesRaw  string
			impactRaw   string
			strengthRaw string
			sourceRaw   string
			createdRaw  string
		)
		if err := rows.Scan(
			&insight.ID,
			&insight.CampaignID,
			&eventRaw,
			&changesRaw,
			&impactRaw,
			&strengthRaw,
			&insight.Confidence,
			&insight.Analysis,
			&insight.ActionableInsight,
			&sourceRaw,
			&createdRaw,
		); err != nil {
			return nil, err
		}
		if err := decodeJSONColumn(eventRaw, "{}", &insight.Event); err != nil {
			return nil, fmt.Errorf("decode correlation_insights.event_json: %w", err)
		}
		if err := decodeJSONColumn(changesRaw, "[]", &insight.MetricChanges); err != nil {
			return nil, fmt.Errorf("decode correlation_insights.metric_changes_json: %w", err)
		}
		insight.PerformanceImpact = domain.PerformanceImpact(impactRaw)
		insight.CorrelationStrength = domain.CorrelationStrength(strengthRaw)
		insight.Source = domain.InsightSource(sourceRaw)
		insight.CreatedAt = parseTS(createdRaw)
		out = append(out, insight)
	}
	return out, rows.Err()
}

// overrideColumns lists the override columns in scanOverride order.
const overrideColumns = `id, campaign_id, assessment_id, original_recommendation, actual_action, reason, overall_score, risk_level, decided_at,
			outcome, outcome_notes, reconciled_at, justified`

// scanRiskAssessment handles scan risk assessment.
func scanRiskAssessment(s scanner) (domain.RiskAssessment, error) {
	var (
		a              domain.RiskAssessment
		levelRaw       string
		gateRaw        string
		factorsRaw     string
		mitigationsRaw string
		assessedRaw    string
	)
	if err := s.Scan(&a.ID, &a.CampaignID, &a.OverallScore, &levelRaw, &gateRaw, &factorsRaw, &mitigationsRaw, &assessedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RiskAssessment{}, app.ErrNotFound
		}
		return domain.RiskAssessment{}, err
	}
	if err := decodeJSONColumn(factorsRaw, "[]", &a.Factors); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("decode risk_assessments.factors_json: %w", err)
	}
	if err := decodeJSONColumn(mitigationsRaw, "[]", &a.MitigationSuggestions); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("decode risk_assessments.mitigations_json: %w", err)
	}
	a.RiskLevel = domain.RiskLevel(levelRaw)
	a.GateRecommendation = domain.GateDecision(gateRaw)
	a.AssessedAt = parseTS(assessedRaw)
	return a, nil
}

// scanOverride handles scan override.
func scanOverride(s scanner) (domain.OverrideEvent, error) {
	var (
		o             domain.OverrideEvent
		originalRaw   string
		actionRaw     string
		levelRaw      string
		decidedRaw    string
		outcomeRaw    string
		reconciledRaw sql.NullString
		justified     sql.NullInt64
	)
	if err := s.Scan(
		&o.ID,
		&o.CampaignID,
		&o.AssessmentID,
		&originalRaw,
		&actionRaw,
		&o.Reason,
		&o.OverallScore,
		&levelRaw,
		&decidedRaw,
		&outcomeRaw,
		&o.OutcomeNotes,
		&reconciledRaw,
		&justified,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OverrideEvent{}, app.ErrNotFound
		}
		return domain.OverrideEvent{}, err
	}
	o.OriginalRecommendation = domain.GateDecision(originalRaw)
	o.ActualAction = domain.GateDecision(actionRaw)
	o.RiskLevel = domain.RiskLevel(levelRaw)
	o.DecidedAt = parseTS(decidedRaw)
	o.Outcome = domain.OverrideOutcome(outcomeRaw)
	o.ReconciledAt = parseNullTS(reconciledRaw)
	if justified.Valid {
		v := justified.Int64 != 0
		o.Justified = &v
	}
	return o, nil
}

func nonNilFactors(in []domain.RiskFactorResult) []domain.RiskFactorResult {
	if in == nil {
		return []domain.RiskFactorResult{}
	}
	return in
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
