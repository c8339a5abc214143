package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/evanschultz/cadence/internal/app"
	"github.com/evanschultz/cadence/internal/domain"
)

// defaultActorID attributes ledger rows that arrive without an actor.
const defaultActorID = "cadence-user"

// workItemColumns lists the work item columns in scanWorkItem order.
const workItemColumns = `id, campaign_id, phase_id, title, assignee_id, status, position, started_at, time_in_phase_minutes,
			completed_phases_json, delay_reason, due_at, completed_at, created_at, updated_at`

// historyColumns lists the phase history columns in scanHistoryEntry order.
const historyColumns = `h.id, h.work_item_id, h.phase_id, h.phase_name, h.sequence, h.entered_at, h.exited_at, h.time_spent_minutes, h.completion_timing`

// CreateWorkItem creates a work item and its create event in one transaction.
func (r *Repository) CreateWorkItem(ctx context.Context, w domain.WorkItem, event domain.ChangeEvent) (err error) {
	completedJSON, err := encodeCompletedPhases(w.CompletedPhases)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO work_items(`+workItemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		w.ID,
		w.CampaignID,
		w.PhaseID,
		w.Title,
		w.AssigneeID,
		string(w.Status),
		w.Position,
		nullableTS(w.StartedAt),
		w.TimeInPhaseMinutes,
		completedJSON,
		w.DelayReason,
		nullableTS(w.DueAt),
		nullableTS(w.CompletedAt),
		ts(w.CreatedAt),
		ts(w.UpdatedAt),
	)
	if err != nil {
		return err
	}
	if err = insertChangeEvent(ctx, tx, event); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// UpdateWorkItem updates a work item and records its change event in one transaction.
func (r *Repository) UpdateWorkItem(ctx context.Context, w domain.WorkItem, event domain.ChangeEvent) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = updateWorkItem(ctx, tx, w); err != nil {
		return err
	}
	if err = insertChangeEvent(ctx, tx, event); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// GetWorkItem returns work item.
func (r *Repository) GetWorkItem(ctx context.Context, id string) (domain.WorkItem, error) {
	return getWorkItemByID(ctx, r.db, id)
}

// ListWorkItems lists work items.
func (r *Repository) ListWorkItems(ctx context.Context, campaignID string) ([]domain.WorkItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+workItemColumns+`
		FROM work_items
		WHERE campaign_id = ?
		ORDER BY position ASC, id ASC
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.WorkItem, 0)
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ApplyWorkItemMove stores the item, the closed and opened history entries, and the move
// event in one transaction.
func (r *Repository) ApplyWorkItemMove(ctx context.Context, move app.WorkItemMove) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = updateWorkItem(ctx, tx, move.Item); err != nil {
		return err
	}
	if move.Closed != nil {
		res, execErr := tx.ExecContext(ctx, `
			UPDATE phase_history
			SET exited_at = ?, time_spent_minutes = ?, completion_timing = ?
			WHERE id = ? AND exited_at IS NULL
		`, nullableTS(move.Closed.ExitedAt), move.Closed.TimeSpentMinutes, string(move.Closed.CompletionTiming), move.Closed.ID)
		if execErr != nil {
			err = execErr
			return err
		}
		if err = translateNoRows(res); err != nil {
			err = fmt.Errorf("close phase history %q: %w", move.Closed.ID, err)
			return err
		}
	}
	if move.Opened != nil {
		if err = upsertHistoryEntry(ctx, tx, *move.Opened); err != nil {
			return err
		}
	}
	if err = insertChangeEvent(ctx, tx, move.Event); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// ListPhaseHistory lists one item's phase visits in entry order.
func (r *Repository) ListPhaseHistory(ctx context.Context, itemID string) ([]domain.PhaseHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+historyColumns+`
		FROM phase_history h
		WHERE h.work_item_id = ?
		ORDER BY h.entered_at ASC, h.sequence ASC
	`, itemID)
	if err != nil {
		return nil, err
	}
	return collectHistory(rows)
}

// ListCampaignPhaseHistory lists phase visits of every item of a campaign.
func (r *Repository) ListCampaignPhaseHistory(ctx context.Context, campaignID string) ([]domain.PhaseHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+historyColumns+`
		FROM phase_history h
		JOIN work_items w ON w.id = h.work_item_id
		WHERE w.campaign_id = ?
		ORDER BY h.entered_at ASC, h.sequence ASC, h.id ASC
	`, campaignID)
	if err != nil {
		return nil, err
	}
	return collectHistory(rows)
}

// SavePhaseHistoryEntry inserts or replaces one history entry.
func (r *Repository) SavePhaseHistoryEntry(ctx context.Context, entry domain.PhaseHistoryEntry) error {
	return upsertHistoryEntry(ctx, r.db, entry)
}

// ListCampaignChangeEvents lists change events newest first.
func (r *Repository) ListCampaignChangeEvents(ctx context.Context, campaignID string, limit int) ([]domain.ChangeEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, work_item_id, operation, actor_id, actor_type, metadata_json, created_at
		FROM change_events
		WHERE campaign_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ChangeEvent, 0)
	for rows.Next() {
		var (
			event       domain.ChangeEvent
			opRaw       string
			actorType   string
			metadataRaw string
			createdRaw  string
		)
		if err := rows.Scan(&event.ID, &event.CampaignID, &event.WorkItemID, &opRaw, &event.ActorID, &actorType, &metadataRaw, &createdRaw); err != nil {
			return nil, err
		}
		event.Operation = normalizeChangeOperation(opRaw)
		event.ActorType = domain.NormalizeActorType(actorType)
		event.OccurredAt = parseTS(createdRaw)
		if err := decodeJSONColumn(metadataRaw, "{}", &event.Metadata); err != nil {
			return nil, fmt.Errorf("decode change_events.metadata_json: %w", err)
		}
		if event.Metadata == nil {
			event.Metadata = map[string]string{}
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// getWorkItemByID returns a work item through a DB or Tx.
func getWorkItemByID(ctx context.Context, q queryRower, id string) (domain.WorkItem, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+workItemColumns+`
		FROM work_items
		WHERE id = ?
	`, id)
	return scanWorkItem(row)
}

func updateWorkItem(ctx context.Context, execer execerContext, w domain.WorkItem) error {
	completedJSON, err := encodeCompletedPhases(w.CompletedPhases)
	if err != nil {
		return err
	}
	res, err := execer.ExecContext(ctx, `
		UPDATE work_items
		SET phase_id = ?, title = ?, assignee_id = ?, status = ?, position = ?, started_at = ?, time_in_phase_minutes = ?,
			completed_phases_json = ?, delay_reason = ?, due_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`,
		w.PhaseID,
		w.Title,
		w.AssigneeID,
		string(w.Status),
		w.Position,
		nullableTS(w.StartedAt),
		w.TimeInPhaseMinutes,
		completedJSON,
		w.DelayReason,
		nullableTS(w.DueAt),
		nullableTS(w.CompletedAt),
		ts(w.UpdatedAt),
		w.ID,
	)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

func upsertHistoryEntry(ctx context.Context, execer execerContext, entry domain.PhaseHistoryEntry) error {
	_, err := execer.ExecContext(ctx, `
		INSERT INTO phase_history(id, work_item_id, phase_id, phase_name, sequence, entered_at, exited_at, time_spent_minutes, completion_timing)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase_name = excluded.phase_name,
			sequence = excluded.sequence,
			entered_at = excluded.entered_at,
			exited_at = excluded.exited_at,
			time_spent_minutes = excluded.time_spent_minutes,
			completion_timing = excluded.completion_timing
	`,
		entry.ID,
		entry.WorkItemID,
		entry.PhaseID,
		entry.PhaseName,
		entry.Sequence,
		ts(entry.EnteredAt),
		nullableTS(entry.ExitedAt),
		entry.TimeSpentMinutes,
		string(entry.CompletionTiming),
	)
	if err != nil {
		return fmt.Errorf("save phase history: %w", err)
	}
	return nil
}

// insertChangeEvent inserts a change-event ledger record.
func insertChangeEvent(ctx context.Context, execer execerContext, event domain.ChangeEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode change event metadata: %w", err)
	}
	_, err = execer.ExecContext(ctx, `
		INSERT INTO change_events(campaign_id, work_item_id, operation, actor_id, actor_type, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		event.CampaignID,
		event.WorkItemID,
		string(normalizeChangeOperation(string(event.Operation))),
		chooseActorID(event.ActorID),
		string(domain.NormalizeActorType(string(event.ActorType))),
		string(metadataJSON),
		ts(normalizeEventTS(event.OccurredAt)),
	)
	if err != nil {
		return fmt.Errorf("insert change event: %w", err)
	}
	return nil
}

// chooseActorID returns the first non-empty actor id or the default local actor.
func chooseActorID(candidates ...string) string {
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate != "" {
			return candidate
		}
	}
	return defaultActorID
}

// normalizeChangeOperation canonicalizes persisted operation values.
func normalizeChangeOperation(raw string) domain.ChangeOperation {
	switch op := domain.ChangeOperation(strings.TrimSpace(strings.ToLower(raw))); op {
	case domain.ChangeOperationCreate, domain.ChangeOperationMove:
		return op
	default:
		return domain.ChangeOperationStatus
	}
}

// normalizeEventTS ensures event timestamps are always populated and UTC-normalized.
func normalizeEventTS(in time.Time) time.Time {
	if in.IsZero() {
		return time.Now().UTC()
	}
	return in.UTC()
}

func encodeCompletedPhases(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode completed phases: %w", err)
	}
	return string(raw), nil
}

// scanWorkItem handles scan work item.
func scanWorkItem(s scanner) (domain.WorkItem, error) {
	var (
		w            domain.WorkItem
		statusRaw    string
		startedRaw   sql.NullString
		completedRaw string
		dueRaw       sql.NullString
		doneRaw      sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := s.Scan(
		&w.ID,
		&w.CampaignID,
		&w.PhaseID,
		&w.Title,
		&w.AssigneeID,
		&statusRaw,
		&w.Position,
		&startedRaw,
		&w.TimeInPhaseMinutes,
		&completedRaw,
		&w.DelayReason,
		&dueRaw,
		&doneRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WorkItem{}, app.ErrNotFound
		}
		return domain.WorkItem{}, err
	}
	w.Status = domain.WorkItemStatus(statusRaw)
	if !domain.IsValidWorkItemStatus(w.Status) {
		w.Status = domain.StatusPlanned
	}
	if err := decodeJSONColumn(completedRaw, "[]", &w.CompletedPhases); err != nil {
		return domain.WorkItem{}, fmt.Errorf("decode work_items.completed_phases_json: %w", err)
	}
	if w.CompletedPhases == nil {
		w.CompletedPhases = []string{}
	}
	w.StartedAt = parseNullTS(startedRaw)
	w.DueAt = parseNullTS(dueRaw)
	w.CompletedAt = parseNullTS(doneRaw)
	w.CreatedAt = parseTS(createdRaw)
	w.UpdatedAt = parseTS(updatedRaw)
	return w, nil
}

func collectHistory(rows *sql.Rows) ([]domain.PhaseHistoryEntry, error) {
	defer rows.Close()
	out := make([]domain.PhaseHistoryEntry, 0)
	for rows.Next() {
		var (
			entry      domain.PhaseHistoryEntry
			enteredRaw string
			exitedRaw  sql.NullString
			timingRaw  string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.WorkItemID,
			&entry.PhaseID,
			&entry.PhaseName,
			&entry.Sequence,
			&enteredRaw,
			&exitedRaw,
			&entry.TimeSpentMinutes,
			&timingRaw,
		); err != nil {
			return nil, err
		}
		entry.EnteredAt = parseTS(enteredRaw)
		entry.ExitedAt = parseNullTS(exitedRaw)
		entry.CompletionTiming = domain.CompletionTiming(timingRaw)
		out = append(out, entry)
	}
	return out, rows.Err()
}
