package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Audited actions.
const (
	ActionSignIn       = "signin"
	ActionSignInFailed = "signin_failed"
	ActionSignOut      = "signout"
	ActionRemoteStart  = "remote_start"
	ActionRemoteStop   = "remote_stop"
)

// Outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Event is one audit trail entry. Actor is the operator or client name,
// Target the charge box a command addressed.
type Event struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor,omitempty"`
	Target    string         `json:"target,omitempty"`
	Chain     string         `json:"chain"`
	Outcome   string         `json:"outcome"`
	TaskID    int            `json:"taskId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Filter selects events. Zero values match everything.
type Filter struct {
	Action string
	Target string
	Limit  int // default 50, max 200
	Offset int
}

// Page is one page of events, newest first.
type Page struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository stores and queries the trail.
type Repository interface {
	Record(ctx context.Context, e *Event) error
	List(ctx context.Context, filter Filter) (*Page, error)
}

// SQLiteRepository implements Repository on the credential store.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts e. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Event) error {
	if e.Action == "" || e.Chain == "" || e.Outcome == "" {
		return fmt.Errorf("audit event needs action, chain and outcome")
	}
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var details *string
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		details = &s
	}

	var taskID any
	if e.TaskID > 0 {
		taskID = e.TaskID
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, action, actor, target, chain, outcome, task_id, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, nullable(e.Actor), nullable(e.Target), e.Chain, e.Outcome,
		taskID, details, e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns the events matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*Page, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Target != "" {
		conditions = append(conditions, "target = ?")
		args = append(args, filter.Target)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_events " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit events: %w", err)
	}

	query := "SELECT id, action, actor, target, chain, outcome, task_id, details, created_at FROM audit_events " + //nolint:gosec // as above
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}

	return &Page{Events: events, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	var e Event
	var actor, target, details sql.NullString
	var taskID sql.NullInt64
	var createdAt string

	if err := rows.Scan(&e.ID, &e.Action, &actor, &target, &e.Chain, &e.Outcome,
		&taskID, &details, &createdAt); err != nil {
		return nil, fmt.Errorf("scanning audit event: %w", err)
	}
	e.Actor = actor.String
	e.Target = target.String
	e.TaskID = int(taskID.Int64)
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
			return nil, fmt.Errorf("decoding audit details of %s: %w", e.ID, err)
		}
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return &e, nil
}
