package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OperatorRepository defines persistence for interactive console accounts.
type OperatorRepository interface {
	Create(ctx context.Context, op *Operator) error
	GetByID(ctx context.Context, id string) (*Operator, error)
	GetByUsername(ctx context.Context, username string) (*Operator, error)
	List(ctx context.Context) ([]Operator, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetActive(ctx context.Context, id string, active bool) error
	Count(ctx context.Context) (int, error)
}

// SQLiteOperatorRepository implements OperatorRepository using SQLite.
type SQLiteOperatorRepository struct {
	db *sql.DB
}

// NewOperatorRepository creates a new SQLite-backed operator repository.
func NewOperatorRepository(db *sql.DB) *SQLiteOperatorRepository {
	return &SQLiteOperatorRepository{db: db}
}

const operatorColumns = "id, username, display_name, password_hash, roles, is_active, created_at, updated_at"

// Create inserts a new operator. The ID is generated if empty.
func (r *SQLiteOperatorRepository) Create(ctx context.Context, op *Operator) error {
	if !IsValidUsername(op.Username) {
		return fmt.Errorf("invalid username %q", op.Username)
	}
	for _, role := range op.Roles {
		if !IsValidRole(role) {
			return fmt.Errorf("%w: %q", ErrInvalidRole, role)
		}
	}
	if op.ID == "" {
		op.ID = "op-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	op.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	op.UpdatedAt = op.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO operators (`+operatorColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Username, op.DisplayName, op.PasswordHash,
		FormatRoles(op.Roles), boolToInt(op.IsActive), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrNameExists
		}
		return fmt.Errorf("creating operator: %w", err)
	}
	return nil
}

// GetByID retrieves an operator by ID.
func (r *SQLiteOperatorRepository) GetByID(ctx context.Context, id string) (*Operator, error) {
	return scanOperator(r.db.QueryRowContext(ctx,
		"SELECT "+operatorColumns+" FROM operators WHERE id = ?", id))
}

// GetByUsername retrieves an operator by username.
func (r *SQLiteOperatorRepository) GetByUsername(ctx context.Context, username string) (*Operator, error) {
	return scanOperator(r.db.QueryRowContext(ctx,
		"SELECT "+operatorColumns+" FROM operators WHERE username = ?", username))
}

// List returns all operators ordered by creation date.
func (r *SQLiteOperatorRepository) List(ctx context.Context) ([]Operator, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+operatorColumns+" FROM operators ORDER BY created_at ASC, username ASC")
	if err != nil {
		return nil, fmt.Errorf("listing operators: %w", err)
	}
	defer rows.Close()

	ops := []Operator{}
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operators: %w", err)
	}
	return ops, nil
}

// UpdatePassword replaces an operator's password hash.
func (r *SQLiteOperatorRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE operators SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return expectOneRow(result, ErrOperatorNotFound)
}

// SetActive enables or disables an operator account.
func (r *SQLiteOperatorRepository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE operators SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating operator: %w", err)
	}
	return expectOneRow(result, ErrOperatorNotFound)
}

// Count returns the total number of operators.
func (r *SQLiteOperatorRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM operators").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting operators: %w", err)
	}
	return count, nil
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

func scanOperator(s scanner) (*Operator, error) {
	var op Operator
	var roles string
	var isActive int
	var createdAt, updatedAt string

	err := s.Scan(&op.ID, &op.Username, &op.DisplayName, &op.PasswordHash,
		&roles, &isActive, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOperatorNotFound
		}
		return nil, fmt.Errorf("scanning operator: %w", err)
	}

	op.Roles, err = ParseRoles(roles)
	if err != nil {
		return nil, fmt.Errorf("operator %s: %w", op.ID, err)
	}
	op.IsActive = isActive != 0
	op.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	op.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &op, nil
}

func expectOneRow(result sql.Result, notFound error) error {
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return notFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
