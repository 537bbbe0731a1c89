package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// APIClientRepository defines persistence for programmatic credentials.
type APIClientRepository interface {
	Create(ctx context.Context, client *APIClient) error
	GetByID(ctx context.Context, id string) (*APIClient, error)
	GetByName(ctx context.Context, name string) (*APIClient, error)
	List(ctx context.Context) ([]APIClient, error)
	SetActive(ctx context.Context, id string, active bool) error
	TouchLastUsed(ctx context.Context, id string) error
}

// SQLiteAPIClientRepository implements APIClientRepository using SQLite.
type SQLiteAPIClientRepository struct {
	db *sql.DB
}

// NewAPIClientRepository creates a new SQLite-backed API client repository.
func NewAPIClientRepository(db *sql.DB) *SQLiteAPIClientRepository {
	return &SQLiteAPIClientRepository{db: db}
}

const apiClientColumns = "id, name, secret_hash, roles, is_active, last_used_at, created_at, updated_at"

// Create inserts a new API client. The ID is generated if empty.
func (r *SQLiteAPIClientRepository) Create(ctx context.Context, client *APIClient) error {
	if !IsValidUsername(client.Name) {
		return fmt.Errorf("invalid client name %q", client.Name)
	}
	for _, role := range client.Roles {
		if !IsValidRole(role) {
			return fmt.Errorf("%w: %q", ErrInvalidRole, role)
		}
	}
	if client.ID == "" {
		client.ID = "cli-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	client.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	client.UpdatedAt = client.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_clients (`+apiClientColumns+`) VALUES (?, ?, ?, ?, ?, NULL, ?, ?)`,
		client.ID, client.Name, client.SecretHash, FormatRoles(client.Roles),
		boolToInt(client.IsActive), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrNameExists
		}
		return fmt.Errorf("creating api client: %w", err)
	}
	return nil
}

// GetByID retrieves an API client by ID.
func (r *SQLiteAPIClientRepository) GetByID(ctx context.Context, id string) (*APIClient, error) {
	return scanAPIClient(r.db.QueryRowContext(ctx,
		"SELECT "+apiClientColumns+" FROM api_clients WHERE id = ?", id))
}

// GetByName retrieves an API client by its login name.
func (r *SQLiteAPIClientRepository) GetByName(ctx context.Context, name string) (*APIClient, error) {
	return scanAPIClient(r.db.QueryRowContext(ctx,
		"SELECT "+apiClientColumns+" FROM api_clients WHERE name = ?", name))
}

// List returns all API clients ordered by name.
func (r *SQLiteAPIClientRepository) List(ctx context.Context) ([]APIClient, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+apiClientColumns+" FROM api_clients ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("listing api clients: %w", err)
	}
	defer rows.Close()

	clients := []APIClient{}
	for rows.Next() {
		c, err := scanAPIClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating api clients: %w", err)
	}
	return clients, nil
}

// SetActive enables or disables an API client.
func (r *SQLiteAPIClientRepository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE api_clients SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating api client: %w", err)
	}
	return expectOneRow(result, ErrClientNotFound)
}

// TouchLastUsed records a successful authentication.
func (r *SQLiteAPIClientRepository) TouchLastUsed(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE api_clients SET last_used_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("touching api client: %w", err)
	}
	return expectOneRow(result, ErrClientNotFound)
}

func scanAPIClient(s scanner) (*APIClient, error) {
	var c APIClient
	var roles string
	var isActive int
	var lastUsed sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&c.ID, &c.Name, &c.SecretHash, &roles, &isActive,
		&lastUsed, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("scanning api client: %w", err)
	}

	c.Roles, err = ParseRoles(roles)
	if err != nil {
		return nil, fmt.Errorf("api client %s: %w", c.ID, err)
	}
	c.IsActive = isActive != 0
	if lastUsed.Valid {
		if t, err := time.Parse(time.RFC3339, lastUsed.String); err == nil {
			c.LastUsedAt = &t
		}
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &c, nil
}
