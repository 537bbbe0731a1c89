package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/nerrad567/chargegate/internal/infrastructure/config"
	"github.com/nerrad567/chargegate/internal/infrastructure/database"
	"github.com/nerrad567/chargegate/migrations"
)

// testDB creates a temporary SQLite database with the real schema applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

// seedTestOperator inserts an active operator with the given password.
func seedTestOperator(t *testing.T, db *sql.DB, username, password string, roles ...Role) *Operator {
	t.Helper()

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	op := &Operator{Username: username, PasswordHash: hash, Roles: roles, IsActive: true}
	if err := NewOperatorRepository(db).Create(context.Background(), op); err != nil {
		t.Fatalf("creating operator: %v", err)
	}
	return op
}

// seedTestClient inserts an active API client with the given secret.
func seedTestClient(t *testing.T, db *sql.DB, name, secret string, roles ...Role) *APIClient {
	t.Helper()

	hash, err := HashPassword(secret)
	if err != nil {
		t.Fatalf("hashing secret: %v", err)
	}
	c := &APIClient{Name: name, SecretHash: hash, Roles: roles, IsActive: true}
	if err := NewAPIClientRepository(db).Create(context.Background(), c); err != nil {
		t.Fatalf("creating api client: %v", err)
	}
	return c
}
