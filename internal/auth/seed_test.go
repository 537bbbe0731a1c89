package auth

import (
	"context"
	"log/slog"
	"testing"
)

func TestSeedAdmin_CreatesOnEmptyDB(t *testing.T) {
	db := testDB(t)
	repo := NewOperatorRepository(db)
	ctx := context.Background()

	password, err := SeedAdmin(ctx, repo, slog.Default())
	if err != nil {
		t.Fatalf("SeedAdmin() error = %v", err)
	}
	if password == "" {
		t.Fatal("SeedAdmin() should return generated password")
	}

	admin, err := repo.GetByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("GetByUsername(admin) error = %v", err)
	}
	if len(admin.Roles) != 1 || admin.Roles[0] != RoleAdmin {
		t.Errorf("Roles = %v, want [ADMIN]", admin.Roles)
	}
	if !admin.IsActive {
		t.Error("seed admin should be active")
	}

	ok, err := VerifyPassword(password, admin.PasswordHash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if !ok {
		t.Error("generated password should verify against stored hash")
	}
}

func TestSeedAdmin_SkipsWhenOperatorsExist(t *testing.T) {
	db := testDB(t)
	repo := NewOperatorRepository(db)
	ctx := context.Background()

	seedTestOperator(t, db, "existing", "pw", RoleAdmin)

	password, err := SeedAdmin(ctx, repo, slog.Default())
	if err != nil {
		t.Fatalf("SeedAdmin() error = %v", err)
	}
	if password != "" {
		t.Error("SeedAdmin() should return empty password when operators exist")
	}

	if count, _ := repo.Count(ctx); count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}
