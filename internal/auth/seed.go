package auth

import (
	"context"
	"fmt"
	"log/slog"
)

// SeedAdmin creates the first console operator when none exist.
// The generated password is logged once and returned; an empty string
// means seeding was skipped.
func SeedAdmin(ctx context.Context, operators OperatorRepository, logger *slog.Logger) (string, error) {
	count, err := operators.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking operator count: %w", err)
	}
	if count > 0 {
		logger.Debug("operators exist, skipping admin seed")
		return "", nil
	}

	password, err := GenerateSecret()
	if err != nil {
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password = password[:32]

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &Operator{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: hash,
		Roles:        []Role{RoleAdmin},
		IsActive:     true,
	}
	if err := operators.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	logger.Warn("seed admin operator created",
		"username", admin.Username,
		"password", password,
		"action_required", "change this password immediately",
	)
	return password, nil
}
