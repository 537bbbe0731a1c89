package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Scheme is an HTTP Authorization scheme accepted on the programmatic chain.
type Scheme string

const (
	// SchemeBasic carries an API client name and secret, checked against
	// the client's argon2id hash on every request.
	SchemeBasic Scheme = "Basic"

	// SchemeBearer carries an HS256 access token from GenerateAccessToken.
	// The issuing client must still be active.
	SchemeBearer Scheme = "Bearer"
)

// Credentials are the raw values read from one request's Authorization header.
type Credentials struct {
	Scheme   Scheme
	Username string
	Password string
	Token    string
}

// ParseAuthorization reads an Authorization header value.
// An empty header yields ErrMissingCredentials.
func ParseAuthorization(header string) (Credentials, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Credentials{}, ErrMissingCredentials
	}

	scheme, value, ok := strings.Cut(header, " ")
	if !ok {
		return Credentials{}, ErrInvalidCredentials
	}
	value = strings.TrimSpace(value)

	switch {
	case strings.EqualFold(scheme, string(SchemeBasic)):
		raw, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return Credentials{}, fmt.Errorf("%w: bad basic encoding", ErrInvalidCredentials)
		}
		user, pass, ok := strings.Cut(string(raw), ":")
		if !ok || user == "" {
			return Credentials{}, fmt.Errorf("%w: malformed basic credentials", ErrInvalidCredentials)
		}
		return Credentials{Scheme: SchemeBasic, Username: user, Password: pass}, nil
	case strings.EqualFold(scheme, string(SchemeBearer)):
		if value == "" {
			return Credentials{}, ErrInvalidCredentials
		}
		return Credentials{Scheme: SchemeBearer, Token: value}, nil
	default:
		return Credentials{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
}

// CredentialValidator turns per-request credentials into a Principal.
// Implementations must not keep state between calls.
type CredentialValidator interface {
	Validate(ctx context.Context, creds Credentials) (*Principal, error)
}

// MultiValidator routes credentials to a validator by scheme.
type MultiValidator map[Scheme]CredentialValidator

// Validate implements CredentialValidator.
func (m MultiValidator) Validate(ctx context.Context, creds Credentials) (*Principal, error) {
	v, ok := m[creds.Scheme]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, creds.Scheme)
	}
	return v.Validate(ctx, creds)
}

// dummyHash is compared against when a name is unknown so that lookups
// for missing and existing accounts take similar time.
var (
	dummyHashOnce sync.Once
	dummyHash     string
)

func timingPad(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = HashPassword("chargegate-timing-pad") //nolint:errcheck // only used for timing
	})
	_, _ = VerifyPassword(password, dummyHash) //nolint:errcheck // result intentionally discarded
}

// BasicAuthenticator validates client name and secret against stored API clients.
type BasicAuthenticator struct {
	clients APIClientRepository
	logger  *slog.Logger
}

// NewBasicAuthenticator creates a validator for Basic credentials.
func NewBasicAuthenticator(clients APIClientRepository, logger *slog.Logger) *BasicAuthenticator {
	return &BasicAuthenticator{clients: clients, logger: logger}
}

// Validate implements CredentialValidator.
func (a *BasicAuthenticator) Validate(ctx context.Context, creds Credentials) (*Principal, error) {
	if creds.Scheme != SchemeBasic {
		return nil, ErrUnsupportedScheme
	}

	client, err := a.clients.GetByName(ctx, creds.Username)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			timingPad(creds.Password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up api client: %w", err)
	}

	ok, err := VerifyPassword(creds.Password, client.SecretHash)
	if err != nil {
		return nil, fmt.Errorf("verifying api client secret: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !client.IsActive {
		return nil, ErrClientInactive
	}

	if err := a.clients.TouchLastUsed(ctx, client.ID); err != nil {
		a.logger.Warn("recording api client use failed", "client", client.Name, "error", err)
	}
	return client.Principal(), nil
}

// TokenAuthenticator validates HS256 bearer tokens issued by GenerateAccessToken.
// The client must still exist and be active, so disabling a client revokes its tokens.
type TokenAuthenticator struct {
	secret  string
	clients APIClientRepository
}

// NewTokenAuthenticator creates a bearer token validator.
func NewTokenAuthenticator(secret string, clients APIClientRepository) *TokenAuthenticator {
	return &TokenAuthenticator{secret: secret, clients: clients}
}

// Validate implements CredentialValidator.
func (a *TokenAuthenticator) Validate(ctx context.Context, creds Credentials) (*Principal, error) {
	if creds.Scheme != SchemeBearer {
		return nil, ErrUnsupportedScheme
	}

	claims, err := ParseToken(creds.Token, a.secret)
	if err != nil {
		return nil, err
	}

	client, err := a.clients.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up api client: %w", err)
	}
	if !client.IsActive {
		return nil, ErrClientInactive
	}
	return client.Principal(), nil
}

// OperatorAuthenticator checks console sign-in credentials.
type OperatorAuthenticator struct {
	operators OperatorRepository
	logger    *slog.Logger
}

// NewOperatorAuthenticator creates the sign-in credential checker.
func NewOperatorAuthenticator(operators OperatorRepository, logger *slog.Logger) *OperatorAuthenticator {
	return &OperatorAuthenticator{operators: operators, logger: logger}
}

// Authenticate verifies a username and password. Unknown users, wrong
// passwords and inactive accounts all return ErrInvalidCredentials so the
// sign-in form cannot be used to enumerate accounts.
//
// A legacy bcrypt hash is upgraded to argon2id after a successful check.
func (a *OperatorAuthenticator) Authenticate(ctx context.Context, username, password string) (*Operator, error) {
	op, err := a.operators.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrOperatorNotFound) {
			timingPad(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up operator: %w", err)
	}

	ok, err := VerifyPassword(password, op.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying operator password: %w", err)
	}
	if !ok || !op.IsActive {
		return nil, ErrInvalidCredentials
	}

	if NeedsRehash(op.PasswordHash) {
		if hash, err := HashPassword(password); err == nil {
			if err := a.operators.UpdatePassword(ctx, op.ID, hash); err != nil {
				a.logger.Warn("upgrading operator password hash failed", "operator", op.Username, "error", err)
			} else {
				op.PasswordHash = hash
			}
		}
	}
	return op, nil
}
