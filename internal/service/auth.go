// Package service holds the business rules, between the HTTP handlers and
// the repositories:
//
//	Handler (HTTP)  →  Service (rules)  →  Repository (storage)
//
// Services take repository interfaces, not concrete stores, so tests run
// against in-memory fakes and the storage backend can change without
// touching this package. Errors are *apperror.AppError values (or wrap
// them); handlers map them to status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/sakif/nutrition-tracker/internal/apperror"
	"github.com/sakif/nutrition-tracker/internal/auth"
	"github.com/sakif/nutrition-tracker/internal/model"
	"github.com/sakif/nutrition-tracker/internal/repository"
)

// Input limits for registration.
const (
	MaxEmailLength = 254
	MaxNameLength  = 80
)

// AuthService registers accounts, checks credentials and issues sessions.
type AuthService struct {
	accounts repository.AccountRepository
	tokens   *auth.TokenService
	creds    *auth.Credentials
	logger   *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	accounts repository.AccountRepository,
	tokens *auth.TokenService,
	creds *auth.Credentials,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		accounts: accounts,
		tokens:   tokens,
		creds:    creds,
		logger:   logger,
	}
}

// RegisterInput is the body of POST /api/auth/register.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// AuthResult bundles the account and its fresh session token so the handler
// can set the cookie and respond in one step.
type AuthResult struct {
	Account *model.Account
	Token   string
}

// Register creates the account together with its default Stats row and
// signs the new account in.
//
// The email is trimmed and lower-cased before anything else, so
// "Alice@Example.com " and "alice@example.com" are the same account.
// A taken email is a conflict (409), never a storage error.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if len(name) > MaxNameLength {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("name must be %d characters or less", MaxNameLength))
	}

	hash, err := s.creds.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing credential: %w", err)
	}

	account := &model.Account{Email: email, CredentialHash: hash, DisplayName: name}
	if err := s.accounts.CreateWithStats(ctx, account, model.DefaultStats(0)); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			s.logger.Info("registration rejected: email taken")
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: registering account: %w", err)
	}

	s.logger.Info("account registered", slog.Int64("accountID", account.ID))
	return s.issue(account)
}

// Login checks the credentials and signs the account in. Unknown emails and
// wrong passwords give the same Unauthenticated error and take the same time.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperror.Unauthenticated("invalid credentials")
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			_ = s.creds.VerifyMissing(password)
			return nil, apperror.Unauthenticated("invalid credentials")
		}
		return nil, fmt.Errorf("service/auth: looking up account: %w", err)
	}

	if err := s.creds.Verify(account.CredentialHash, password); err != nil {
		if errors.Is(err, auth.ErrCredentialMismatch) {
			s.logger.Info("login failed", slog.Int64("accountID", account.ID))
			return nil, apperror.Unauthenticated("invalid credentials")
		}
		return nil, fmt.Errorf("service/auth: verifying credential: %w", err)
	}

	return s.issue(account)
}

// Me returns the account behind a validated session.
func (s *AuthService) Me(ctx context.Context, accountID int64) (*model.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching account %d: %w", accountID, err)
	}
	return account, nil
}

func (s *AuthService) issue(account *model.Account) (*AuthResult, error) {
	token, err := s.tokens.Generate(account.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for account %d: %w", account.ID, err)
	}
	return &AuthResult{Account: account, Token: token}, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	if len(email) > MaxEmailLength {
		return "", apperror.ValidationFailed("email",
			fmt.Sprintf("email must be %d characters or less", MaxEmailLength))
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email, "@") {
		return "", apperror.ValidationFailed("email", "email is not valid")
	}
	return email, nil
}

func validatePassword(p string) error {
	if len(p) < auth.MinPasswordLength {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", auth.MinPasswordLength))
	}
	if len(p) > auth.MaxPasswordLength {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordLength))
	}
	return nil
}
