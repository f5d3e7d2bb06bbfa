package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/inaiurai/promptq/internal/models"
)

var (
	ErrUsernameTaken      = errors.New("username already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidInput       = errors.New("invalid input")
)

const (
	tokenTTL          = 24 * time.Hour
	minPasswordLength = 8
	maxUsernameLength = 64
)

// Store is the account persistence the service needs. *Repository implements it.
type Store interface {
	Create(ctx context.Context, username, passwordHash string) (*models.Account, error)
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	List(ctx context.Context) ([]*models.Account, error)
	UpsertAdmin(ctx context.Context, username, passwordHash string) (*models.Account, error)
}

type Service interface {
	Register(ctx context.Context, username, password string) (*models.Account, error)
	Login(ctx context.Context, username, password string) (string, *models.Account, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, bool, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	EnsureAdmin(ctx context.Context, username, password string) (*models.Account, error)
}

type service struct {
	store  Store
	secret []byte
	now    func() time.Time
}

func NewService(store Store, secret string) *service {
	return &service{store: store, secret: []byte(secret), now: time.Now}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

var _ Store = (*Repository)(nil)

type claims struct {
	jwt.RegisteredClaims
	IsAdmin bool `json:"is_admin"`
}

func (s *service) Register(ctx context.Context, username, password string) (*models.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > maxUsernameLength {
		return nil, fmt.Errorf("%w: username must be 1-%d characters", ErrInvalidInput, maxUsernameLength)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return s.store.Create(ctx, username, string(hash))
}

// Login checks the password and issues a signed token.
func (s *service) Login(ctx context.Context, username, password string) (string, *models.Account, error) {
	acc, err := s.store.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return "", nil, err
	}
	if acc == nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.issueToken(acc.ID, acc.IsAdmin)
	if err != nil {
		return "", nil, err
	}
	return token, acc, nil
}

func (s *service) issueToken(accountID uuid.UUID, isAdmin bool) (string, error) {
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		IsAdmin: isAdmin,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

// ValidateToken resolves a token to (account_id, is_admin). Any failure is ErrUnauthenticated.
func (s *service) ValidateToken(_ context.Context, token string) (uuid.UUID, bool, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, false, ErrUnauthenticated
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("%w: bad subject", ErrUnauthenticated)
	}
	return id, c.IsAdmin, nil
}

func (s *service) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	return s.store.List(ctx)
}

// EnsureAdmin makes sure the configured admin account exists with the given password.
func (s *service) EnsureAdmin(ctx context.Context, username, password string) (*models.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return s.store.UpsertAdmin(ctx, username, string(hash))
}
