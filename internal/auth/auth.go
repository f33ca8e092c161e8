// Package auth issues and verifies sessions. Credential material is hashed
// here; the ledger only stores the opaque hash.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"tradesim/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AdminUsername is reserved for the operator and cannot be registered.
const AdminUsername = "admin"

// Accounts is the identity store.
type Accounts interface {
	Register(id string, credential []byte) (domain.Account, error)
	Account(id string) (domain.Account, error)
}

// Identity is the authenticated caller.
type Identity struct {
	AccountID string `json:"username"`
	Admin     bool   `json:"admin"`
}

// Claims is the signed token body.
type Claims struct {
	Admin bool `json:"admin"`
	jwt.RegisteredClaims
}

// Service registers accounts and issues HMAC-signed tokens.
type Service struct {
	accounts      Accounts
	secret        []byte
	adminPassword string
	ttl           time.Duration
	cost          int
	now           func() time.Time
}

// NewService creates an auth service. cost 0 uses bcrypt.DefaultCost.
func NewService(accounts Accounts, secret, adminPassword string, ttl time.Duration, cost int) *Service {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		accounts:      accounts,
		secret:        []byte(secret),
		adminPassword: adminPassword,
		ttl:           ttl,
		cost:          cost,
		now:           time.Now,
	}
}

// Register hashes password and creates a zero-balance account.
func (s *Service) Register(username, password string) (domain.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.Account{}, fmt.Errorf("%w: username and password are required", domain.ErrInvalidAccount)
	}
	if strings.EqualFold(username, AdminUsername) {
		return domain.Account{}, fmt.Errorf("%w: username unavailable", domain.ErrAccountExists)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return domain.Account{}, fmt.Errorf("hash credential: %w", err)
	}
	return s.accounts.Register(username, hash)
}

// Login verifies credentials and returns a signed token. Suspended accounts
// cannot log in.
func (s *Service) Login(username, password string) (string, Identity, error) {
	if username == "" || password == "" {
		return "", Identity{}, domain.ErrAuth
	}

	if username == AdminUsername {
		if s.adminPassword == "" || subtle.ConstantTimeCompare([]byte(password), []byte(s.adminPassword)) != 1 {
			return "", Identity{}, domain.ErrAuth
		}
		id := Identity{AccountID: AdminUsername, Admin: true}
		token, err := s.Issue(id)
		return token, id, err
	}

	acc, err := s.accounts.Account(username)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return "", Identity{}, domain.ErrAuth
		}
		return "", Identity{}, err
	}
	if acc.Suspended {
		return "", Identity{}, domain.ErrAccountSuspended
	}
	if err := bcrypt.CompareHashAndPassword(acc.Credential, []byte(password)); err != nil {
		return "", Identity{}, domain.ErrAuth
	}

	id := Identity{AccountID: acc.ID}
	token, err := s.Issue(id)
	return token, id, err
}

// Issue signs a token for id.
func (s *Service) Issue(id Identity) (string, error) {
	now := s.now()
	claims := Claims{
		Admin: id.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.AccountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses a token and returns its identity.
func (s *Service) Verify(token string) (Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", domain.ErrAuth)
	}
	return Identity{AccountID: claims.Subject, Admin: claims.Admin}, nil
}
