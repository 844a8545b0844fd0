package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/ferrovax/deskrelay/internal/config"
	"github.com/ferrovax/deskrelay/internal/storage/sqlite"
	"github.com/ferrovax/deskrelay/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Error  = logger.Error
)

// Service errors surfaced to the API layer
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

type contextKey string

const claimsContextKey contextKey = "staff-claims"

// Claims carried by a staff web token
type Claims struct {
	Username string `json:"username"`
	StaffID  int64  `json:"staff_id"`
	jwt.RegisteredClaims
}

// Service authenticates IT staff accounts and issues the bearer tokens that
// guard the staff-side API surface
type Service struct {
	storage  *sqlite.StaffStorage
	secret   []byte
	tokenTTL time.Duration
	logger   *logger.Logger
}

// NewService creates an auth service
func NewService(storage *sqlite.StaffStorage, cfg *config.AuthConfig, log *logger.Logger) *Service {
	return &Service{
		storage:  storage,
		secret:   []byte(cfg.JWTSecret),
		tokenTTL: time.Duration(cfg.TokenTTLMinutes) * time.Minute,
		logger:   log.Named("auth"),
	}
}

// HashPassword hashes a password for storage
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// EnsureDefaultAdmin seeds the configured admin account when the staff table
// is empty, so a fresh deployment has a way in
func (s *Service) EnsureDefaultAdmin(cfg *config.AuthConfig, email string) error {
	count, err := s.storage.Count()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := HashPassword(cfg.DefaultAdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash default admin password: %w", err)
	}

	if _, err := s.storage.Insert(&sqlite.StaffRecord{
		Username:     cfg.DefaultAdminUsername,
		PasswordHash: hash,
		Email:        email,
	}); err != nil {
		return fmt.Errorf("failed to seed default admin account: %w", err)
	}

	s.logger.Warn("Seeded default admin account, change its password",
		String("username", cfg.DefaultAdminUsername))
	return nil
}

// LoginResult is returned to a successfully authenticated staff member
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
}

// Login verifies the credentials and issues a signed token
func (s *Service) Login(username, password string) (*LoginResult, error) {
	staff, err := s.storage.GetByUsername(username)
	if err != nil {
		return nil, err
	}
	if staff == nil {
		s.logger.Warn("Failed login attempt", String("username", username))
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(staff.PasswordHash), []byte(password)) != nil {
		s.logger.Warn("Failed login attempt", String("username", username))
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)
	claims := &Claims{
		Username: staff.Username,
		StaffID:  staff.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   staff.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	s.logger.Info("Staff member logged in", String("username", username))
	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		Username:  staff.Username,
	}, nil
}

// ValidateToken parses and verifies a staff token
func (s *Service) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{},
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware rejects requests without a valid Bearer token and stores the
// verified claims on the request context
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := s.ValidateToken(token)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext returns the staff claims stored by Middleware
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok
}
