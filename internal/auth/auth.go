// Package auth handles the operator login guarding admin endpoints: a bcrypt
// password check against the configured hash and JWT session tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Roles carried in session tokens.
const (
	RoleAdmin  = "admin"  // Archive control and statistics
	RoleViewer = "viewer" // Read-only access
)

const issuer = "adsb-feedhub"

var (
	// ErrInvalidCredentials is returned when a login fails.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned when token validation fails.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrDisabled is returned when no admin password hash is configured.
	ErrDisabled = errors.New("admin login disabled")
)

// Claims represents the JWT claims of a session.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Config holds authentication configuration.
type Config struct {
	AdminUsername     string
	AdminPasswordHash string        // bcrypt; empty disables login
	JWTSecret         string        // Secret key for signing JWTs
	TokenDuration     time.Duration // How long tokens are valid (default: 1 hour)
	BCryptCost        int           // BCrypt hashing cost (default: bcrypt.DefaultCost)
}

// Service provides authentication operations.
type Service struct {
	config Config
	now    func() time.Time
}

// NewService creates a new authentication service.
func NewService(cfg Config) *Service {
	if cfg.BCryptCost == 0 {
		cfg.BCryptCost = bcrypt.DefaultCost
	}
	if cfg.TokenDuration == 0 {
		cfg.TokenDuration = time.Hour
	}
	if cfg.AdminUsername == "" {
		cfg.AdminUsername = "admin"
	}
	return &Service{config: cfg, now: time.Now}
}

// Enabled reports whether admin login is possible.
func (s *Service) Enabled() bool {
	return s.config.AdminPasswordHash != "" && s.config.JWTSecret != ""
}

// HashPassword hashes a plaintext password using bcrypt.
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BCryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Login checks the operator credentials and issues an admin session token.
func (s *Service) Login(username, password string) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	nameOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.config.AdminUsername)) == 1
	err := bcrypt.CompareHashAndPassword([]byte(s.config.AdminPasswordHash), []byte(password))
	if !nameOK || err != nil {
		return "", ErrInvalidCredentials
	}
	return s.GenerateToken(username, RoleAdmin)
}

// GenerateToken generates a signed session token.
func (s *Service) GenerateToken(username, role string) (string, error) {
	now := s.now()
	claims := &Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.JWTSecret))
}

// ValidateToken validates a session token and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// HasRole checks if a role grants at least requiredRole.
func HasRole(userRole, requiredRole string) bool {
	roleLevel := map[string]int{
		RoleAdmin:  1,
		RoleViewer: 0,
	}

	userLevel, ok1 := roleLevel[userRole]
	requiredLevel, ok2 := roleLevel[requiredRole]
	if !ok1 || !ok2 {
		return false
	}
	return userLevel >= requiredLevel
}

type claimsKey struct{}

// ClaimsFromContext returns the claims stored by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// Middleware rejects requests without a valid bearer token granting role.
func (s *Service) Middleware(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "Missing or invalid authorization header", http.StatusUnauthorized)
				return
			}

			claims, err := s.ValidateToken(token)
			if err != nil {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}
			if !HasRole(claims.Role, role) {
				http.Error(w, "Insufficient role", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}
