/*
auth.go - Account registration, login, and bearer-token middleware

PURPOSE:
  Issues HS256 JWTs for API accounts and verifies them on protected
  routes. Passwords are stored as bcrypt hashes only.

FLOW:
  POST /api/auth/register  -> create account (bcrypt hash)
  POST /api/auth/login     -> verify password, return signed token
  Authorization: Bearer X  -> middleware verifies, puts claims in context

TOKEN CLAIMS:
  sub:  user id
  name: username
  role: account role (admin | pharmacist | staff)
  exp:  expiry, 24h from issue

SEE ALSO:
  - store/sqlite/sqlite.go: User persistence
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/mediset/pharmacy-engine/pharmacy"
	"github.com/mediset/pharmacy-engine/store/sqlite"
)

const tokenTTL = 24 * time.Hour

// UserStore is the slice of the SQLite store auth needs.
type UserStore interface {
	SaveUser(ctx context.Context, u sqlite.User) error
	GetUserByUsername(ctx context.Context, username string) (*sqlite.User, error)
}

// Auth issues and verifies tokens for API accounts.
type Auth struct {
	users  UserStore
	secret []byte
	log    *logrus.Logger
	now    func() time.Time
}

// NewAuth creates the auth service. The secret signs every issued token;
// rotating it invalidates outstanding sessions.
func NewAuth(users UserStore, secret string, log *logrus.Logger) *Auth {
	if log == nil {
		log = logrus.New()
	}
	return &Auth{
		users:  users,
		secret: []byte(secret),
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register creates an API account.
func (a *Auth) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required", nil)
		return
	}
	if req.Role == "" {
		req.Role = "staff"
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password", err)
		return
	}

	user := sqlite.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         req.Role,
		CreatedAt:    a.now(),
	}
	if err := a.users.SaveUser(r.Context(), user); err != nil {
		if errors.Is(err, pharmacy.ErrDuplicateIdentity) {
			writeError(w, http.StatusConflict, "Username or email already taken", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create account", err)
		return
	}

	token, err := a.issueToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token", err)
		return
	}
	writeJSON(w, http.StatusCreated, AuthResponse{Token: token, Username: user.Username, Role: user.Role})
}

// Login verifies credentials and returns a signed token.
func (a *Auth) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	user, err := a.users.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Login failed", err)
		return
	}
	// Same response for unknown user and bad password.
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	token, err := a.issueToken(*user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token", err)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{Token: token, Username: user.Username, Role: user.Role})
}

func (a *Auth) issueToken(u sqlite.User) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"sub":  u.ID,
		"name": u.Username,
		"role": u.Role,
		"iat":  now.Unix(),
		"exp":  now.Add(tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

type contextKey string

const identityKey contextKey = "identity"

// Identity is the verified caller attached to the request context.
type Identity struct {
	UserID   string
	Username string
	Role     string
}

// IdentityFrom returns the verified caller, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// Middleware verifies the bearer token and attaches the caller identity.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || raw == "" {
			writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.secret, nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token", err)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Invalid token claims", nil)
			return
		}
		identity := Identity{}
		if v, ok := claims["sub"].(string); ok {
			identity.UserID = v
		}
		if v, ok := claims["name"].(string); ok {
			identity.Username = v
		}
		if v, ok := claims["role"].(string); ok {
			identity.Role = v
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole gates a route group to one of the given roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Missing identity", nil)
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "Insufficient role", nil)
		})
	}
}
