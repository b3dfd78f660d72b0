// Package auth guards the operator endpoints with HTTP basic auth and
// role-based permissions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidPassword = errors.New("invalid password")
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

type Permission string

const (
	PermissionModelsRead    Permission = "models:read"
	PermissionModelsRefresh Permission = "models:refresh"
	PermissionCircuitsRead  Permission = "circuits:read"
)

var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermissionModelsRead,
		PermissionModelsRefresh,
		PermissionCircuitsRead,
	},
	RoleViewer: {
		PermissionModelsRead,
		PermissionCircuitsRead,
	},
}

func HasPermission(role Role, permission Permission) bool {
	return slices.Contains(rolePermissions[role], permission)
}

type Operator struct {
	Username     string
	PasswordHash string
	Role         Role
	Enabled      bool
}

type OperatorStore interface {
	GetByUsername(ctx context.Context, username string) (*Operator, error)
}

type Authenticator struct {
	store OperatorStore
}

func NewAuthenticator(store OperatorStore) *Authenticator {
	return &Authenticator{store: store}
}

func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*Operator, error) {
	op, err := a.store.GetByUsername(ctx, username)
	if err != nil {
		return nil, ErrUserNotFound
	}

	if !op.Enabled {
		return nil, ErrUnauthorized
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidPassword
	}

	return op, nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

type contextKey string

const operatorContextKey contextKey = "operator"

func WithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, operatorContextKey, op)
}

func OperatorFromContext(ctx context.Context) (*Operator, bool) {
	op, ok := ctx.Value(operatorContextKey).(*Operator)
	return op, ok
}

type RBACMiddleware struct {
	auth *Authenticator
}

func NewRBACMiddleware(auth *Authenticator) *RBACMiddleware {
	return &RBACMiddleware{auth: auth}
}

func (m *RBACMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="model-router admin"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		op, err := m.auth.Authenticate(r.Context(), username, password)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), op)))
	})
}

func (m *RBACMiddleware) RequirePermission(permission Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, ok := OperatorFromContext(r.Context())
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !HasPermission(op.Role, permission) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Protect chains RequireAuth and RequirePermission.
func (m *RBACMiddleware) Protect(permission Permission, next http.Handler) http.Handler {
	return m.RequireAuth(m.RequirePermission(permission)(next))
}

type InMemoryOperatorStore struct {
	mu        sync.RWMutex
	operators map[string]*Operator
}

func NewInMemoryOperatorStore() *InMemoryOperatorStore {
	return &InMemoryOperatorStore{operators: make(map[string]*Operator)}
}

// ParseOperators builds a store from "username:role:bcrypt-hash" entries.
// Bcrypt hashes never contain ':' so the split is unambiguous.
func ParseOperators(entries []string) (*InMemoryOperatorStore, error) {
	store := NewInMemoryOperatorStore()
	for _, entry := range entries {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
			return nil, fmt.Errorf("invalid operator entry %q", entry)
		}

		role := Role(parts[1])
		if _, ok := rolePermissions[role]; !ok {
			return nil, fmt.Errorf("unknown role %q for operator %s", parts[1], parts[0])
		}

		store.Add(&Operator{
			Username:     parts[0],
			Role:         role,
			PasswordHash: parts[2],
			Enabled:      true,
		})
	}
	return store, nil
}

func (s *InMemoryOperatorStore) Add(op *Operator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operators[op.Username] = op
}

func (s *InMemoryOperatorStore) GetByUsername(ctx context.Context, username string) (*Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.operators[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return op, nil
}

func (s *InMemoryOperatorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.operators)
}
