// Package rbac guards routes with the fixed role to permission table in
// shared. The caller's role arrives trusted from the gateway.
package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/tutorledger/tutorledger/internal/platform/httpx"
	"github.com/tutorledger/tutorledger/internal/shared"
)

var grants = map[shared.Role]map[string]struct{}{
	shared.RoleAdmin:     permissionSet(shared.RolePermissions(shared.RoleAdmin)),
	shared.RoleAssistant: permissionSet(shared.RolePermissions(shared.RoleAssistant)),
	shared.RoleStudent:   permissionSet(shared.RolePermissions(shared.RoleStudent)),
}

// Middleware builds route guards. Logger, when set, records denials.
type Middleware struct {
	Logger *slog.Logger
}

// RequireAny passes callers whose role grants at least one of perms.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.guard("any", perms, func(granted map[string]struct{}, required []string) bool {
		for _, p := range required {
			if _, ok := granted[p]; ok {
				return true
			}
		}
		return false
	})
}

// RequireAll passes callers whose role grants every one of perms.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.guard("all", perms, func(granted map[string]struct{}, required []string) bool {
		for _, p := range required {
			if _, ok := granted[p]; !ok {
				return false
			}
		}
		return true
	})
}

func (m Middleware) guard(mode string, perms []string, allowed func(map[string]struct{}, []string) bool) func(http.Handler) http.Handler {
	required := normalize(perms)
	return func(next http.Handler) http.Handler {
		if len(required) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := shared.CallerFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if allowed(grants[caller.Role], required) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Warn("permission denied",
					slog.String("mode", mode),
					slog.Any("required", required),
					slog.Int64("caller_id", caller.ID),
					slog.String("role", string(caller.Role)),
					slog.String("path", r.URL.Path))
			}
			httpx.RespondError(w, shared.ErrForbidden)
		})
	}
}

// Can reports whether role grants perm.
func Can(role shared.Role, perm string) bool {
	_, ok := grants[role][strings.ToLower(strings.TrimSpace(perm))]
	return ok
}

func normalize(perms []string) []string {
	out := make([]string, 0, len(perms))
	seen := make(map[string]bool, len(perms))
	for _, p := range perms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func permissionSet(perms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[strings.ToLower(p)] = struct{}{}
	}
	return set
}
