package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cleanpoints/cleanpoints-api/internal/pkg/response"
)

// ErrUnknownAccount is returned by an ActiveAccountChecker when the token's
// account does not exist.
var ErrUnknownAccount = errors.New("unknown account")

// ActiveAccountChecker reports whether an account may still transact.
type ActiveAccountChecker interface {
	IsActive(ctx context.Context, accountID uuid.UUID) (bool, error)
}

// RequireActiveAccount blocks disabled accounts, except on whitelisted paths.
func RequireActiveAccount(checker ActiveAccountChecker, whitelist []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			for _, allowed := range whitelist {
				if path == allowed || strings.HasPrefix(path, allowed) {
					next.ServeHTTP(w, r)
					return
				}
			}

			accountID := GetAccountID(r.Context())
			if accountID == uuid.Nil {
				response.Unauthorized(w, "Authentication required")
				return
			}

			active, err := checker.IsActive(r.Context(), accountID)
			switch {
			case errors.Is(err, ErrUnknownAccount):
				response.Unauthorized(w, "Authentication required")
				return
			case err != nil:
				log.Error().Err(err).Str("account_id", accountID.String()).Msg("active account check failed")
				response.ServiceUnavailable(w, "STORAGE_FAILURE", "Account lookup temporarily unavailable, retry")
				return
			}

			if !active {
				response.Error(w, http.StatusForbidden, "ACCOUNT_DISABLED", "Account is disabled")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
