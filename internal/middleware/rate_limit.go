package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/cleanpoints/cleanpoints-api/internal/pkg/response"
)

// AccountRateLimit limits requests per authenticated account, falling back to
// the client IP for anonymous callers.
func AccountRateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(accountOrIPKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			response.TooManyRequests(w)
		}),
	)
}

func accountOrIPKey(r *http.Request) (string, error) {
	if id := GetAccountID(r.Context()); id != uuid.Nil {
		return "account:" + id.String(), nil
	}
	ip, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + ip, nil
}
