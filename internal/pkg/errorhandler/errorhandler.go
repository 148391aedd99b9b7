package errorhandler

import (
	"context"
	"net/http"

	"github.com/cleanpoints/cleanpoints-api/internal/pkg/logger"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/response"
)

// HandleError logs the failure on the request logger and writes the error envelope.
// 5xx responses log at error level, everything else at warn.
func HandleError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error) {
	l := logger.FromContext(ctx)
	event := l.Warn()
	if status >= http.StatusInternalServerError {
		event = l.Error()
	}
	if err != nil {
		event = event.Err(err)
	}
	event.
		Str("error_code", code).
		Int("status_code", status).
		Msg(message)

	response.Error(w, status, code, message)
}
