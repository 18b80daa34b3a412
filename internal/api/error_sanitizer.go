package api

import (
	"net/http"

	"github.com/fundline/outreach/internal/pkg/logger"
)

var errLog = logger.Component("api")

// respondSafeError logs the full internal error and sends a sanitized
// JSON error response. Store details, AWS errors, and file paths stay
// in the server log; the client only sees the public message.
func respondSafeError(w http.ResponseWriter, code int, internalErr error, publicMsg string) {
	if internalErr != nil {
		errLog.Error(publicMsg, "status", code, "error", internalErr.Error())
	}
	respondJSON(w, code, map[string]string{"error": publicMsg})
}
