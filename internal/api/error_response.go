package api //nolint:revive // package name is intentional

import (
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	gwerrors "github.com/blueberrycongee/supportgate/pkg/errors"
)

// ErrorResponse is the error envelope every endpoint writes.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the error payload.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, e *gwerrors.GatewayError) {
	w.Header().Set("Cache-Control", "no-store")
	gwerrors.Write(w, e)
}
