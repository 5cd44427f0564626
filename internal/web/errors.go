package web

// errors.go provides unified error responses for the API.
//
// Every error is logged with its technical detail and the request id, then
// mapped through core.MapError to a JSON body the client can show:
//
//	{"error": "...", "message": "...", "action": "...", "code": "JOB002"}
//
// The HTTP status comes from the mapped message unless the handler passes
// an explicit one.

import (
	"encoding/json"
	"net/http"

	"github.com/JonMunkholm/addrintel/internal/core"
	"github.com/JonMunkholm/addrintel/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes its user-facing form. A zero
// statusCode uses the status mapped from the error.
func respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	msg := core.MapError(err)
	if statusCode == 0 {
		statusCode = msg.Status
	}
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}

	logger := logging.FromContext(r.Context())
	log := logger.Warn
	if statusCode >= http.StatusInternalServerError {
		log = logger.Error
	}
	log("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", msg.Code,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// writeJSON encodes v as JSON with the given status. Encoding errors are
// logged since headers are already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}
