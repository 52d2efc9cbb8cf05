// Package respond writes JSON responses for the REST handlers.
package respond

import (
	"encoding/json"
	"net/http"

	appErrors "ephemeral-chat/pkg/errors"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Error answers with the status and code of err. Causes of internal errors
// are not exposed.
func Error(w http.ResponseWriter, err error) {
	code := appErrors.CodeOf(err)
	if code == appErrors.CodeUnknown {
		code = appErrors.CodeInternal
	}
	JSON(w, appErrors.HTTPStatus(err), errorResponse{Error: string(code), Message: appErrors.MessageOf(err)})
}
