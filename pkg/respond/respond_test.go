package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	appErrors "ephemeral-chat/pkg/errors"
)

func TestError_MapsCodes(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{name: "validation", err: appErrors.ErrEmptyMessage, status: http.StatusBadRequest, code: "VALIDATION", message: "message is empty"},
		{name: "not found", err: appErrors.ErrAttachmentNotFound, status: http.StatusNotFound, code: "NOT_FOUND", message: "attachment not found"},
		{name: "unauthenticated", err: appErrors.Unauthorized("invalid credentials"), status: http.StatusUnauthorized, code: "UNAUTHENTICATED", message: "invalid credentials"},
		{name: "persist", err: appErrors.ErrPersistFailed("message insert", errors.New("pq: secret")), status: http.StatusInternalServerError, code: "PERSIST", message: "message insert failed"},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: "INTERNAL", message: "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Error(rec, tc.err)
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var out errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
			require.Equal(t, tc.code, out.Error)
			require.Equal(t, tc.message, out.Message)
		})
	}
}

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusCreated, map[string]string{"id": "1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.JSONEq(t, `{"id":"1"}`, rec.Body.String())
}
