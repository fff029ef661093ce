package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/auth"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{
			name:    "user facing",
			err:     auth.Forbidden(auth.ErrForbidden, "no access to account 42"),
			status:  http.StatusForbidden,
			code:    auth.ErrForbidden,
			message: "no access to account 42",
		},
		{
			name:    "wrapped user facing",
			err:     errors.Join(errors.New("context"), auth.NotFound(auth.ErrNotFound, "gone")),
			status:  http.StatusNotFound,
			code:    auth.ErrNotFound,
			message: "gone",
		},
		{
			name:    "internal keeps code hides message",
			err:     auth.Internal(auth.ErrDecryption, "bad key for token abc", nil),
			status:  http.StatusInternalServerError,
			code:    auth.ErrDecryption,
			message: "internal server error",
		},
		{
			name:    "plain error",
			err:     errors.New("connection refused"),
			status:  http.StatusInternalServerError,
			code:    auth.ErrInternal,
			message: "internal server error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			assert.Equal(t, tt.status, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.code, resp.Error)
			assert.Equal(t, tt.message, resp.Message)
		})
	}
}

func TestWriteHelpers(t *testing.T) {
	w := httptest.NewRecorder()
	WriteBadRequest(w, "invalid input")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, auth.ErrBadRequest, decodeError(t, w).Error)

	w = httptest.NewRecorder()
	WriteUnauthorized(w, "session expired")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	WriteNotFound(w, "user not found")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}
