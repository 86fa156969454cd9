package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusOK, map[string]string{"message": "test"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "test", response["message"])
	})

	t.Run("nil data", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteJSON(w, http.StatusNoContent, nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteOK(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteOK(w, map[string]string{"result": "success"}))
	assert.Equal(t, http.StatusOK, w.Code)

	var response SuccessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	dataMap := response.Data.(map[string]interface{})
	assert.Equal(t, "success", dataMap["result"])
}

func TestWriteErrorResponses(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter) error
		wantStatus int
		wantError  string
		wantMsg    string
	}{
		{
			name:       "bad request",
			write:      func(w http.ResponseWriter) error { return WriteBadRequest(w, "bad input", nil) },
			wantStatus: http.StatusBadRequest,
			wantError:  "bad_request",
			wantMsg:    "bad input",
		},
		{
			name:       "unauthorized default message",
			write:      func(w http.ResponseWriter) error { return WriteUnauthorized(w, "") },
			wantStatus: http.StatusUnauthorized,
			wantError:  "unauthorized",
			wantMsg:    "Authentication required",
		},
		{
			name:       "forbidden default message",
			write:      func(w http.ResponseWriter) error { return WriteForbidden(w, "") },
			wantStatus: http.StatusForbidden,
			wantError:  "forbidden",
			wantMsg:    "Access forbidden",
		},
		{
			name:       "service unavailable",
			write:      func(w http.ResponseWriter) error { return WriteServiceUnavailable(w, "role is resolving", 1) },
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "unavailable",
			wantMsg:    "role is resolving",
		},
		{
			name:       "internal error",
			write:      func(w http.ResponseWriter) error { return WriteInternalServerError(w, "") },
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal_error",
			wantMsg:    "Internal server error",
		},
		{
			name:       "bad gateway via WriteError",
			write:      func(w http.ResponseWriter) error { return WriteError(w, http.StatusBadGateway, "provider down", nil) },
			wantStatus: http.StatusBadGateway,
			wantError:  "bad_gateway",
			wantMsg:    "provider down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, tt.write(w))

			assert.Equal(t, tt.wantStatus, w.Code)

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.wantError, response.Error)
			assert.Equal(t, tt.wantMsg, response.Message)
		})
	}
}

func TestWriteServiceUnavailable_RetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteServiceUnavailable(w, "", 2))
	assert.Equal(t, "2", w.Header().Get("Retry-After"))

	w = httptest.NewRecorder()
	require.NoError(t, WriteServiceUnavailable(w, "", 0))
	assert.Empty(t, w.Header().Get("Retry-After"))
}
