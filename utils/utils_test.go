package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/nijaru/yt-mentions/errors"
	"github.com/pkg/errors"
)

func TestHandleError(t *testing.T) {
	rr := httptest.NewRecorder()
	HandleError(rr, "Test error", http.StatusBadRequest)

	if status := rr.Code; status != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusBadRequest)
	}

	expected := `{"error":"Test error"}`
	if strings.TrimSpace(rr.Body.String()) != expected {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), expected)
	}
}

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "app error",
			err:      apperrors.Conflict("test", nil, "A search is already running"),
			wantCode: http.StatusConflict,
			wantBody: `{"error":"A search is already running"}`,
		},
		{
			name:     "wrapped app error",
			err:      errors.Wrap(apperrors.NotFound("test", nil, "No results yet"), "loading"),
			wantCode: http.StatusNotFound,
			wantBody: `{"error":"No results yet"}`,
		},
		{
			name:     "plain error",
			err:      errors.New("database is locked"),
			wantCode: http.StatusInternalServerError,
			wantBody: `{"error":"Internal Server Error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			RespondWithError(rr, tt.err)

			if rr.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, rr.Code)
			}
			if got := strings.TrimSpace(rr.Body.String()); got != tt.wantBody {
				t.Errorf("expected body %s, got %s", tt.wantBody, got)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON content type, got %s", ct)
			}
		})
	}
}
