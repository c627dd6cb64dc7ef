package utils

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/nijaru/yt-mentions/errors"
	"github.com/sirupsen/logrus"
)

func HandleError(w http.ResponseWriter, message string, statusCode int) {
	RespondWithJSON(w, statusCode, map[string]string{"error": message})
}

// RespondWithError writes err as a JSON error body. Errors without an
// *errors.Error in their chain are reported as 500 without detail.
func RespondWithError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	message := http.StatusText(code)

	var appErr *apperrors.Error
	if apperrors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}
	HandleError(w, message, code)
}

func RespondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Error("Failed to encode JSON response")
	}
}
