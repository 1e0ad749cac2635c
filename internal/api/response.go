package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/CoverageNavigator/internal/assistant"
	"github.com/BTreeMap/CoverageNavigator/internal/documents"
	"github.com/BTreeMap/CoverageNavigator/internal/flow"
	"github.com/BTreeMap/CoverageNavigator/internal/models"
	"github.com/BTreeMap/CoverageNavigator/internal/screener"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so an encoding failure can still change the status code.
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// statusFor maps a core error to an HTTP status code.
func statusFor(err error) int {
	var (
		validation *screener.ValidationError
		incomplete *screener.IncompleteStepError
		tooLarge   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &validation),
		errors.Is(err, screener.ErrUnknownField),
		errors.Is(err, documents.ErrInvalidDocumentType),
		errors.Is(err, documents.ErrEmptyUpload),
		errors.Is(err, assistant.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, flow.ErrSessionNotFound),
		errors.Is(err, documents.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.As(err, &incomplete),
		errors.Is(err, flow.ErrWrongStep),
		errors.Is(err, flow.ErrDocumentsIncomplete),
		errors.Is(err, documents.ErrInvalidTransition),
		errors.Is(err, screener.ErrScreenerComplete),
		errors.Is(err, assistant.ErrRequestInFlight),
		errors.Is(err, assistant.ErrChatClosed):
		return http.StatusConflict
	case errors.Is(err, assistant.ErrAssistantUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the envelope for err. Assistant and internal failures
// carry a generic message; the cause is only logged.
func writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	switch {
	case status == http.StatusBadGateway:
		slog.Error("Server."+op+": assistant unavailable", "error", err)
		writeJSONResponse(w, status, models.Error(assistant.ErrAssistantUnavailable.Error()))
		return
	case status >= http.StatusInternalServerError:
		slog.Error("Server."+op+": request failed", "error", err)
		writeJSONResponse(w, status, models.Error("Internal server error"))
		return
	}

	slog.Warn("Server."+op+": request rejected", "status", status, "error", err)
	var incomplete *screener.IncompleteStepError
	if errors.As(err, &incomplete) {
		writeJSONResponse(w, status, models.ErrorWithResult(err.Error(), map[string]interface{}{
			"step":    incomplete.Step,
			"missing": incomplete.Missing,
		}))
		return
	}
	writeJSONResponse(w, status, models.Error(err.Error()))
}
