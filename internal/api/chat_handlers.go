package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/CoverageNavigator/internal/assistant"
	"github.com/BTreeMap/CoverageNavigator/internal/models"
)

// eligibilityChatHandler is the stateless proxy boundary. The caller sends
// its own screener answers, results and history; nothing is stored.
func (s *Server) eligibilityChatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req models.EligibilityChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.eligibilityChatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.EligibilityChatError{Error: "Invalid JSON format"})
		return
	}

	answers, err := s.manager.Schema().Reconcile(req.ScreenerData)
	if err != nil {
		slog.Warn("Server.eligibilityChatHandler: screener data does not fit the schema", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.EligibilityChatError{Error: "Invalid screenerData: " + err.Error()})
		return
	}

	history := make([]models.ChatMessage, 0, len(req.ChatHistory))
	for _, h := range req.ChatHistory {
		history = append(history, models.ChatMessage{Text: h.Text, IsFromUser: h.IsFromUser})
	}
	builder := s.manager.Deps().Builder
	reply, err := s.asker.Ask(r.Context(), assistant.Request{
		Message: req.Message,
		Context: builder.Build(answers, req.EligibilityResults, history),
		History: history,
	})
	switch {
	case errors.Is(err, assistant.ErrEmptyMessage):
		slog.Warn("Server.eligibilityChatHandler: empty message")
		writeJSONResponse(w, http.StatusBadRequest, models.EligibilityChatError{Error: "Message is required"})
		return
	case err != nil:
		slog.Error("Server.eligibilityChatHandler: assistant failed", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.EligibilityChatError{Error: assistant.ErrAssistantUnavailable.Error()})
		return
	}
	writeJSONResponse(w, http.StatusOK, models.EligibilityChatResponse{Response: reply.Text})
}

func (s *Server) openChatHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, "openChatHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess.OpenChat()))
}

func (s *Server) closeChatHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, "closeChatHandler", err)
		return
	}
	sess.CloseChat()
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Chat closed", nil))
}

// sendChatHandler waits for the assistant reply. The session stays usable
// by other requests meanwhile; a second send is rejected until this one ends.
func (s *Server) sendChatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req models.ChatSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendChatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	sess, err := s.manager.Get(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, "sendChatHandler", err)
		return
	}
	reply, err := sess.SendChat(r.Context(), req.Message)
	if err != nil {
		writeError(w, "sendChatHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(reply))
}
