package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CoverageNavigator/internal/documents"
	"github.com/BTreeMap/CoverageNavigator/internal/flow"
	"github.com/BTreeMap/CoverageNavigator/internal/models"
	"github.com/go-chi/chi/v5"
)

type setFieldRequest struct {
	Value interface{} `json:"value"`
}

type setOptionRequest struct {
	Selected bool `json:"selected"`
}

func sessionID(r *http.Request) string { return chi.URLParam(r, "id") }

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) schemaHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.manager.Schema().Steps()))
}

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Create(r.Context())
	if err != nil {
		writeError(w, "createSessionHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(sess.View()))
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, "getSessionHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess.View()))
}

// update applies fn to the session named in the URL and writes the view.
func (s *Server) update(w http.ResponseWriter, r *http.Request, op string, fn func(*flow.Session) error) {
	sess, err := s.manager.Update(r.Context(), sessionID(r), fn)
	if err != nil {
		writeError(w, op, err)
		return
	}
	slog.Debug("Server."+op+": session updated", "session", sess.ID(), "step", sess.Step())
	writeJSONResponse(w, http.StatusOK, models.Success(sess.View()))
}

func (s *Server) resetSessionHandler(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, "resetSessionHandler", func(sess *flow.Session) error {
		sess.Reset()
		return nil
	})
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, "startHandler", (*flow.Session).Start)
}

func (s *Server) setFieldHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req setFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.setFieldHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	key := chi.URLParam(r, "key")
	s.update(w, r, "setFieldHandler", func(sess *flow.Session) error {
		return sess.SetField(key, req.Value)
	})
}

func (s *Server) setOptionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req setOptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.setOptionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	key, value := chi.URLParam(r, "key"), chi.URLParam(r, "value")
	s.update(w, r, "setOptionHandler", func(sess *flow.Session) error {
		return sess.SetOption(key, value, req.Selected)
	})
}

func (s *Server) advanceHandler(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, "advanceHandler", (*flow.Session).Advance)
}

func (s *Server) retreatHandler(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, "retreatHandler", (*flow.Session).Retreat)
}

func (s *Server) backHandler(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, "backHandler", (*flow.Session).Back)
}

// uploadHandler accepts a multipart form with a "file" part and a "type"
// field naming the checklist entry.
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.opts.MaxUploadBytes {
		writeError(w, "uploadHandler", &http.MaxBytesError{Limit: s.opts.MaxUploadBytes})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	defer r.Body.Close()
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "uploadHandler", err)
			return
		}
		slog.Warn("Server.uploadHandler: invalid multipart form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid multipart form"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		slog.Warn("Server.uploadHandler: missing file part", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("A file is required"))
		return
	}
	defer file.Close()

	up := documents.Upload{
		Name:        header.Filename,
		Type:        models.DocumentType(r.FormValue("type")),
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}
	var doc models.Document
	_, err = s.manager.Update(r.Context(), sessionID(r), func(sess *flow.Session) error {
		var uerr error
		doc, uerr = sess.Upload(r.Context(), up)
		return uerr
	})
	if err != nil {
		writeError(w, "uploadHandler", err)
		return
	}
	slog.Info("Server.uploadHandler: document received", "session", sessionID(r), "document", doc.ID, "type", doc.Type, "status", doc.Status)
	writeJSONResponse(w, http.StatusCreated, models.Success(doc))
}

// documentEventHandler records a processing phase reported by the ingestor.
func (s *Server) documentEventHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var ev models.DocumentEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		slog.Warn("Server.documentEventHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	docID := chi.URLParam(r, "docID")
	var doc models.Document
	_, err := s.manager.Update(r.Context(), sessionID(r), func(sess *flow.Session) error {
		var aerr error
		doc, aerr = sess.ApplyDocumentEvent(docID, ev)
		return aerr
	})
	if err != nil {
		writeError(w, "documentEventHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(doc))
}

func (s *Server) assessmentHandler(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, "assessmentHandler", func(sess *flow.Session) error {
		_, err := sess.Assess(r.Context())
		return err
	})
}

func (s *Server) contextHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, "contextHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"context": sess.Context()}))
}
