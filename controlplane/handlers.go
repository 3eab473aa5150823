package controlplane

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/inoueakimitsu/cline/session"
)

// MaxBodyBytes caps the size of a request body.
const MaxBodyBytes = 1 << 20

type sendMessageRequest struct {
	Message *string `json:"message"`
}

// visible resolves the visible session or answers SERVICE_UNAVAILABLE.
func (s *Server) visible(w http.ResponseWriter) (session.Session, bool) {
	sess, ok := s.sessions.Visible()
	if !ok {
		respondError(w, http.StatusServiceUnavailable, CodeServiceUnavailable, "No visible session is available")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := decodeJSONBody(r.Body, &req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusBadRequest, CodeInvalidRequest, "Request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "Request body must be a JSON object with a message field")
		return
	}
	if req.Message == nil || *req.Message == "" {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "Missing or empty 'message' field")
		return
	}
	sess, ok := s.visible(w)
	if !ok {
		return
	}
	if err := sess.HandleMessage(r.Context(), *req.Message); err != nil {
		s.logger.Error("failed to send message to session %s: %s", sess.ID(), err)
		respondError(w, http.StatusInternalServerError, CodeCommandExecutionError, "Failed to send message: "+err.Error())
		return
	}
	respondJSON(w, MessageData{Message: "Message sent successfully"})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.visible(w)
	if !ok {
		return
	}
	state, err := sess.State(r.Context())
	if err != nil {
		s.logger.Error("failed to read state of session %s: %s", sess.ID(), err)
		respondError(w, http.StatusInternalServerError, CodeCommandExecutionError, "Failed to read session state: "+err.Error())
		return
	}
	respondJSON(w, state)
}

func (s *Server) handleMode(mode session.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.visible(w)
		if !ok {
			return
		}
		if err := sess.UpdateSetting(r.Context(), session.SettingMode, string(mode)); err != nil {
			s.logger.Error("failed to set mode %s on session %s: %s", mode, sess.ID(), err)
			respondError(w, http.StatusInternalServerError, CodeCommandExecutionError, "Failed to switch to "+string(mode)+" mode: "+err.Error())
			return
		}
		if err := sess.BroadcastState(r.Context()); err != nil {
			s.logger.Error("failed to broadcast state of session %s: %s", sess.ID(), err)
			respondError(w, http.StatusInternalServerError, CodeCommandExecutionError, "Failed to switch to "+string(mode)+" mode: "+err.Error())
			return
		}
		respondJSON(w, ModeData{Mode: string(mode)})
	}
}

func (s *Server) handleButton(kind session.InvokeKind, label string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.visible(w)
		if !ok {
			return
		}
		if err := sess.PostEvent(r.Context(), session.Event{Type: session.EventInvoke, Invoke: kind}); err != nil {
			s.logger.Error("failed to click %s button on session %s: %s", strings.ToLower(label), sess.ID(), err)
			respondError(w, http.StatusInternalServerError, CodeButtonClickError, "Failed to click "+strings.ToLower(label)+" button: "+err.Error())
			return
		}
		respondJSON(w, MessageData{Message: label + " button clicked successfully"})
	}
}

// decodeJSONBody decodes exactly one JSON value from body.
func decodeJSONBody(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
