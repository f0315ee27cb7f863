package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/samikhalifabe/Pandorabox/pkg/conversation"
	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

type healthResponse struct {
	Status      string             `json:"status"`
	State       types.SessionState `json:"state"`
	Subscribers int                `json:"subscribers"`
	Store       string             `json:"store"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", State: s.deps.Session.State(), Store: "ok"}
	if s.deps.Broadcaster != nil {
		resp.Subscribers = s.deps.Broadcaster.SubscriberCount()
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			resp.Status, resp.Store = "degraded", err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type stateResponse struct {
	Success bool               `json:"success"`
	State   types.SessionState `json:"state"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.Session.Initialize(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{Success: true, State: state})
}

type statusResponse struct {
	Success bool `json:"success"`
	types.SessionStatus
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Success: true, SessionStatus: s.deps.Session.Status()})
}

type qrResponse struct {
	Success   bool               `json:"success"`
	State     types.SessionState `json:"state"`
	QR        string             `json:"qr"`
	IssuedAt  *time.Time         `json:"issuedAt,omitempty"`
	ExpiresAt *time.Time         `json:"expiresAt,omitempty"`
	Stale     bool               `json:"stale"`
}

func (s *Server) handleQR(w http.ResponseWriter, _ *http.Request) {
	st := s.deps.Session.Status()
	writeJSON(w, http.StatusOK, qrResponse{
		Success:   true,
		State:     st.State,
		QR:        st.QRPayload,
		IssuedAt:  st.QRIssuedAt,
		ExpiresAt: st.QRExpiresAt,
		Stale:     st.QRStale,
	})
}

func (s *Server) handleQRRefresh(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Session.RequestNewPairing(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qrResponse{
		Success:   true,
		State:     s.deps.Session.State(),
		QR:        p.Payload,
		IssuedAt:  &p.IssuedAt,
		ExpiresAt: &p.ExpiresAt,
	})
}

// sendRequest accepts {to, body} and the dashboard's {number, message}.
type sendRequest struct {
	To      string `json:"to"`
	Body    string `json:"body"`
	Number  string `json:"number"`
	Message string `json:"message"`
}

type sendResponse struct {
	Success       bool   `json:"success"`
	CorrelationID string `json:"correlationId"`
	MessageID     string `json:"messageId"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	to := firstNonEmpty(req.To, req.Number)
	body := firstNonEmpty(req.Body, req.Message)
	if strings.TrimSpace(to) == "" || strings.TrimSpace(body) == "" {
		s.writeError(w, r, fmt.Errorf("%w: to and body are required", errBadRequest))
		return
	}

	receipt, err := s.deps.Messages.Send(r.Context(), to, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true, CorrelationID: receipt.CorrelationID, MessageID: receipt.CorrelationID})
}

type messageResponse struct {
	Success bool           `json:"success"`
	Message *types.Message `json:"message"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.deps.Messages.Lookup(r.Context(), chi.URLParam(r, "correlationId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: msg})
}

type resyncResponse struct {
	Success bool `json:"success"`
	Total   int  `json:"total"`
	Synced  int  `json:"synced"`
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	chats, err := s.deps.Session.ListChats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.deps.Conversations.Resync(r.Context(), chats)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resyncResponse{Success: true, Total: len(chats), Synced: n})
}

type contactedResponse struct {
	Success bool                `json:"success"`
	Updated int                 `json:"updated"`
	Links   []conversation.Link `json:"links"`
}

func (s *Server) handleUpdateContacted(w http.ResponseWriter, r *http.Request) {
	links, err := s.deps.Conversations.ContactedLinks(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.deps.Conversations.UpdateContacted(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if links == nil {
		links = []conversation.Link{}
	}
	writeJSON(w, http.StatusOK, contactedResponse{Success: true, Updated: n, Links: links})
}

type successResponse struct {
	Success bool `json:"success"`
}

func (s *Server) handleAIConfigRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.ReloadConfig != nil {
		if err := s.deps.ReloadConfig(); err != nil {
			s.writeError(w, r, fmt.Errorf("failed to reload configuration: %w", err))
			return
		}
	}
	s.log.Infof("configuration reloaded")
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: body exceeds %d bytes", errBadRequest, tooLarge.Limit)
		}
		return fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
