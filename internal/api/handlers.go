// Package api exposes the daemon's control surface: a JSON API served
// over the session's Unix domain socket, consumed by orbitctl.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pcardosol/orbit/internal/account"
	"github.com/pcardosol/orbit/internal/chat"
	"github.com/pcardosol/orbit/internal/presence"
	"github.com/pcardosol/orbit/internal/rest"
	"github.com/pcardosol/orbit/internal/status"
)

// Realtime reports the gateway connection state.
type Realtime interface {
	Connected() bool
}

// StatusResponse describes the daemon's runtime state.
type StatusResponse struct {
	Session          string     `json:"session"`
	State            string     `json:"state"`
	User             *chat.User `json:"user,omitempty"`
	GatewayConnected bool       `json:"gateway_connected"`
	UnseenTotal      int        `json:"unseen_total"`
}

// LoginRequest carries credentials for POST /v1/session/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ContactView is a directory entry annotated with live presence.
type ContactView struct {
	chat.Contact
	Online bool `json:"online"`
}

// ContactsResponse is the payload for GET /v1/contacts.
type ContactsResponse struct {
	Contacts []ContactView `json:"contacts"`
}

// PresenceResponse is the payload for GET /v1/presence.
type PresenceResponse struct {
	Online []string `json:"online"`
}

// OpenResponse is the payload for POST /v1/chat/{userID}/open.
type OpenResponse struct {
	Peer     chat.User      `json:"peer"`
	Messages []chat.Message `json:"messages"`
}

// AttachmentPayload is a file attached to a send request. Data travels
// base64-encoded in JSON.
type AttachmentPayload struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// SendRequest is the body for POST /v1/chat/{userID}/send.
type SendRequest struct {
	Text        string              `json:"text"`
	Attachments []AttachmentPayload `json:"attachments,omitempty"`
}

// SendResponse is the payload for a successful send.
type SendResponse struct {
	Message *chat.Message `json:"message"`
}

// Handler serves the control API.
type Handler struct {
	session  string
	machine  *status.Machine
	manager  *account.Manager
	engine   *chat.Engine
	presence *presence.Tracker
	realtime Realtime
	logger   *zap.Logger
}

// NewHandler creates the control API handler.
func NewHandler(session string, machine *status.Machine, manager *account.Manager, engine *chat.Engine, tracker *presence.Tracker, realtime Realtime, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		session:  session,
		machine:  machine,
		manager:  manager,
		engine:   engine,
		presence: tracker,
		realtime: realtime,
		logger:   logger,
	}
}

// Router builds the chi router for the control API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.handleStatus)
		r.Route("/session", func(r chi.Router) {
			r.Post("/login", h.handleLogin)
			r.Post("/logout", h.handleLogout)
		})
		r.Get("/contacts", h.handleContacts)
		r.Get("/presence", h.handlePresence)
		r.Route("/chat/{userID}", func(r chi.Router) {
			r.Post("/open", h.handleOpen)
			r.Post("/close", h.handleClose)
			r.Post("/send", h.handleSend)
		})
	})
	return r
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Session:          h.session,
		State:            string(h.machine.Current()),
		GatewayConnected: h.realtime.Connected(),
		UnseenTotal:      h.engine.UnseenTotal(),
	}
	if user, ok := h.manager.CurrentUser(); ok {
		resp.User = &user
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and password required"})
		return
	}

	user, err := h.manager.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Warn("login failed", zap.String("username", req.Username), zap.Error(err))
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Logout(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleContacts(w http.ResponseWriter, r *http.Request) {
	contacts := h.engine.Contacts()
	views := make([]ContactView, 0, len(contacts))
	for _, c := range contacts {
		views = append(views, ContactView{
			Contact: c,
			Online:  h.presence.Online(c.User.ID),
		})
	}
	writeJSON(w, http.StatusOK, ContactsResponse{Contacts: views})
}

func (h *Handler) handlePresence(w http.ResponseWriter, r *http.Request) {
	online := h.presence.Snapshot()
	if online == nil {
		online = []string{}
	}
	writeJSON(w, http.StatusOK, PresenceResponse{Online: online})
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	peer, msgs, err := h.engine.OpenConversation(r.Context(), userID)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, OpenResponse{Peer: peer, Messages: msgs})
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	h.engine.CloseConversation()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	attachments := make([]chat.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, chat.Attachment{Name: a.Name, Data: a.Data})
	}

	sent, err := h.engine.Send(r.Context(), userID, req.Text, attachments)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	if sent == nil {
		// Empty sends are ignored, not errors.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, SendResponse{Message: sent})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, rest.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrSuperseded):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
