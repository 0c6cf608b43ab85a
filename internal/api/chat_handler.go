package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/banking-router-poc/server/internal/agent/model"
	"github.com/banking-router-poc/server/internal/agent/taxonomy"
	errx "github.com/banking-router-poc/server/internal/core/error"
	"github.com/banking-router-poc/server/pkg/validate"
)

const maxBodyBytes = 1 << 20

type ChatRequest struct {
	Message   string `json:"message" validate:"required,max=10000"`
	UserID    string `json:"user_id,omitempty" validate:"omitempty,max=128"`
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=256"`
}

type ChatResponse struct {
	Response  string         `json:"response"`
	AgentName string         `json:"agent_name"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	Sources   []model.NodeID `json:"sources,omitempty"`
	Citations []string       `json:"citations,omitempty"`
}

// ChatHandler serves the chat and session management endpoints.
type ChatHandler struct {
	svc Service
	tax *taxonomy.Taxonomy
}

func NewChatHandler(svc Service, tax *taxonomy.Taxonomy) *ChatHandler {
	return &ChatHandler{svc: svc, tax: tax}
}

// Chat handles POST /chat through the root router.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	q, err := decodeChat(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	reply, err := h.svc.Handle(r.Context(), q)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toChatResponse(reply))
}

// DomainChat handles POST /{domain}/chat through one domain router.
func (h *ChatHandler) DomainChat(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if _, ok := h.tax.Domain(domain); !ok {
		respondError(w, r, errx.Wrap(errx.KindNotFound, nil, "unknown agent "+domain))
		return
	}
	q, err := decodeChat(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	reply, err := h.svc.HandleDomain(r.Context(), domain, q)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toChatResponse(reply))
}

// ResetSession handles DELETE /sessions/{sessionID}?domain=.
func (h *ChatHandler) ResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.svc.ResetSession(r.Context(), r.URL.Query().Get("domain"), sessionID); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset", "session_id": sessionID})
}

// ClearMemory handles DELETE /memory/{userID}?domain=.
func (h *ChatHandler) ClearMemory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.svc.ClearMemory(r.Context(), r.URL.Query().Get("domain"), userID); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared", "user_id": userID})
}

func decodeChat(w http.ResponseWriter, r *http.Request) (model.Query, error) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return model.Query{}, errx.InvalidInput(err, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return model.Query{}, errx.InvalidInput(err, err.Error())
	}
	return model.Query{
		Text:      req.Message,
		UserID:    req.UserID,
		SessionID: req.SessionID,
	}, nil
}

func toChatResponse(reply model.Reply) ChatResponse {
	return ChatResponse{
		Response:  reply.Answer.Text,
		AgentName: reply.AgentName,
		UserID:    reply.UserID,
		SessionID: reply.SessionID,
		Sources:   reply.Answer.Sources,
		Citations: reply.Answer.Citations,
	}
}
