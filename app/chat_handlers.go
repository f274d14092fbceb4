package gamebloc

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/putto11262002/gamebloc/core"
	"github.com/putto11262002/gamebloc/pkg/router"
)

type ChatHandler struct {
	chatStore core.ChatStore
	hub       *core.Hub
}

func NewChatHandler(chatStore core.ChatStore, hub *core.Hub) *ChatHandler {
	return &ChatHandler{chatStore: chatStore, hub: hub}
}

type SendMessagePayload struct {
	Content string `json:"content" validate:"required,notblank,max=500"`
	Type    string `json:"type" validate:"omitempty,oneof=text reaction"`
}

// pageQuery reads the limit and before query parameters.
// before is an RFC 3339 timestamp of the oldest message already loaded.
func pageQuery(r *http.Request) (core.PageQuery, error) {
	var q core.PageQuery
	query := r.URL.Query()
	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return q, router.NewJsonError(http.StatusBadRequest, "limit must be a positive integer")
		}
		q.Limit = n
	}
	if before := query.Get("before"); before != "" {
		t, err := time.Parse(time.RFC3339Nano, before)
		if err != nil {
			return q, router.NewJsonError(http.StatusBadRequest, "before must be an RFC 3339 timestamp")
		}
		q.Before = t
	}
	return q, nil
}

func (h *ChatHandler) GetMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	q, err := pageQuery(r)
	if err != nil {
		return err
	}
	page, err := h.chatStore.GetMessages(r.Context(), chi.URLParam(r, "gameID"), q)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, page)
}

func (h *ChatHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	var payload SendMessagePayload
	if err := decodePayload(r, &payload); err != nil {
		return err
	}

	sender := core.Sender{ID: session.UserID, Username: session.Username, Avatar: session.Avatar}
	msg, err := h.chatStore.SaveMessage(r.Context(), chi.URLParam(r, "gameID"), sender, payload.Content, payload.Type)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusCreated, msg)
}

// PresenceHandler returns the live viewers of a game room.
func (h *ChatHandler) PresenceHandler(w http.ResponseWriter, r *http.Request) error {
	presence, err := h.hub.Presence(core.GameRoom(chi.URLParam(r, "gameID")))
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, presence)
}
