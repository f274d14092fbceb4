package gamebloc

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/putto11262002/gamebloc/core"
	"github.com/putto11262002/gamebloc/pkg/router"
)

type DMHandler struct {
	store core.DMStore
}

func NewDMHandler(store core.DMStore) *DMHandler {
	return &DMHandler{store: store}
}

type OpenConversationPayload struct {
	TargetUserID string `json:"targetUserId" validate:"required"`
}

type SendDirectMessagePayload struct {
	Content string `json:"content" validate:"required,notblank,max=1000"`
}

func (h *DMHandler) ConversationsHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	convs, err := h.store.Conversations(r.Context(), session.UserID)
	if err != nil {
		return err
	}
	if convs == nil {
		convs = []core.Conversation{}
	}
	return router.WriteJSON(w, http.StatusOK, convs)
}

func (h *DMHandler) OpenConversationHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	var payload OpenConversationPayload
	if err := decodePayload(r, &payload); err != nil {
		return err
	}
	conv, err := h.store.OpenConversation(r.Context(), session.UserID, payload.TargetUserID)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, conv)
}

func (h *DMHandler) MessagesHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	q, err := pageQuery(r)
	if err != nil {
		return err
	}
	page, err := h.store.Messages(r.Context(), chi.URLParam(r, "conversationID"), session.UserID, q)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, page)
}

func (h *DMHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	var payload SendDirectMessagePayload
	if err := decodePayload(r, &payload); err != nil {
		return err
	}
	sender := core.Sender{ID: session.UserID, Username: session.Username, Avatar: session.Avatar}
	msg, err := h.store.SendDirectMessage(r.Context(), chi.URLParam(r, "conversationID"), sender, payload.Content)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusCreated, msg)
}
