package gamebloc

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/putto11262002/gamebloc/core"
	"github.com/putto11262002/gamebloc/pkg/router"
)

type UserHandler struct {
	store core.UserStore
	hub   *core.Hub
}

func NewUserHandler(store core.UserStore, hub *core.Hub) *UserHandler {
	return &UserHandler{store: store, hub: hub}
}

func (h *UserHandler) MeHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	user, err := h.store.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		return fmt.Errorf("get user by id: %w", err)
	}

	if user == nil {
		return router.NewJsonError(http.StatusNotFound, "user not found")
	}

	return router.WriteJSON(w, http.StatusOK, user)
}

// GetUserHandler returns the public profile of a user by id.
func (h *UserHandler) GetUserHandler(w http.ResponseWriter, r *http.Request) error {
	user, err := h.store.GetUserByID(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		return fmt.Errorf("get user by id: %w", err)
	}
	return writeProfile(w, user)
}

func (h *UserHandler) GetUserByUsernameHandler(w http.ResponseWriter, r *http.Request) error {
	user, err := h.store.GetUserByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		return fmt.Errorf("get user by username: %w", err)
	}
	return writeProfile(w, user)
}

func writeProfile(w http.ResponseWriter, user *core.UserWithoutSecrets) error {
	if user == nil {
		return core.ErrInvalidUser
	}
	return router.WriteJSON(w, http.StatusOK, user.Profile())
}

type OnlineResponse struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// OnlineHandler reports whether the user has at least one registered connection.
func (h *UserHandler) OnlineHandler(w http.ResponseWriter, r *http.Request) error {
	userID := chi.URLParam(r, "userID")
	online, err := h.hub.Online(userID)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, OnlineResponse{UserID: userID, Online: online})
}
