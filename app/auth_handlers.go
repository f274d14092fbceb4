package gamebloc

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/putto11262002/gamebloc/core"
	"github.com/putto11262002/gamebloc/pkg/router"
)

type AuthHandler struct {
	store     core.AuthStore
	userStore core.UserStore
	secure    bool
}

func NewAuthHandler(store core.AuthStore, userStore core.UserStore, secure bool) *AuthHandler {
	return &AuthHandler{store: store, userStore: userStore, secure: secure}
}

type SignupPayload struct {
	Username string `json:"username" validate:"required,min=3,max=20,alphanum"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Avatar   string `json:"avatar" validate:"omitempty,url"`
}

type SigninPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *AuthHandler) SignupHandler(w http.ResponseWriter, r *http.Request) error {
	var payload SignupPayload
	if err := decodePayload(r, &payload); err != nil {
		return err
	}

	user, err := h.userStore.CreateUser(r.Context(), core.User{
		Username: payload.Username,
		Email:    payload.Email,
		Password: payload.Password,
		Avatar:   payload.Avatar,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return router.WriteJSON(w, http.StatusCreated, user)
}

func (h *AuthHandler) SigninHandler(w http.ResponseWriter, r *http.Request) error {
	var payload SigninPayload
	if err := decodePayload(r, &payload); err != nil {
		return err
	}

	session, err := h.store.NewSession(r.Context(), payload.Email, payload.Password)
	if err != nil {
		if errors.Is(err, core.ErrBadCredentials) {
			return router.NewJsonError(http.StatusUnauthorized, err.Error())
		}
		return err
	}

	cookie := core.CookieFromSession(*session, true, "/")
	cookie.Secure = h.secure
	http.SetCookie(w, cookie)

	return router.WriteJSON(w, http.StatusOK, session)
}

func (h *AuthHandler) SignoutHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	if err := h.store.DestroySession(r.Context(), session); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     core.AuthCookieName,
		Value:    "",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.secure,
		Path:     "/",
	})
	w.WriteHeader(http.StatusNoContent)
	return nil
}
