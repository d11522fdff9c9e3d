package api

import (
	"net/http"
	"time"

	"github.com/keithlinneman/diary/internal/auth"
	"github.com/keithlinneman/diary/internal/store"
)

type signupRequest struct {
	Email    string `json:"email" validate:"required,max=255,email"`
	Username string `json:"username" validate:"required,min=3,max=30,username"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type signinRequest struct {
	Email    string `json:"email" validate:"required,max=255,email"`
	Password string `json:"password" validate:"required,max=128"`
}

type forgotRequest struct {
	Email string `json:"email" validate:"required,max=255,email"`
}

type resetRequest struct {
	Email    string `json:"email" validate:"required,max=255,email"`
	Token    string `json:"token" validate:"required,len=64,hexadecimal"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type signupUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

type signupResponse struct {
	Message string     `json:"message"`
	User    signupUser `json:"user"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      profile   `json:"user"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func (api *API) HandleSignup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	u, err := api.accounts.Signup(ctx, auth.SignupInput{Email: req.Email, Username: req.Username, Password: req.Password})
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusCreated, signupResponse{
		Message: "User created successfully",
		User:    signupUser{ID: u.ID, Email: u.Email, Username: u.Username, CreatedAt: u.CreatedAt},
	})
}

func (api *API) HandleSignin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req signinRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	sess, err := api.accounts.Signin(ctx, req.Email, req.Password)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, newSessionResponse(sess))
}

func newSessionResponse(s *auth.Session) sessionResponse {
	return sessionResponse{Token: s.Token, ExpiresAt: s.ExpiresAt.UTC(), User: newProfile(s.User)}
}

// HandleForgotPassword always reports success so addresses cannot be probed
func (api *API) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req forgotRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	if err := api.accounts.ForgotPassword(ctx, req.Email); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, successResponse{Success: true})
}

func (api *API) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	if err := api.accounts.ResetPassword(ctx, req.Email, req.Token, req.Password); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, successResponse{Success: true})
}

func (api *API) HandleGoogleStart(w http.ResponseWriter, r *http.Request) {
	u, err := api.accounts.GoogleAuthURL()
	if err != nil {
		api.writeError(r.Context(), w, err)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

func (api *API) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		api.writeError(ctx, w, badRequest("Google sign-in was cancelled"))
		return
	}
	sess, err := api.accounts.GoogleCallback(ctx, q.Get("state"), q.Get("code"))
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, newSessionResponse(sess))
}

// profile is the user as returned to its owner
type profile struct {
	ID                    string    `json:"id"`
	Username              string    `json:"username"`
	FirstName             *string   `json:"firstName"`
	LastName              *string   `json:"lastName"`
	Email                 string    `json:"email"`
	ProfilePicture        *string   `json:"profilePicture"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
	JournalEntriesCount   int       `json:"journalEntriesCount"`
	PrivateEntriesCount   int       `json:"privateEntriesCount"`
	PublicEntriesCount    int       `json:"publicEntriesCount"`
	ProtectedEntriesCount int       `json:"protectedEntriesCount"`
}

func newProfile(u *store.User) profile {
	return profile{
		ID:                    u.ID,
		Username:              u.Username,
		FirstName:             u.FirstName,
		LastName:              u.LastName,
		Email:                 u.Email,
		ProfilePicture:        u.ProfilePicture,
		CreatedAt:             u.CreatedAt,
		UpdatedAt:             u.UpdatedAt,
		JournalEntriesCount:   u.JournalEntriesCount,
		PrivateEntriesCount:   u.PrivateEntriesCount,
		PublicEntriesCount:    u.PublicEntriesCount,
		ProtectedEntriesCount: u.ProtectedEntriesCount,
	}
}
