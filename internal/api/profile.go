package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/keithlinneman/diary/internal/auth"
	"github.com/keithlinneman/diary/internal/store"
	"github.com/keithlinneman/diary/internal/xerrors"
)

const (
	searchMinQuery = 2
	searchMaxTake  = 20
)

// profileUpdateRequest replaces all three fields, a missing or null field clears it
type profileUpdateRequest struct {
	FirstName      *string `json:"firstName" validate:"omitnil,max=100"`
	LastName       *string `json:"lastName" validate:"omitnil,max=100"`
	ProfilePicture *string `json:"profilePicture" validate:"omitnil,max=2048"`
}

type userSummary struct {
	ID             string  `json:"id"`
	Username       string  `json:"username"`
	FirstName      *string `json:"firstName"`
	LastName       *string `json:"lastName"`
	ProfilePicture *string `json:"profilePicture"`
}

type searchResponse struct {
	Users []userSummary `json:"users"`
}

func errUserNotFound(err error) error {
	return xerrors.Public(err, http.StatusNotFound, "User not found")
}

func (api *API) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, err := api.store.UserByID(ctx, auth.UserIDFromContext(ctx))
	if errors.Is(err, store.ErrNotFound) {
		err = errUserNotFound(err)
	}
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, newProfile(u))
}

func (api *API) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req profileUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	pic := orEmpty(req.ProfilePicture)
	if *pic != "" && !validURL(*pic) {
		api.writeError(ctx, w, badRequest("profilePicture must be a valid URL"))
		return
	}
	u, err := api.store.UpdateProfile(ctx, auth.UserIDFromContext(ctx), store.ProfileUpdate{
		FirstName:      orEmpty(req.FirstName),
		LastName:       orEmpty(req.LastName),
		ProfilePicture: pic,
	})
	if errors.Is(err, store.ErrNotFound) {
		err = errUserNotFound(err)
	}
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, newProfile(u))
}

// orEmpty turns nil into a pointer to "", which the store clears
func orEmpty(s *string) *string {
	v := ""
	if s != nil {
		v = strings.TrimSpace(*s)
	}
	return &v
}

// validURL accepts absolute http(s) urls and the root relative paths uploads produce
func validURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if u.Scheme == "" && u.Host == "" {
		return strings.HasPrefix(s, "/") && !strings.HasPrefix(s, "//")
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// HandleSearchUsers finds other users by username or name. Queries shorter
// than two characters return no users rather than an error.
func (api *API) HandleSearchUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	take := searchMaxTake
	if n, err := strconv.Atoi(r.URL.Query().Get("take")); err == nil {
		take = min(max(n, 1), searchMaxTake)
	}

	resp := searchResponse{Users: []userSummary{}}
	if len([]rune(q)) < searchMinQuery {
		api.writeJSON(ctx, w, http.StatusOK, resp)
		return
	}

	users, err := api.store.SearchUsers(ctx, q, auth.UserIDFromContext(ctx), take)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	for _, u := range users {
		resp.Users = append(resp.Users, userSummary{
			ID:             u.ID,
			Username:       u.Username,
			FirstName:      u.FirstName,
			LastName:       u.LastName,
			ProfilePicture: u.ProfilePicture,
		})
	}
	api.writeJSON(ctx, w, http.StatusOK, resp)
}
