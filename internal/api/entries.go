package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/keithlinneman/diary/internal/auth"
	"github.com/keithlinneman/diary/internal/store"
	"github.com/keithlinneman/diary/internal/xerrors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type locationInput struct {
	Lat  float64    `json:"lat" validate:"min=-90,max=90"`
	Lng  float64    `json:"lng" validate:"min=-180,max=180"`
	Name string     `json:"name" validate:"max=200"`
	At   *time.Time `json:"at"`
}

type createEntryRequest struct {
	Type         string          `json:"type" validate:"required,oneof=FREEWRITE GUIDED"`
	Content      string          `json:"content" validate:"max=100000"`
	Visibility   string          `json:"visibility" validate:"omitempty,oneof=PRIVATE PUBLIC PROTECTED"`
	QualityEmoji *string         `json:"qualityEmoji" validate:"omitnil,max=10"`
	QualityScore *int            `json:"qualityScore" validate:"omitnil,min=1,max=10"`
	MediaURLs    []string        `json:"mediaUrls" validate:"max=20,dive,max=2048"`
	Locations    []locationInput `json:"locations" validate:"max=100,dive"`
}

type updateEntryRequest struct {
	Type         *string          `json:"type" validate:"omitnil,oneof=FREEWRITE GUIDED"`
	Content      *string          `json:"content" validate:"omitnil,max=100000"`
	Visibility   *string          `json:"visibility" validate:"omitnil,oneof=PRIVATE PUBLIC PROTECTED"`
	QualityEmoji *string          `json:"qualityEmoji" validate:"omitnil,max=10"`
	QualityScore *int             `json:"qualityScore" validate:"omitnil,min=1,max=10"`
	MediaURLs    *[]string        `json:"mediaUrls" validate:"omitnil,max=20,dive,max=2048"`
	Locations    *[]locationInput `json:"locations" validate:"omitnil,max=100,dive"`
}

type entryResponse struct {
	ID           string           `json:"id"`
	Type         store.EntryType  `json:"type"`
	Content      string           `json:"content"`
	Visibility   store.Visibility `json:"visibility"`
	QualityEmoji *string          `json:"qualityEmoji"`
	QualityScore *int             `json:"qualityScore"`
	MediaURLs    []string         `json:"mediaUrls"`
	Locations    []store.Location `json:"locations"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

type entriesResponse struct {
	Entries []entryResponse `json:"entries"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

func newEntryResponse(e *store.Entry) entryResponse {
	out := entryResponse{
		ID:           e.ID,
		Type:         e.Type,
		Content:      e.Content,
		Visibility:   e.Visibility,
		QualityEmoji: e.QualityEmoji,
		QualityScore: e.QualityScore,
		MediaURLs:    e.MediaURLs,
		Locations:    e.Locations,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	if out.MediaURLs == nil {
		out.MediaURLs = []string{}
	}
	if out.Locations == nil {
		out.Locations = []store.Location{}
	}
	return out
}

func toLocations(in []locationInput) []store.Location {
	out := make([]store.Location, len(in))
	for i, l := range in {
		out[i] = store.Location{Lat: l.Lat, Lng: l.Lng, Name: l.Name, At: l.At}
	}
	return out
}

func checkMediaURLs(urls []string) error {
	for _, u := range urls {
		if !validURL(u) {
			return badRequest("mediaUrls must contain valid URLs")
		}
	}
	return nil
}

// entryID reads and validates the {id} route parameter
func entryID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		return "", xerrors.Public(err, http.StatusBadRequest, "Invalid resource id")
	}
	return id, nil
}

func entryError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return xerrors.Public(err, http.StatusNotFound, "Entry not found")
	}
	return err
}

func (api *API) HandleListEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	limit, offset := defaultPageSize, 0
	if n, err := strconv.Atoi(q.Get("limit")); err == nil {
		limit = min(max(n, 1), maxPageSize)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		offset = n
	}

	entries, err := api.store.Entries(ctx, auth.UserIDFromContext(ctx), limit, offset)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	resp := entriesResponse{Entries: make([]entryResponse, 0, len(entries)), Limit: limit, Offset: offset}
	for i := range entries {
		resp.Entries = append(resp.Entries, newEntryResponse(&entries[i]))
	}
	api.writeJSON(ctx, w, http.StatusOK, resp)
}

func (api *API) HandleCreateEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	if err := checkMediaURLs(req.MediaURLs); err != nil {
		api.writeError(ctx, w, err)
		return
	}

	e := &store.Entry{
		UserID:       auth.UserIDFromContext(ctx),
		Type:         store.EntryType(req.Type),
		Content:      req.Content,
		Visibility:   store.Visibility(req.Visibility),
		QualityEmoji: req.QualityEmoji,
		QualityScore: req.QualityScore,
		MediaURLs:    req.MediaURLs,
		Locations:    toLocations(req.Locations),
	}
	if e.Visibility == "" {
		e.Visibility = store.VisibilityPrivate
	}
	if err := api.store.CreateEntry(ctx, e); err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusCreated, newEntryResponse(e))
}

func (api *API) HandleGetEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := entryID(r)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	e, err := api.store.Entry(ctx, auth.UserIDFromContext(ctx), id)
	if err != nil {
		api.writeError(ctx, w, entryError(err))
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, newEntryResponse(e))
}

func (api *API) HandleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := entryID(r)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	var req updateEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(ctx, w, err)
		return
	}

	u := store.EntryUpdate{
		Content:      req.Content,
		QualityEmoji: req.QualityEmoji,
		QualityScore: req.QualityScore,
	}
	if req.Type != nil {
		t := store.EntryType(*req.Type)
		u.Type = &t
	}
	if req.Visibility != nil {
		v := store.Visibility(*req.Visibility)
		u.Visibility = &v
	}
	if req.MediaURLs != nil {
		if err := checkMediaURLs(*req.MediaURLs); err != nil {
			api.writeError(ctx, w, err)
			return
		}
		u.MediaURLs = req.MediaURLs
	}
	if req.Locations != nil {
		locs := toLocations(*req.Locations)
		u.Locations = &locs
	}

	e, err := api.store.UpdateEntry(ctx, auth.UserIDFromContext(ctx), id, u)
	if err != nil {
		api.writeError(ctx, w, entryError(err))
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, newEntryResponse(e))
}

func (api *API) HandleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := entryID(r)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	if err := api.store.DeleteEntry(ctx, auth.UserIDFromContext(ctx), id); err != nil {
		api.writeError(ctx, w, entryError(err))
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, successResponse{Success: true})
}
