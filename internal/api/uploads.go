package api

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/keithlinneman/diary/internal/auth"
	"github.com/keithlinneman/diary/internal/log"
	"github.com/keithlinneman/diary/internal/media"
	"github.com/keithlinneman/diary/internal/store"
	"github.com/keithlinneman/diary/internal/xerrors"
)

type uploadResponse struct {
	URL     string `json:"url"`
	Type    string `json:"type"`
	Size    int64  `json:"size"`
	Message string `json:"message"`
}

type profileUploadResponse struct {
	Message        string  `json:"message"`
	ProfilePicture string  `json:"profilePicture"`
	User           profile `json:"user"`
}

// formFile reads the named multipart field. The body is capped a little
// above what rules accept so oversized files still get the rules' message.
func formFile(w http.ResponseWriter, r *http.Request, field string, rules media.Rules) (multipart.File, media.File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, rules.MaxBytes()+uploadOverrun)
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, media.File{}, xerrors.Public(err, http.StatusRequestEntityTooLarge, "Request body too large")
		}
		return nil, media.File{}, xerrors.Public(err, http.StatusBadRequest, "No file uploaded")
	}
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, media.File{}, xerrors.Public(err, http.StatusBadRequest, "No file uploaded")
	}
	return f, media.File{Name: hdr.Filename, ContentType: hdr.Header.Get("Content-Type"), Size: hdr.Size}, nil
}

func (api *API) HandleMediaUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, meta, err := formFile(w, r, "media", media.EntryMedia)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	defer body.Close()

	obj, err := api.media.Upload(ctx, auth.UserIDFromContext(ctx), media.EntryMedia, meta, body)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, uploadResponse{
		URL:     obj.URL,
		Type:    obj.ContentType,
		Size:    obj.Size,
		Message: "Media uploaded successfully",
	})
}

// HandleProfileUpload stores a new profile picture and removes the previous
// one when it was uploaded by the same user.
func (api *API) HandleProfileUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserIDFromContext(ctx)

	body, meta, err := formFile(w, r, "profilePicture", media.ProfilePicture)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	defer body.Close()

	current, err := api.store.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		err = errUserNotFound(err)
	}
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}

	obj, err := api.media.Upload(ctx, userID, media.ProfilePicture, meta, body)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	u, err := api.store.UpdateProfile(ctx, userID, store.ProfileUpdate{ProfilePicture: &obj.URL})
	if err != nil {
		// nothing references the new object yet
		if _, derr := api.media.DeleteOwned(ctx, userID, media.ProfilePicture.Folder, obj.URL); derr != nil {
			log.FromContext(ctx).Warn(ctx, "delete orphaned profile picture", "error", derr, "url", obj.URL)
		}
		api.writeError(ctx, w, err)
		return
	}

	if old := current.ProfilePicture; old != nil && *old != "" && *old != obj.URL {
		if _, err := api.media.DeleteOwned(ctx, userID, media.ProfilePicture.Folder, *old); err != nil {
			log.FromContext(ctx).Warn(ctx, "delete previous profile picture", "error", err, "url", *old)
		}
	}

	api.writeJSON(ctx, w, http.StatusOK, profileUploadResponse{
		Message:        "Profile picture uploaded successfully",
		ProfilePicture: obj.URL,
		User:           newProfile(u),
	})
}
