package media

import (
	"errors"
	"net/http"
	"path"
	"slices"
	"strings"

	"github.com/keithlinneman/diary/internal/xerrors"
)

// ErrInvalidFile is wrapped by every validation failure. The wrapping error
// carries a client-facing message and a 400 status.
var ErrInvalidFile = errors.New("invalid file")

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

const (
	MB = 1 << 20

	maxEntryImage   = 10 * MB
	maxEntryVideo   = 50 * MB
	maxProfileImage = 5 * MB
)

var (
	imageTypes = []string{"image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp"}
	videoTypes = []string{"video/mp4", "video/webm", "video/ogg", "video/quicktime"}
	imageExts  = []string{"jpg", "jpeg", "png", "gif", "webp"}
	videoExts  = []string{"mp4", "webm", "ogg", "mov"}
)

// Rules describe what one upload endpoint accepts
type Rules struct {
	Folder        string
	AllowVideo    bool
	MaxImageBytes int64
	MaxVideoBytes int64

	typeMessage string
	extMessage  func(Kind) string
	sizeMessage func(Kind) string
}

// EntryMedia accepts images and videos attached to journal entries
var EntryMedia = Rules{
	Folder:        "entries",
	AllowVideo:    true,
	MaxImageBytes: maxEntryImage,
	MaxVideoBytes: maxEntryVideo,
	typeMessage:   "Invalid file type. Please upload an image (JPEG, PNG, GIF, WebP) or video (MP4, WebM, OGG, MOV).",
	extMessage: func(k Kind) string {
		return "Invalid file extension. Please upload a " + string(k) + " file."
	},
	sizeMessage: func(k Kind) string {
		if k == KindVideo {
			return "File too large. Please upload a file smaller than 50MB."
		}
		return "File too large. Please upload a file smaller than 10MB."
	},
}

// ProfilePicture accepts small images only
var ProfilePicture = Rules{
	Folder:        "profiles",
	MaxImageBytes: maxProfileImage,
	typeMessage:   "Invalid file type. Please upload a JPEG, PNG, GIF, or WebP image.",
	extMessage: func(Kind) string {
		return "Invalid file extension. Please upload a JPEG, PNG, GIF, or WebP image."
	},
	sizeMessage: func(Kind) string {
		return "File too large. Please upload an image smaller than 5MB."
	},
}

// MaxBytes is the largest upload the rules can accept
func (r Rules) MaxBytes() int64 {
	if r.AllowVideo && r.MaxVideoBytes > r.MaxImageBytes {
		return r.MaxVideoBytes
	}
	return r.MaxImageBytes
}

// File describes an upload as received
type File struct {
	Name        string
	ContentType string
	Size        int64
}

// Check validates f against r and returns its kind and normalized extension
func (r Rules) Check(f File) (Kind, string, error) {
	ctype := strings.ToLower(strings.TrimSpace(f.ContentType))
	var kind Kind
	switch {
	case slices.Contains(imageTypes, ctype):
		kind = KindImage
	case r.AllowVideo && slices.Contains(videoTypes, ctype):
		kind = KindVideo
	default:
		return "", "", invalid(r.typeMessage, "content type %q", f.ContentType)
	}

	limit := r.MaxImageBytes
	if kind == KindVideo {
		limit = r.MaxVideoBytes
	}
	if f.Size > limit {
		return "", "", invalid(r.sizeMessage(kind), "%d bytes over %d limit", f.Size, limit)
	}

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(f.Name), "."))
	allowed := imageExts
	if kind == KindVideo {
		allowed = videoExts
	}
	if !slices.Contains(allowed, ext) {
		return "", "", invalid(r.extMessage(kind), "extension %q for %s", ext, kind)
	}
	return kind, ext, nil
}

func invalid(msg, format string, args ...any) error {
	return xerrors.Public(xerrors.Wrapf(ErrInvalidFile, format, args...), http.StatusBadRequest, msg)
}
