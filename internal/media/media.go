// Package media validates user uploads and stores them in S3. Objects are
// named <userID>-<unix ms>.<ext> under a per-purpose folder so ownership can
// be checked from the url alone.
package media

import (
	"context"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/keithlinneman/diary/internal/pathutil"
	"github.com/keithlinneman/diary/internal/xerrors"
)

type Object struct {
	Key         string `json:"-"`
	URL         string `json:"url"`
	ContentType string `json:"type"`
	Size        int64  `json:"size"`
	Kind        Kind   `json:"-"`
}

type Service struct {
	store     ObjectStore
	prefix    string
	publicURL string
	now       func() time.Time
	observe   func(kind string, size int64)
}

type Options struct {
	Store ObjectStore
	// Prefix is prepended to every key
	Prefix string
	// PublicURL is the base objects are served from
	PublicURL string
	Observe   func(kind string, size int64)
}

func New(opts Options) *Service {
	return &Service{
		store:     opts.Store,
		prefix:    strings.Trim(opts.Prefix, "/"),
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
		now:       time.Now,
		observe:   opts.Observe,
	}
}

// Upload validates f against rules and stores body for userID
func (s *Service) Upload(ctx context.Context, userID string, rules Rules, f File, body io.Reader) (*Object, error) {
	kind, ext, err := rules.Check(f)
	if err != nil {
		return nil, err
	}
	if !pathutil.IsSafeName(userID) {
		return nil, xerrors.Newf("unsafe user id %q for object key", userID)
	}

	name := userID + "-" + strconv.FormatInt(s.now().UnixMilli(), 10) + "." + ext
	key := s.key(rules.Folder, name)
	ctype := strings.ToLower(f.ContentType)

	if err := s.store.Put(ctx, key, ctype, f.Size, io.LimitReader(body, f.Size)); err != nil {
		return nil, err
	}
	if s.observe != nil {
		s.observe(string(kind), f.Size)
	}
	return &Object{Key: key, URL: s.url(key), ContentType: ctype, Size: f.Size, Kind: kind}, nil
}

// DeleteOwned removes the object behind rawURL when it lives in folder and
// its name starts with userID. Anything else is left alone and reports false.
func (s *Service) DeleteOwned(ctx context.Context, userID, folder, rawURL string) (bool, error) {
	key, ok := s.keyFromURL(rawURL)
	if !ok {
		return false, nil
	}
	dir, name := path.Split(key)
	if strings.TrimSuffix(dir, "/") != s.key(folder, "") || !strings.HasPrefix(name, userID+"-") {
		return false, nil
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) key(folder, name string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{s.prefix, folder, name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

func (s *Service) url(key string) string {
	if s.publicURL == "" {
		return "/" + key
	}
	return joinURL(s.publicURL, key)
}

// keyFromURL maps a url produced by url() back to its key
func (s *Service) keyFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	p := u.Path
	if s.publicURL != "" {
		base, err := url.Parse(s.publicURL)
		if err != nil || u.Host != base.Host {
			return "", false
		}
		rest, ok := strings.CutPrefix(p, strings.TrimRight(base.Path, "/"))
		if !ok {
			return "", false
		}
		p = rest
	} else if u.Host != "" {
		return "", false
	}
	key := strings.TrimPrefix(p, "/")
	if key == "" || pathutil.HasDotSegments(key) {
		return "", false
	}
	return key, true
}
