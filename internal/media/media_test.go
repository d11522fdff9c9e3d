package media

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/diary/internal/xerrors"
)

type memStore struct {
	objects map[string]string
	types   map[string]string
	deleted []string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string]string{}, types: map[string]string{}}
}

func (m *memStore) Put(_ context.Context, key, ctype string, _ int64, body io.Reader) error {
	b, err := io.ReadAll(body)
	m.objects[key] = string(b)
	m.types[key] = ctype
	return err
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	delete(m.objects, key)
	return nil
}

func TestRulesCheck(t *testing.T) {
	tests := []struct {
		name     string
		rules    Rules
		file     File
		wantKind Kind
		wantExt  string
		wantMsg  string
	}{
		{"jpeg", EntryMedia, File{"a.JPG", "image/jpeg", 1 * MB}, KindImage, "jpg", ""},
		{"mov", EntryMedia, File{"clip.mov", "video/quicktime", 40 * MB}, KindVideo, "mov", ""},
		{"pdf", EntryMedia, File{"a.pdf", "application/pdf", 10}, "", "", "Invalid file type. Please upload an image (JPEG, PNG, GIF, WebP) or video (MP4, WebM, OGG, MOV)."},
		{"image too big", EntryMedia, File{"a.png", "image/png", 10*MB + 1}, "", "", "File too large. Please upload a file smaller than 10MB."},
		{"video too big", EntryMedia, File{"a.mp4", "video/mp4", 50*MB + 1}, "", "", "File too large. Please upload a file smaller than 50MB."},
		{"video ext on image", EntryMedia, File{"a.mp4", "image/png", 10}, "", "", "Invalid file extension. Please upload a image file."},
		{"no ext", EntryMedia, File{"blob", "video/webm", 10}, "", "", "Invalid file extension. Please upload a video file."},
		{"profile video", ProfilePicture, File{"a.mp4", "video/mp4", 10}, "", "", "Invalid file type. Please upload a JPEG, PNG, GIF, or WebP image."},
		{"profile too big", ProfilePicture, File{"a.webp", "image/webp", 5*MB + 1}, "", "", "File too large. Please upload an image smaller than 5MB."},
		{"profile ok", ProfilePicture, File{"me.webp", "image/webp", 5 * MB}, KindImage, "webp", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ext, err := tt.rules.Check(tt.file)
			if tt.wantMsg != "" {
				if !errors.Is(err, ErrInvalidFile) || xerrors.StatusOf(err) != http.StatusBadRequest || xerrors.MessageOf(err) != tt.wantMsg {
					t.Fatalf("err = %v (msg %q)", err, xerrors.MessageOf(err))
				}
				return
			}
			if err != nil || kind != tt.wantKind || ext != tt.wantExt {
				t.Fatalf("Check = %s, %s, %v", kind, ext, err)
			}
		})
	}
}

func TestMaxBytes(t *testing.T) {
	if EntryMedia.MaxBytes() != 50*MB || ProfilePicture.MaxBytes() != 5*MB {
		t.Fatalf("MaxBytes = %d / %d", EntryMedia.MaxBytes(), ProfilePicture.MaxBytes())
	}
}

func newTestService(store ObjectStore, public string) *Service {
	s := New(Options{Store: store, Prefix: "/uploads/", PublicURL: public})
	s.now = func() time.Time { return time.UnixMilli(1_760_000_000_000) }
	return s
}

func TestUpload(t *testing.T) {
	store := newMemStore()
	var observed string
	s := newTestService(store, "https://cdn.example.com/media/")
	s.observe = func(kind string, size int64) { observed = kind }

	obj, err := s.Upload(context.Background(), "u1", EntryMedia, File{"pic.PNG", "image/PNG", 5}, strings.NewReader("12345extra"))
	if err != nil {
		t.Fatal(err)
	}
	if obj.Key != "uploads/entries/u1-1760000000000.png" {
		t.Fatalf("key = %s", obj.Key)
	}
	if obj.URL != "https://cdn.example.com/media/uploads/entries/u1-1760000000000.png" {
		t.Fatalf("url = %s", obj.URL)
	}
	if store.objects[obj.Key] != "12345" || store.types[obj.Key] != "image/png" {
		t.Fatalf("stored %q as %q", store.objects[obj.Key], store.types[obj.Key])
	}
	if observed != "image" {
		t.Fatalf("observed = %q", observed)
	}
}

func TestUpload_RejectsBeforeStoring(t *testing.T) {
	store := newMemStore()
	s := newTestService(store, "")
	if _, err := s.Upload(context.Background(), "u1", ProfilePicture, File{"a.gif", "image/gif", 6 * MB}, strings.NewReader("")); !errors.Is(err, ErrInvalidFile) {
		t.Fatalf("err = %v", err)
	}
	if _, err := s.Upload(context.Background(), "../u1", ProfilePicture, File{"a.gif", "image/gif", 1}, strings.NewReader("x")); err == nil {
		t.Fatal("unsafe user id should be rejected")
	}
	if len(store.objects) != 0 {
		t.Fatal("nothing should be stored")
	}
}

func TestDeleteOwned(t *testing.T) {
	s := newTestService(newMemStore(), "https://cdn.example.com/media")
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"own profile", "https://cdn.example.com/media/uploads/profiles/u1-1.png", true},
		{"someone else", "https://cdn.example.com/media/uploads/profiles/u2-1.png", false},
		{"prefix collision", "https://cdn.example.com/media/uploads/profiles/u10-1.png", false},
		{"other folder", "https://cdn.example.com/media/uploads/entries/u1-1.png", false},
		{"other host", "https://evil.example.com/media/uploads/profiles/u1-1.png", false},
		{"dot segments", "https://cdn.example.com/media/uploads/profiles/../profiles/u1-1.png", false},
		{"external avatar", "https://lh3.googleusercontent.com/a/photo", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			s.store = store
			got, err := s.DeleteOwned(context.Background(), "u1", ProfilePicture.Folder, tt.url)
			if err != nil || got != tt.want || (len(store.deleted) == 1) != tt.want {
				t.Fatalf("DeleteOwned = %v, %v (deleted %v)", got, err, store.deleted)
			}
		})
	}
}

func TestDeleteOwned_RelativeURLs(t *testing.T) {
	store := newMemStore()
	s := newTestService(store, "")
	if ok, _ := s.DeleteOwned(context.Background(), "u1", "profiles", "/uploads/profiles/u1-5.jpg"); !ok {
		t.Fatal("relative url should resolve without a public url")
	}
	if ok, _ := s.DeleteOwned(context.Background(), "u1", "profiles", "https://cdn/uploads/profiles/u1-5.jpg"); ok {
		t.Fatal("absolute url should not match when objects are served relative")
	}
}

type fakeS3 struct {
	put *s3.PutObjectInput
	del *s3.DeleteObjectInput
	err error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.put = in
	return &s3.PutObjectOutput{}, f.err
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.del = in
	return &s3.DeleteObjectOutput{}, f.err
}

func TestS3Store(t *testing.T) {
	f := &fakeS3{}
	st := &S3Store{client: f, bucket: "diary-media"}
	if err := st.Put(context.Background(), "k", "image/png", 3, strings.NewReader("abc")); err != nil {
		t.Fatal(err)
	}
	if *f.put.Bucket != "diary-media" || *f.put.Key != "k" || *f.put.ContentType != "image/png" || *f.put.ContentLength != 3 {
		t.Fatalf("put input = %+v", f.put)
	}
	if err := st.Delete(context.Background(), "k"); err != nil || *f.del.Key != "k" {
		t.Fatalf("delete = %v %+v", err, f.del)
	}

	f.err = errors.New("AccessDenied")
	if err := st.Put(context.Background(), "k", "image/png", 1, strings.NewReader("a")); err == nil || !strings.Contains(err.Error(), "s3://diary-media/k") {
		t.Fatalf("err = %v", err)
	}
}

func TestBucketURL(t *testing.T) {
	if got := BucketURL("b", ""); got != "https://b.s3.us-east-1.amazonaws.com" {
		t.Fatalf("BucketURL = %s", got)
	}
}
