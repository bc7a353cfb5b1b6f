// Package files stores avatars and message attachments in the object store
// and hands out the URLs clients use to fetch them.
package files

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/google/uuid"
)

const defaultContentType = "application/octet-stream"

// Key namespaces.
const (
	KindAvatar     = "avatars"
	KindAttachment = "attachments"
)

// RoutePrefix is the URL path under which objects are served.
const RoutePrefix = "/files/"

// Upload is the result of a stored upload.
type Upload struct {
	Key         string         `json:"key"`
	URL         string         `json:"url"`
	Name        string         `json:"name"`
	Size        int64          `json:"size"`
	ContentType string         `json:"content_type"`
	Variant     domain.Variant `json:"variant"`
}

// Service validates uploads and writes them to an ObjectStore.
type Service struct {
	store   ObjectStore
	baseURL string
	maxSize int
}

// NewService creates a Service. baseURL is the public origin used to build
// object URLs; maxSize caps a single upload in bytes.
func NewService(store ObjectStore, baseURL string, maxSize int) *Service {
	return &Service{
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
		maxSize: maxSize,
	}
}

// sanitizeFilename removes path separators and dangerous characters from filename.
func sanitizeFilename(filename string) string {
	clean := filepath.Base(filepath.Clean(filename))
	clean = strings.ReplaceAll(clean, "/", "_")
	clean = strings.ReplaceAll(clean, "\\", "_")
	if clean == "." || clean == ".." || clean == "" {
		return "unnamed"
	}
	return clean
}

// URLFor returns the public URL of key.
func (s *Service) URLFor(key string) string {
	kind, rest, _ := strings.Cut(key, "/")
	id, name, _ := strings.Cut(rest, "/")
	return s.baseURL + RoutePrefix + kind + "/" + id + "/" + url.PathEscape(name)
}

// KeyFromURL reverses URLFor. ok is false for URLs this service did not issue.
func (s *Service) KeyFromURL(raw string) (string, bool) {
	rest, found := strings.CutPrefix(raw, s.baseURL+RoutePrefix)
	if !found {
		return "", false
	}
	key, err := url.PathUnescape(rest)
	if err != nil || validateKey(key) != nil {
		return "", false
	}
	return key, true
}

// validateKey accepts only "<kind>/<uuid>/<name>" keys.
func validateKey(key string) error {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return domain.E(domain.KindNotFound, "open file", "File not found.")
	}
	if parts[0] != KindAvatar && parts[0] != KindAttachment {
		return domain.E(domain.KindNotFound, "open file", "File not found.")
	}
	if _, err := uuid.Parse(parts[1]); err != nil {
		return domain.E(domain.KindNotFound, "open file", "File not found.")
	}
	if parts[2] == "" || parts[2] != sanitizeFilename(parts[2]) {
		return domain.E(domain.KindNotFound, "open file", "File not found.")
	}
	return nil
}

func (s *Service) put(ctx context.Context, op, kind, ownerID, filename string, data []byte, contentType string) (*Upload, error) {
	if len(data) == 0 {
		return nil, domain.E(domain.KindInvalidInput, op, "No file provided.")
	}
	if s.maxSize > 0 && len(data) > s.maxSize {
		return nil, domain.E(domain.KindInvalidInput, op,
			fmt.Sprintf("File exceeds the %d byte limit.", s.maxSize))
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	name := sanitizeFilename(filename)
	key := kind + "/" + uuid.New().String() + "/" + name

	obj, err := s.store.Put(ctx, key, data, map[string]string{
		"Content-Type":  contentType,
		"Original-Name": name,
		"Owner-ID":      ownerID,
		"Uploaded-At":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, op, err)
	}

	return &Upload{
		Key:         key,
		URL:         s.URLFor(key),
		Name:        name,
		Size:        obj.Size,
		ContentType: contentType,
		Variant:     domain.AttachmentVariant(name),
	}, nil
}

// UploadAvatar stores a profile picture. Only image files are accepted.
func (s *Service) UploadAvatar(ctx context.Context, userID, filename string, data []byte, contentType string) (*Upload, error) {
	if domain.AttachmentVariant(filename) != domain.VariantImage {
		return nil, domain.E(domain.KindInvalidInput, "upload avatar", "Avatar must be an image.")
	}
	return s.put(ctx, "upload avatar", KindAvatar, userID, filename, data, contentType)
}

// UploadAttachment stores a file for a later sendMessageFile.
func (s *Service) UploadAttachment(ctx context.Context, userID, filename string, data []byte, contentType string) (*Upload, error) {
	return s.put(ctx, "upload attachment", KindAttachment, userID, filename, data, contentType)
}

// Open returns the content of key.
func (s *Service) Open(ctx context.Context, key string) ([]byte, *Object, error) {
	if err := validateKey(key); err != nil {
		return nil, nil, err
	}
	data, obj, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, nil, domain.E(domain.KindNotFound, "open file", "File not found.")
		}
		return nil, nil, domain.Wrap(domain.KindInternal, "open file", err)
	}
	return data, obj, nil
}

// Discard removes an object this service issued the URL for. Unknown URLs and
// missing objects are ignored.
func (s *Service) Discard(ctx context.Context, rawURL string) error {
	key, ok := s.KeyFromURL(rawURL)
	if !ok {
		return nil
	}
	if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrObjectNotFound) {
		return domain.Wrap(domain.KindInternal, "discard file", err)
	}
	return nil
}
