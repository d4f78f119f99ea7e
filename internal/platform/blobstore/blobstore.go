// Package blobstore is the storage gateway for uploaded X-ray images. An
// upload either commits fully and yields a public HTTPS URL or fails with
// ErrUploadFailed and leaves nothing the caller can reference.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrUploadFailed       = errors.New("upload failed")
	ErrEmptyObject        = errors.New("object is empty")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrObjectNotFound     = errors.New("object not found")
)

// AllowedContentTypes are the image encodings accepted for upload.
var AllowedContentTypes = map[string]bool{
	"image/png":         true,
	"image/jpeg":        true,
	"image/dicom":       true,
	"application/dicom": true,
}

// Gateway stores image bytes and returns a stable public URL.
type Gateway interface {
	Upload(ctx context.Context, prefix, fileName, contentType string, data []byte) (string, error)
}

// ObjectKey builds "<prefix>/<uuid>_<file name>". The random component keeps
// concurrent uploads of the same file name apart.
func ObjectKey(prefix, fileName string) string {
	key := uuid.NewString() + "_" + sanitizeFileName(fileName)
	if p := strings.Trim(prefix, "/"); p != "" {
		key = p + "/" + key
	}
	return key
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "image"
	}
	return out
}

// PublicURL renders the download URL for key in bucket:
// https://<domain>/v0/b/<bucket>/o/<escaped key>?alt=media
func PublicURL(domain, bucket, key string) string {
	return fmt.Sprintf("https://%s/v0/b/%s/o/%s?alt=media", domain, bucket, escapeKey(key))
}

// escapeKey percent-encodes everything outside the unreserved set, with
// spaces as %20.
func escapeKey(key string) string {
	return strings.ReplaceAll(url.QueryEscape(key), "+", "%20")
}

// Validate rejects empty objects and content types outside AllowedContentTypes.
func Validate(contentType string, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyObject
	}
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if !AllowedContentTypes[ct] {
		return fmt.Errorf("%w: %q", ErrInvalidContentType, contentType)
	}
	return nil
}

func uploadErr(err error) error {
	return fmt.Errorf("%w: %w", ErrUploadFailed, err)
}

// Object is a stored blob held by MemoryGateway.
type Object struct {
	Key         string
	ContentType string
	Data        []byte
	SHA256      string
}

// MemoryGateway keeps objects in process. It renders the same URLs as the GCS
// gateway so stored records look identical in development.
type MemoryGateway struct {
	mu      sync.RWMutex
	domain  string
	bucket  string
	objects map[string]Object
}

func NewMemoryGateway(domain, bucket string) *MemoryGateway {
	if bucket == "" {
		bucket = "local"
	}
	return &MemoryGateway{domain: domain, bucket: bucket, objects: make(map[string]Object)}
}

func (g *MemoryGateway) Upload(ctx context.Context, prefix, fileName, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", uploadErr(err)
	}
	if err := Validate(contentType, data); err != nil {
		return "", uploadErr(err)
	}

	sum := sha256.Sum256(data)
	obj := Object{
		Key:         ObjectKey(prefix, fileName),
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
		SHA256:      hex.EncodeToString(sum[:]),
	}

	g.mu.Lock()
	g.objects[obj.Key] = obj
	g.mu.Unlock()

	return PublicURL(g.domain, g.bucket, obj.Key), nil
}

// Get returns a stored object by key.
func (g *MemoryGateway) Get(key string) (Object, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	obj, ok := g.objects[key]
	if !ok {
		return Object{}, ErrObjectNotFound
	}
	return obj, nil
}

func (g *MemoryGateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.objects)
}
