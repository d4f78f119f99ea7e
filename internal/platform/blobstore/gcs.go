package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const uploadTimeout = 2 * time.Minute

// GCSConfig selects the bucket and how to reach it.
type GCSConfig struct {
	Bucket          string
	PublicDomain    string
	EmulatorHost    string
	CredentialsFile string
	CredentialsJSON string
}

// GCSGateway writes objects to Google Cloud Storage (or its emulator).
type GCSGateway struct {
	client *storage.Client
	bucket string
	domain string
}

func NewGCSGateway(ctx context.Context, cfg GCSConfig) (*GCSGateway, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx, ClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSGateway{client: client, bucket: cfg.Bucket, domain: cfg.PublicDomain}, nil
}

// ClientOptions resolves credentials. The emulator runs unauthenticated;
// inline JSON wins over a credentials file; otherwise ADC applies.
func ClientOptions(cfg GCSConfig) []option.ClientOption {
	if host := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"); host != "" {
		// The storage client reads the emulator address from the environment.
		_ = os.Setenv("STORAGE_EMULATOR_HOST", host)
		return []option.ClientOption{option.WithoutAuthentication()}
	}

	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if creds := strings.TrimSpace(cfg.CredentialsJSON); creds != "" {
		return append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	if file := strings.TrimSpace(cfg.CredentialsFile); file != "" {
		return append(opts, option.WithCredentialsFile(file))
	}
	return opts
}

// Upload writes data under a fresh key. The object becomes visible only when
// the writer closes successfully; on a failed copy the context is cancelled so
// the partial upload is discarded.
func (g *GCSGateway) Upload(ctx context.Context, prefix, fileName, contentType string, data []byte) (string, error) {
	if err := Validate(contentType, data); err != nil {
		return "", uploadErr(err)
	}

	key := ObjectKey(prefix, fileName)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	obj := g.client.Bucket(g.bucket).Object(key).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{"originalName": fileName}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		cancel()
		_ = w.Close()
		return "", uploadErr(fmt.Errorf("write object %s: %w", key, err))
	}
	if err := w.Close(); err != nil {
		return "", uploadErr(fmt.Errorf("commit object %s: %w", key, err))
	}

	return PublicURL(g.domain, g.bucket, key), nil
}

func (g *GCSGateway) Close() error {
	return g.client.Close()
}
