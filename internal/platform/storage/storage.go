package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/antoineross/supabase-go"
	storage_go "github.com/supabase-community/storage-go"

	"bggsync/internal/config"
	"bggsync/internal/logger"
)

// uploader is the part of the storage client the archive needs.
type uploader interface {
	UploadFile(bucketID, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
}

// Archive mirrors downloaded cover images into a Supabase storage bucket.
type Archive struct {
	store  uploader
	bucket string
	log    *logger.Logger
}

var unsafePath = regexp.MustCompile(`[^a-zA-Z0-9_\-]+`)

// New returns nil, nil when Supabase is not configured; archiving is optional.
func New(cfg config.Config) (*Archive, error) {
	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" || cfg.SupabaseBucket == "" {
		return nil, nil
	}
	client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("init supabase client: %w", err)
	}
	return &Archive{store: client.Storage, bucket: cfg.SupabaseBucket, log: logger.New("AssetArchive")}, nil
}

// Archive stores data under games/<item>/<hash><ext> and returns the path.
// The same asset always lands on the same path, so re-runs overwrite.
func (a *Archive) Archive(_ context.Context, itemID, assetURL, contentType string, data []byte) (string, error) {
	if a == nil || a.store == nil {
		return "", fmt.Errorf("asset archive not configured")
	}
	objectPath := ObjectPath(itemID, assetURL, contentType)
	upsert := true
	opts := storage_go.FileOptions{Upsert: &upsert}
	if contentType != "" {
		opts.ContentType = &contentType
	}
	if _, err := a.store.UploadFile(a.bucket, objectPath, bytes.NewReader(data), opts); err != nil {
		return "", fmt.Errorf("upload %s to bucket %s: %w", objectPath, a.bucket, err)
	}
	a.log.LogDebugf("archived %d bytes to %s/%s", len(data), a.bucket, objectPath)
	return objectPath, nil
}

// ObjectPath derives the bucket path for an asset.
func ObjectPath(itemID, assetURL, contentType string) string {
	sum := sha256.Sum256([]byte(assetURL))
	ext := strings.ToLower(path.Ext(strings.SplitN(assetURL, "?", 2)[0]))
	if ext == "" || len(ext) > 5 {
		ext = ".bin"
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	item := strings.Trim(unsafePath.ReplaceAllString(itemID, "_"), "_")
	if item == "" {
		item = "unknown"
	}
	return path.Join("games", item, hex.EncodeToString(sum[:8])+ext)
}
