// Package storage holds uploaded issue photos.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"civictrack/apperrors"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// Upload is one photo received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// BlobStore stores uploads and returns their public URL.
type BlobStore interface {
	Put(ctx context.Context, u Upload) (string, error)
	Delete(ctx context.Context, url string) error
}

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"image/heic": ".heic",
}

// IsImage reports whether contentType is an accepted photo type.
func IsImage(contentType string) bool {
	_, ok := imageExtensions[normalizeContentType(contentType)]
	return ok
}

func normalizeContentType(ct string) string {
	ct, _, _ = strings.Cut(ct, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}

// ObjectName builds "<uuid>-<slug><ext>" for an upload.
func ObjectName(u Upload) string {
	base := strings.TrimSuffix(filepath.Base(u.Filename), filepath.Ext(u.Filename))
	name := slug.Make(base)
	if name == "" {
		name = "photo"
	}
	if len(name) > 40 {
		name = strings.Trim(name[:40], "-")
	}
	return uuid.NewString() + "-" + name + imageExtensions[normalizeContentType(u.ContentType)]
}

// LocalDisk writes uploads under Dir and serves them from BaseURL/uploads.
type LocalDisk struct {
	Dir      string
	BaseURL  string
	MaxBytes int64
}

func NewLocalDisk(dir, baseURL string, maxBytes int64) (*LocalDisk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalDisk{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/"), MaxBytes: maxBytes}, nil
}

func (d *LocalDisk) Put(ctx context.Context, u Upload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !IsImage(u.ContentType) {
		return "", apperrors.NewFieldError("photos", "must be JPEG, PNG, WebP, GIF or HEIC images")
	}
	if d.MaxBytes > 0 && u.Size > d.MaxBytes {
		return "", apperrors.NewFieldError("photos", fmt.Sprintf("must be at most %d bytes each", d.MaxBytes))
	}

	name := ObjectName(u)
	path := filepath.Join(d.Dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}

	body := u.Body
	if d.MaxBytes > 0 {
		body = io.LimitReader(u.Body, d.MaxBytes+1)
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && d.MaxBytes > 0 && n > d.MaxBytes {
		err = apperrors.NewFieldError("photos", fmt.Sprintf("must be at most %d bytes each", d.MaxBytes))
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write blob: %w", err)
	}
	return d.BaseURL + "/uploads/" + name, nil
}

// Delete removes a blob previously returned by Put. Unknown URLs are ignored.
func (d *LocalDisk) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := d.BaseURL + "/uploads/"
	if !strings.HasPrefix(url, prefix) {
		return nil
	}
	name := filepath.Base(strings.TrimPrefix(url, prefix))
	if err := os.Remove(filepath.Join(d.Dir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

var _ BlobStore = (*LocalDisk)(nil)
