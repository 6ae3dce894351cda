package objstore

import (
	"context"
	"errors"
	"fittrack/cryptoutil"
	"fittrack/herr"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Disk keeps objects under a local directory and signs download URLs with an
// HMAC over key and expiry. ServeHTTP checks those signatures.
type Disk struct {
	root    string
	baseURL string
	secret  []byte
	now     func() time.Time
}

func NewDisk(root, baseURL string, secret []byte) (*Disk, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("error creating bucket dir: %w", err)
	}
	return &Disk{root: root, baseURL: baseURL, secret: secret, now: time.Now}, nil
}

func (d *Disk) path(key string) (string, error) {
	if !ValidKey(key) {
		return "", ErrInvalidKey
	}
	return filepath.Join(d.root, filepath.FromSlash(key)), nil
}

func (d *Disk) Put(ctx context.Context, key string, body io.Reader, _ int64, _ string) error {
	path, err := d.path(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating object dir: %w", err)
	}
	temp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}
	defer os.Remove(temp.Name())

	if _, err := io.Copy(temp, body); err != nil {
		temp.Close()
		return fmt.Errorf("error copying object data: %w", err)
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("error closing temp file: %w", err)
	}
	if err := os.Rename(temp.Name(), path); err != nil {
		return fmt.Errorf("error storing object: %w", err)
	}
	return nil
}

func signedMessage(key string, expires int64) string {
	return key + "|" + strconv.FormatInt(expires, 10)
}

func (d *Disk) SignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	if !ValidKey(key) {
		return "", ErrInvalidKey
	}
	expires := d.now().Add(expiry).Unix()
	query := url.Values{}
	query.Set("expires", strconv.FormatInt(expires, 10))
	query.Set("sig", cryptoutil.Sign(d.secret, signedMessage(key, expires)))
	return d.baseURL + key + "?" + query.Encode(), nil
}

func (d *Disk) Delete(_ context.Context, key string) error {
	path, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error deleting object: %w", err)
	}
	return nil
}

func (d *Disk) Exists(ctx context.Context, key string) (bool, error) {
	path, err := d.path(key)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error checking object: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

// Handle serves GET /api/files/{key...}.
func (d *Disk) Handle(w http.ResponseWriter, r *http.Request) *herr.Error {
	key := r.PathValue("key")
	query := r.URL.Query()
	expires, err := strconv.ParseInt(query.Get("expires"), 10, 64)
	if err != nil {
		return herr.Forbidden(err, "Bad expiry on signed URL")
	}
	if d.now().Unix() > expires {
		return herr.Forbidden(errors.New("expired"), "Signed URL expired")
	}
	if !cryptoutil.Verify(d.secret, signedMessage(key, expires), query.Get("sig")) {
		return herr.Forbidden(errors.New("bad signature"), "Signed URL signature mismatch")
	}

	path, err := d.path(key)
	if err != nil {
		return herr.BadRequest(err, "Invalid object key")
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return herr.NotFound(ErrNotFound, "Object missing on disk")
	}
	if err != nil {
		return herr.Internal(err, "Error opening object")
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return herr.Internal(err, "Error reading object info")
	}
	slog.Debug("Serving object", "key", key, "size", info.Size())
	w.Header().Set("Cache-Control", "private, max-age="+strconv.FormatInt(expires-d.now().Unix(), 10))
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), file)
	return nil
}
