package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"fittrack/apperr"
	"fittrack/cryptoutil"
	"fittrack/objstore"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"
)

type Strategy string

const (
	Inline Strategy = "inline"
	Object Strategy = "object"

	defaultExt = "jpg"
	sniffLen   = 512
)

// File is an uploaded photo held in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Photo is the reference an activity stores. Key is empty for inline photos.
type Photo struct {
	Key string `json:"key,omitempty"`
	URL string `json:"url"`
}

type Config struct {
	Strategy     Strategy
	MaxBytes     int64
	InlineMax    int64
	URLExpiry    time.Duration
	SuffixLength int
}

type Adapter struct {
	bucket objstore.Bucket
	cfg    Config
	now    func() time.Time
}

func New(bucket objstore.Bucket, cfg Config) *Adapter {
	if cfg.Strategy == "" {
		cfg.Strategy = Object
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = time.Hour
	}
	if cfg.SuffixLength <= 0 {
		cfg.SuffixLength = 6
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.InlineMax <= 0 {
		cfg.InlineMax = 2 << 20
	}
	return &Adapter{bucket: bucket, cfg: cfg, now: time.Now}
}

func (a *Adapter) Strategy() Strategy {
	return a.cfg.Strategy
}

func (a *Adapter) MaxBytes() int64 {
	return a.cfg.MaxBytes
}

// Check rejects anything that is not an image, going by both the declared
// type and the first bytes of the file.
func (a *Adapter) Check(f *File) error {
	if f == nil || len(f.Data) == 0 {
		return apperr.Invalid("photo", "Please select an image file")
	}
	declared, _, err := mime.ParseMediaType(f.ContentType)
	if err != nil || !strings.HasPrefix(declared, "image/") {
		return apperr.Invalid("photo", "Please select an image file")
	}
	head := f.Data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if !strings.HasPrefix(http.DetectContentType(head), "image/") {
		return apperr.Invalid("photo", "Please select an image file")
	}
	limit := a.cfg.MaxBytes
	if a.cfg.Strategy == Inline {
		limit = a.cfg.InlineMax
	}
	if int64(len(f.Data)) > limit {
		return apperr.Invalid("photo", fmt.Sprintf("Image must be at most %d bytes", limit))
	}
	return nil
}

// Store checks f and saves it with the configured strategy.
func (a *Adapter) Store(ctx context.Context, userID string, f *File) (*Photo, error) {
	if err := a.Check(f); err != nil {
		return nil, err
	}
	if a.cfg.Strategy == Inline {
		return &Photo{URL: DataURI(f)}, nil
	}

	key, err := a.Key(userID, f.Name, f.ContentType)
	if err != nil {
		return nil, err
	}
	if err := a.bucket.Put(ctx, key, bytes.NewReader(f.Data), int64(len(f.Data)), f.ContentType); err != nil {
		return nil, fmt.Errorf("error storing photo: %w", err)
	}
	url, err := a.URL(ctx, key)
	if err != nil {
		return nil, err
	}
	slog.Info("Photo stored", "key", key, "size", len(f.Data))
	return &Photo{Key: key, URL: url}, nil
}

func (a *Adapter) URL(ctx context.Context, key string) (string, error) {
	url, err := a.bucket.SignedURL(ctx, key, a.cfg.URLExpiry)
	if err != nil {
		return "", fmt.Errorf("error signing photo url: %w", err)
	}
	return url, nil
}

// Exists reports whether key names a stored object. Inline photos never do.
func (a *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	if a.cfg.Strategy == Inline || key == "" {
		return false, nil
	}
	ok, err := a.bucket.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("error checking photo: %w", err)
	}
	return ok, nil
}

func (a *Adapter) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := a.bucket.Delete(ctx, key); err != nil {
		return fmt.Errorf("error removing photo: %w", err)
	}
	return nil
}

// Key builds activities/{userID}/{unixMillis}-{suffix}.{ext}.
func (a *Adapter) Key(userID, name, contentType string) (string, error) {
	suffix, err := cryptoutil.Suffix(a.cfg.SuffixLength)
	if err != nil {
		return "", err
	}
	ms := strconv.FormatInt(a.now().UnixMilli(), 10)
	return "activities/" + userID + "/" + ms + "-" + suffix + "." + extension(name, contentType), nil
}

// Owns reports whether key lives under the user's prefix.
func Owns(userID, key string) bool {
	return objstore.ValidKey(key) && strings.HasPrefix(key, "activities/"+userID+"/")
}

func extension(name, contentType string) string {
	if ext := strings.TrimPrefix(path.Ext(name), "."); clean(ext) {
		return strings.ToLower(ext)
	}
	if ext, ok := knownExt[contentType]; ok {
		return ext
	}
	return defaultExt
}

var knownExt = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/bmp":  "bmp",
}

func clean(ext string) bool {
	if ext == "" || len(ext) > 5 {
		return false
	}
	for _, c := range ext {
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}

func DataURI(f *File) string {
	return "data:" + f.ContentType + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

// ReadFile loads a multipart file, refusing anything over max bytes.
func ReadFile(fh *multipart.FileHeader, max int64) (*File, error) {
	if fh.Size > max {
		return nil, apperr.Invalid("photo", fmt.Sprintf("Image must be at most %d bytes", max))
	}
	file, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("error opening upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, max+1))
	if err != nil {
		return nil, fmt.Errorf("error reading upload: %w", err)
	}
	if int64(len(data)) > max {
		return nil, apperr.Invalid("photo", fmt.Sprintf("Image must be at most %d bytes", max))
	}
	return &File{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}, nil
}
