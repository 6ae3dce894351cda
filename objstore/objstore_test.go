package objstore

import (
	"context"
	"errors"
	"fittrack/apperr"
	"fittrack/herr"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidKey(t *testing.T) {
	valid := []string{"a.png", "activities/u1/1700000000000-abc123.png"}
	invalid := []string{"", "/etc/passwd", "../x", "a/../../b", "a//b", "a\\b", "a/./b", "a/"}
	for _, k := range valid {
		assert.True(t, ValidKey(k), k)
	}
	for _, k := range invalid {
		assert.False(t, ValidKey(k), k)
	}
}

func newDisk(t *testing.T) *Disk {
	t.Helper()
	d, err := NewDisk(t.TempDir(), "http://localhost:3000/api/files/", []byte("secret"))
	require.NoError(t, err)
	return d
}

func serve(d *Disk, rawURL string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.Handle("GET /api/files/{key...}", herr.Wrap(d.Handle))
	u, _ := url.Parse(rawURL)
	req := httptest.NewRequest(http.MethodGet, u.RequestURI(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestDiskRoundTrip(t *testing.T) {
	d := newDisk(t)
	ctx := context.Background()
	key := "activities/u1/1-abc.png"

	ok, err := d.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Put(ctx, key, strings.NewReader("png-bytes"), 9, "image/png"))

	ok, err = d.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = d.Exists(ctx, "activities/u1")
	require.NoError(t, err)
	assert.False(t, ok, "a directory is not an object")

	signed, err := d.SignedURL(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(signed, "http://localhost:3000/api/files/"+key+"?"))

	rec := serve(d, signed)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "png-bytes", rec.Body.String())

	require.NoError(t, d.Delete(ctx, key))
	_, err = os.Stat(filepath.Join(d.root, "activities", "u1", "1-abc.png"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	// deleting twice is fine
	require.NoError(t, d.Delete(ctx, key))

	rec = serve(d, signed)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDiskRejectsBadSignatures(t *testing.T) {
	d := newDisk(t)
	ctx := context.Background()
	key := "a/b.png"
	require.NoError(t, d.Put(ctx, key, strings.NewReader("x"), 1, "image/png"))

	signed, err := d.SignedURL(ctx, key, time.Hour)
	require.NoError(t, err)

	t.Run("tampered key", func(t *testing.T) {
		rec := serve(d, strings.Replace(signed, "a/b.png", "a/c.png", 1))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("tampered signature", func(t *testing.T) {
		u, _ := url.Parse(signed)
		q := u.Query()
		q.Set("sig", strings.Repeat("0", 64))
		u.RawQuery = q.Encode()
		rec := serve(d, u.String())
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("expired", func(t *testing.T) {
		d.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { d.now = time.Now }()
		rec := serve(d, signed)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing expiry", func(t *testing.T) {
		rec := serve(d, "http://localhost:3000/api/files/a/b.png")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestDiskRejectsInvalidKeys(t *testing.T) {
	d := newDisk(t)
	ctx := context.Background()
	assert.ErrorIs(t, d.Put(ctx, "../escape.png", strings.NewReader("x"), 1, "image/png"), ErrInvalidKey)
	_, err := d.SignedURL(ctx, "/abs.png", time.Minute)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.ErrorIs(t, d.Delete(ctx, "a/../../b"), ErrInvalidKey)
	_, err = d.Exists(ctx, "../escape.png")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

type fakeS3 struct {
	puts    []*s3.PutObjectInput
	body    string
	deletes []string
	err     error
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, put := range f.puts {
		if *put.Key == *in.Key {
			return &s3.HeadObjectOutput{}, nil
		}
	}
	return nil, &types.NotFound{}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deletes = append(f.deletes, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

type fakePresign struct {
	expires time.Duration
	err     error
}

func (f *fakePresign) PresignGetObject(_ context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	var po s3.PresignOptions
	for _, opt := range opts {
		opt(&po)
	}
	f.expires = po.Expires
	return &v4.PresignedHTTPRequest{URL: "https://" + *in.Bucket + ".s3.amazonaws.com/" + *in.Key + "?X-Amz-Signature=x"}, nil
}

func TestS3Bucket(t *testing.T) {
	client := &fakeS3{}
	presign := &fakePresign{}
	b := newS3("photos", client, presign)
	ctx := context.Background()
	key := "activities/u1/1-abc.jpg"

	require.NoError(t, b.Put(ctx, key, strings.NewReader("jpeg"), 4, "image/jpeg"))
	require.Len(t, client.puts, 1)
	put := client.puts[0]
	assert.Equal(t, "photos", *put.Bucket)
	assert.Equal(t, key, *put.Key)
	assert.Equal(t, "image/jpeg", *put.ContentType)
	assert.Equal(t, types.ObjectCannedACLPublicRead, put.ACL)
	assert.Equal(t, int64(4), *put.ContentLength)
	assert.Equal(t, "jpeg", client.body)

	signed, err := b.SignedURL(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "https://photos.s3.amazonaws.com/"+key+"?X-Amz-Signature=x", signed)
	assert.Equal(t, time.Hour, presign.expires)

	ok, err := b.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = b.Exists(ctx, "activities/u1/never-uploaded.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Delete(ctx, key))
	assert.Equal(t, []string{key}, client.deletes)
}

func TestS3Failures(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	b := newS3("photos", &fakeS3{err: boom}, &fakePresign{err: boom})
	ctx := context.Background()

	err := b.Put(ctx, "a.png", strings.NewReader("x"), 1, "image/png")
	assert.True(t, apperr.Is(err, apperr.Network))
	assert.ErrorIs(t, err, boom)

	_, err = b.SignedURL(ctx, "a.png", time.Minute)
	assert.True(t, apperr.Is(err, apperr.Network))

	err = b.Delete(ctx, "a.png")
	assert.True(t, apperr.Is(err, apperr.Network))

	_, err = b.Exists(ctx, "a.png")
	assert.True(t, apperr.Is(err, apperr.Network))

	assert.ErrorIs(t, b.Put(ctx, "../a.png", strings.NewReader("x"), 1, "image/png"), ErrInvalidKey)
}
