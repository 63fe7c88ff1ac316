package imagesource

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medscan"
)

var (
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 16)...)
	jpegBytes = append([]byte{0xff, 0xd8, 0xff, 0xe0}, make([]byte, 16)...)
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string
		wantNil  bool
		wantErr  bool
	}{
		{name: "empty", input: "  ", wantNil: true},
		{name: "std base64 png", input: base64.StdEncoding.EncodeToString(pngBytes), wantType: "image/png"},
		{name: "raw url base64 jpeg", input: base64.RawURLEncoding.EncodeToString(jpegBytes), wantType: "image/jpeg"},
		{name: "data url", input: "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes), wantType: "image/png"},
		{name: "wrapped lines", input: wrap(base64.StdEncoding.EncodeToString(pngBytes)), wantType: "image/png"},
		{name: "data url without base64", input: "data:image/png,abc", wantErr: true},
		{name: "not base64", input: "%%%not-base64%%%", wantErr: true},
		{name: "not an image", input: base64.StdEncoding.EncodeToString([]byte("hello, world")), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Decode(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, medscan.ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, img)
				return
			}
			require.NotNil(t, img)
			assert.Equal(t, tt.wantType, img.MIMEType)
		})
	}
}

func wrap(s string) string {
	var b bytes.Buffer
	for i := 0; i < len(s); i += 8 {
		end := min(i+8, len(s))
		b.WriteString(s[i:end])
		b.WriteString("\n")
	}
	return b.String()
}

func TestFromBytes_TooLarge(t *testing.T) {
	_, err := FromBytes(make([]byte, MaxImageBytes+1))
	assert.ErrorIs(t, err, medscan.ErrInvalidRequest)
}

type fakeS3 struct {
	body   []byte
	err    error
	bucket string
	key    string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket, f.key = aws.ToString(in.Bucket), aws.ToString(in.Key)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.body))}, nil
}

type fakeBlob struct {
	body      []byte
	err       error
	container string
	blob      string
}

func (f *fakeBlob) DownloadStream(_ context.Context, container, blobName string, _ *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error) {
	f.container, f.blob = container, blobName
	if f.err != nil {
		return azblob.DownloadStreamResponse{}, f.err
	}
	return azblob.DownloadStreamResponse{
		DownloadResponse: blob.DownloadResponse{Body: io.NopCloser(bytes.NewReader(f.body))},
	}, nil
}

func TestResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("s3", func(t *testing.T) {
		s3c := &fakeS3{body: pngBytes}
		img, err := NewResolver(ResolverOptions{S3: s3c}).Resolve(ctx, "s3://uploads/users/1/box.png")
		require.NoError(t, err)
		assert.Equal(t, "image/png", img.MIMEType)
		assert.Equal(t, "uploads", s3c.bucket)
		assert.Equal(t, "users/1/box.png", s3c.key)
	})

	t.Run("azblob", func(t *testing.T) {
		bc := &fakeBlob{body: jpegBytes}
		img, err := NewResolver(ResolverOptions{AzureBlob: bc}).Resolve(ctx, "azblob://scans/box.jpg")
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", img.MIMEType)
		assert.Equal(t, "scans", bc.container)
		assert.Equal(t, "box.jpg", bc.blob)
	})

	t.Run("download failure is service unavailable", func(t *testing.T) {
		_, err := NewResolver(ResolverOptions{S3: &fakeS3{err: errors.New("no such key")}}).Resolve(ctx, "s3://b/k.png")
		assert.ErrorIs(t, err, medscan.ErrServiceUnavailable)
		assert.ErrorContains(t, err, "s3://b/k.png")
	})

	t.Run("downloaded bytes must be an image", func(t *testing.T) {
		_, err := NewResolver(ResolverOptions{AzureBlob: &fakeBlob{body: []byte("text")}}).Resolve(ctx, "azblob://c/b")
		assert.ErrorIs(t, err, medscan.ErrInvalidRequest)
	})

	invalid := []struct{ name, ref string }{
		{"scheme not enabled", "azblob://c/b"},
		{"unknown scheme", "ftp://host/file.png"},
		{"missing key", "s3://bucket"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(ResolverOptions{S3: &fakeS3{body: pngBytes}}).Resolve(ctx, tt.ref)
			assert.ErrorIs(t, err, medscan.ErrInvalidRequest)
		})
	}
}

func TestIsReference(t *testing.T) {
	assert.True(t, IsReference(" s3://b/k"))
	assert.True(t, IsReference("azblob://c/b"))
	assert.False(t, IsReference("data:image/png;base64,AAAA"))
	assert.False(t, IsReference("iVBORw0KGgo="))
}
