package imagesource

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"medscan"
)

// MaxImageBytes caps decoded and downloaded images.
const MaxImageBytes = 8 << 20

var supportedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Decode accepts raw base64 (standard or URL alphabet, padded or not) or a data URL and returns the
// image with its sniffed media type. An empty string returns nil.
func Decode(s string) (*medscan.Image, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, fmt.Errorf("%w: malformed data URL", medscan.ErrInvalidRequest)
		}
		s = payload
	}

	data, err := decodeBase64(s)
	if err != nil {
		return nil, fmt.Errorf("%w: image is not valid base64: %w", medscan.ErrInvalidRequest, err)
	}
	return FromBytes(data)
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)

	var firstErr error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// FromBytes checks size and sniffs the media type.
func FromBytes(data []byte) (*medscan.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: image is empty", medscan.ErrInvalidRequest)
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("%w: image is larger than %d bytes", medscan.ErrInvalidRequest, MaxImageBytes)
	}
	mimeType := http.DetectContentType(data)
	if !supportedTypes[mimeType] {
		return nil, fmt.Errorf("%w: unsupported image type %s", medscan.ErrInvalidRequest, mimeType)
	}
	return &medscan.Image{Data: data, MIMEType: mimeType}, nil
}

type s3ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type blobDownloader interface {
	DownloadStream(ctx context.Context, containerName string, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
}

// ResolverOptions enables reference schemes. A nil client leaves that scheme unsupported.
type ResolverOptions struct {
	S3        s3ObjectGetter
	AzureBlob blobDownloader
}

// Resolver fetches images referenced as s3://bucket/key or azblob://container/blob.
type Resolver struct {
	s3   s3ObjectGetter
	blob blobDownloader
}

func NewResolver(opts ResolverOptions) *Resolver {
	return &Resolver{s3: opts.S3, blob: opts.AzureBlob}
}

// NewAzureBlobClient builds a shared-key client for the storage account.
func NewAzureBlobClient(accountName, accountKey string) (*azblob.Client, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("azure blob client: %w", err)
	}
	return client, nil
}

// IsReference reports whether s looks like an image reference rather than inline data.
func IsReference(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "s3://") || strings.HasPrefix(s, "azblob://")
}

// Resolve downloads the referenced image.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*medscan.Image, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid image reference: %w", medscan.ErrInvalidRequest, err)
	}
	container, key := u.Host, strings.TrimPrefix(u.Path, "/")
	if container == "" || key == "" {
		return nil, fmt.Errorf("%w: image reference %q needs a bucket and a key", medscan.ErrInvalidRequest, ref)
	}

	var body io.ReadCloser
	switch u.Scheme {
	case "s3":
		if r == nil || r.s3 == nil {
			return nil, fmt.Errorf("%w: s3 image references are not enabled", medscan.ErrInvalidRequest)
		}
		out, err := r.s3.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(container),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to get s3://%s/%s: %w", medscan.ErrServiceUnavailable, container, key, err)
		}
		body = out.Body

	case "azblob":
		if r == nil || r.blob == nil {
			return nil, fmt.Errorf("%w: azure blob image references are not enabled", medscan.ErrInvalidRequest)
		}
		resp, err := r.blob.DownloadStream(ctx, container, key, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to download azblob://%s/%s: %w", medscan.ErrServiceUnavailable, container, key, err)
		}
		body = resp.Body

	default:
		return nil, fmt.Errorf("%w: unsupported image reference scheme %q", medscan.ErrInvalidRequest, u.Scheme)
	}

	if body == nil {
		return nil, errors.New("image download returned no body")
	}
	defer body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(body, MaxImageBytes+1)); err != nil {
		return nil, fmt.Errorf("%w: failed to read image: %w", medscan.ErrServiceUnavailable, err)
	}
	return FromBytes(buf.Bytes())
}
