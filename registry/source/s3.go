package source

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Snapshot implements Snapshot backed by S3
type S3Snapshot struct {
	bucket string
	key    string
	s3     s3ObjectGetter
}

func NewS3Snapshot(s3Client s3ObjectGetter, bucket, key string) *S3Snapshot {
	return &S3Snapshot{
		bucket: bucket,
		key:    key,
		s3:     s3Client,
	}
}

func (s *S3Snapshot) Load(ctx context.Context) ([]byte, error) {
	resp, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get registry object s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
