package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSnapshot(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		filename string
		data     []byte
	}{
		{
			name:     "registry array",
			filename: "registry.json",
			data:     []byte(`[{"id":"1","product_name":"Panadol 500mg"}]`),
		},
		{
			name:     "empty registry",
			filename: "empty.json",
			data:     []byte(`[]`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filePath := filepath.Join(tmpDir, tt.filename)
			require.NoError(t, os.WriteFile(filePath, tt.data, 0644))

			loaded, err := NewFileSnapshot(filePath).Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.data, loaded)
		})
	}

	t.Run("load nonexistent registry", func(t *testing.T) {
		_, err := NewFileSnapshot(filepath.Join(tmpDir, "nonexistent.json")).Load(context.Background())
		assert.Error(t, err)
		assert.True(t, os.IsNotExist(err))
	})
}

type mockS3 struct {
	body  []byte
	err   error
	input *s3.GetObjectInput
}

func (m *mockS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(m.body))}, nil
}

func TestS3Snapshot(t *testing.T) {
	t.Run("reads object", func(t *testing.T) {
		m := &mockS3{body: []byte(`[]`)}
		data, err := NewS3Snapshot(m, "bucket", "registry.json").Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []byte(`[]`), data)
		assert.Equal(t, "bucket", aws.ToString(m.input.Bucket))
		assert.Equal(t, "registry.json", aws.ToString(m.input.Key))
	})

	t.Run("wraps errors", func(t *testing.T) {
		m := &mockS3{err: errors.New("access denied")}
		_, err := NewS3Snapshot(m, "bucket", "registry.json").Load(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "s3://bucket/registry.json")
		assert.Contains(t, err.Error(), "access denied")
	})
}

func TestTestSnapshot(t *testing.T) {
	data, err := NewTestSnapshot([]byte("x")).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)

	_, err = NewTestSnapshotWithError().Load(context.Background())
	assert.Error(t, err)
}
