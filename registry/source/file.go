package source

import (
	"context"
	"os"
)

type FileSnapshot struct {
	FilePath string
}

func NewFileSnapshot(filePath string) *FileSnapshot {
	return &FileSnapshot{FilePath: filePath}
}

func (f *FileSnapshot) Load(ctx context.Context) ([]byte, error) {
	return os.ReadFile(f.FilePath)
}
