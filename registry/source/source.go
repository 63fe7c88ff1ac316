package source

import (
	"context"
	"errors"
)

// Snapshot loads a serialized registry (a JSON array of records).
type Snapshot interface {
	Load(ctx context.Context) ([]byte, error)
}

// TestSnapshot is a simple in-memory implementation for testing
type TestSnapshot struct {
	data []byte
	err  error
}

func NewTestSnapshot(data []byte) *TestSnapshot {
	return &TestSnapshot{data: data}
}

func NewTestSnapshotWithError() *TestSnapshot {
	return &TestSnapshot{err: errors.New("not found")}
}

func (t *TestSnapshot) Load(ctx context.Context) ([]byte, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.data, nil
}
