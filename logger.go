package medscan

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// RunLogger records the stages a pipeline run passes through.
type RunLogger interface {
	LogStage(stage StageLog) error
}

// NewRunLogFilePath returns a file path based on a cleaned up model name or id to make it easier to identify logs produced with various models.
func NewRunLogFilePath(model string) string {
	return fmt.Sprintf(
		"./logs/%d.%s.json",
		time.Now().Unix(),
		strings.NewReplacer(":", "_", "/", "_").Replace(strings.ToLower(model)),
	)
}

// StageLog represents a single stage of one pipeline run
type StageLog struct {
	RunID       string         `json:"run_id"`
	Stage       string         `json:"stage"`
	Timestamp   time.Time      `json:"timestamp"`
	ModelInput  string         `json:"model_input,omitempty"`
	ModelOutput string         `json:"model_output,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// FileRunLogger accumulates stages and writes them as one document on Flush.
type FileRunLogger struct {
	mu     sync.Mutex
	stages []StageLog
	writer io.Writer
}

func NewFileRunLogger(writer io.Writer) *FileRunLogger {
	return &FileRunLogger{
		stages: make([]StageLog, 0),
		writer: writer,
	}
}

// LogStage buffers the stage (does not flush immediately)
func (l *FileRunLogger) LogStage(stage StageLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stages = append(l.stages, stage)
	return nil
}

// Flush writes all accumulated stages to the writer
func (l *FileRunLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer == nil {
		return nil
	}

	data, err := json.MarshalIndent(map[string]any{
		"pipeline_session": map[string]any{
			"timestamp": time.Now(),
			"stages":    l.stages,
		},
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run log: %w", err)
	}

	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write run log: %w", err)
	}

	l.stages = l.stages[:0]
	return nil
}

// NoOpRunLogger discards all stage logs
type NoOpRunLogger struct{}

func NewNoOpRunLogger() *NoOpRunLogger {
	return &NoOpRunLogger{}
}

func (nop *NoOpRunLogger) LogStage(stage StageLog) error {
	return nil
}

// StdoutRunLogger logs each stage as a JSON line to stdout (for Lambda/CloudWatch)
type StdoutRunLogger struct {
	w io.Writer
}

func NewStdoutRunLogger() *StdoutRunLogger {
	return &StdoutRunLogger{w: os.Stdout}
}

func (l *StdoutRunLogger) LogStage(stage StageLog) error {
	data, err := json.Marshal(stage)
	if err != nil {
		return err
	}
	fmt.Fprintln(l.w, string(data))
	return nil
}

// NewRunLogger picks a logger by name: "stdout", "file" or anything else for no-op.
// The returned cleanup must be called once the process is done logging.
func NewRunLogger(kind, model string) (RunLogger, func() error, error) {
	switch kind {
	case "stdout":
		return NewStdoutRunLogger(), func() error { return nil }, nil
	case "file":
		path := NewRunLogFilePath(model)
		if err := os.MkdirAll("./logs", 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log dir: %w", err)
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create run log %s: %w", path, err)
		}
		logger := NewFileRunLogger(f)
		return logger, func() error {
			if err := logger.Flush(); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		}, nil
	default:
		return NewNoOpRunLogger(), func() error { return nil }, nil
	}
}
