package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"medscan"
	"medscan/prompt"
	"medscan/schema"
)

// Model is a deterministic medscan.VisionModel that answers based on which prompt stage it receives.
// It only serves as a local stand-in for a real model. Real models may not be so kind :)
type Model struct {
	Signal medscan.ToolSignal
}

// NewModel returns a Model that always reads Panadol 500mg off the packaging.
func NewModel() *Model {
	return &Model{Signal: medscan.ToolSignal{
		ProductName:          "Panadol 500mg",
		ActiveIngredient:     "Paracetamol",
		Strength:             "500mg",
		PackagingDescription: "Red and white carton, blister of 12 caplets",
		AllVisibleText:       "Panadol; 500mg; Paracetamol; 12 caplets",
		Confidence:           0.95,
	}}
}

func (m *Model) Generate(ctx context.Context, p string, image *medscan.Image) (string, error) {
	slog.Info("LLM_CLIENT: Invoked", "prompt_len", len(p), "has_image", image != nil)

	switch {
	// Phase 1: read the packaging and call the lookup tool
	case strings.HasPrefix(p, prompt.InitialHeader):
		call := map[string]any{
			"tool_call": map[string]any{
				"name":       schema.ToolName,
				"parameters": m.Signal,
			},
		}
		return fenced(call)

	// Phase 2: write the report
	case strings.HasPrefix(p, prompt.AugmentedHeader):
		name := m.Signal.ProductName
		if name == "" {
			name = "unavailable"
		}
		report := medscan.MedicineReport{
			PackagingDetected:  m.Signal.PackagingDescription,
			MedicineName:       name,
			GenericName:        m.Signal.ActiveIngredient,
			Purpose:            "Relief of mild to moderate pain and fever.",
			DosageInstructions: "Adults: 1-2 tablets every 4-6 hours. Do not exceed 8 tablets in 24 hours.",
			SideEffects:        "Rare at normal doses.",
			AllergyWarning:     "Do not take if allergic to paracetamol.",
			DrugInteractions:   "Avoid other paracetamol-containing products.",
			SafetyNotes:        "Overdose can cause serious liver damage.",
			Storage:            "Store below 30°C.",
		}
		return fenced(report)

	// Phase 3: fallback answer without JSON
	default:
		return "I can only read medicine packaging.", nil
	}
}

func fenced(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal mock response: %w", err)
	}
	return "```json\n" + string(b) + "\n```", nil
}

// Reply is one scripted model response. A Block reply waits for the context to end.
type Reply struct {
	Text  string
	Err   error
	Block bool
}

// Scripted returns its replies in order and records every call. It is safe for concurrent use.
// Once the replies run out the last one repeats.
type Scripted struct {
	mu      sync.Mutex
	replies []Reply
	prompts []string
	images  []*medscan.Image
}

func NewScripted(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

func (s *Scripted) Generate(ctx context.Context, p string, image *medscan.Image) (string, error) {
	s.mu.Lock()
	n := len(s.prompts)
	s.prompts = append(s.prompts, p)
	s.images = append(s.images, image)
	var r Reply
	switch {
	case len(s.replies) == 0:
		r = Reply{Err: fmt.Errorf("%w: no scripted reply", medscan.ErrAnalysis)}
	case n < len(s.replies):
		r = s.replies[n]
	default:
		r = s.replies[len(s.replies)-1]
	}
	s.mu.Unlock()

	if r.Block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.Text, r.Err
}

// Calls returns how many times Generate was called.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

// Prompts returns the prompts received so far.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// Images returns the images received so far, nil entries included.
func (s *Scripted) Images() []*medscan.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*medscan.Image(nil), s.images...)
}
