package registry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medscan"
)

// recordingStore answers from fixed maps and records every call it receives.
type recordingStore struct {
	byReg     map[string]*medscan.RegistryRecord
	byNameIng map[string]*medscan.RegistryRecord // key: name|ingredient
	byName    map[string]*medscan.RegistryRecord
	err       error
	calls     []string
}

func (s *recordingStore) LookupByRegNumber(_ context.Context, regNumber string) (*medscan.RegistryRecord, error) {
	s.calls = append(s.calls, "reg:"+regNumber)
	if s.err != nil {
		return nil, s.err
	}
	return s.byReg[regNumber], nil
}

func (s *recordingStore) LookupByNameAndIngredient(_ context.Context, name, ingredient string) (*medscan.RegistryRecord, error) {
	s.calls = append(s.calls, "name+ing:"+name+"|"+ingredient)
	if s.err != nil {
		return nil, s.err
	}
	return s.byNameIng[name+"|"+ingredient], nil
}

func (s *recordingStore) LookupByName(_ context.Context, name string) (*medscan.RegistryRecord, error) {
	s.calls = append(s.calls, "name:"+name)
	if s.err != nil {
		return nil, s.err
	}
	return s.byName[name], nil
}

type fuzzyRecordingStore struct {
	recordingStore
	fuzzy *medscan.RegistryRecord
}

func (s *fuzzyRecordingStore) LookupFuzzy(_ context.Context, name string, threshold float64) (*medscan.RegistryRecord, float64, error) {
	s.calls = append(s.calls, "fuzzy:"+name)
	if s.fuzzy == nil {
		return nil, 0.2, nil
	}
	return s.fuzzy, 0.9, nil
}

var panadol = &medscan.RegistryRecord{ID: "1", RegistrationNumber: "MAL123", ProductName: "Panadol 500mg", ActiveIngredient: "Paracetamol"}

func TestLookup_StrategyOrder(t *testing.T) {
	tests := []struct {
		name         string
		store        *recordingStore
		product      string
		reg          string
		ingredient   string
		wantKind     Kind
		wantStrategy Strategy
		wantCalls    []string
	}{
		{
			name:         "registration number wins and nothing weaker runs",
			store:        &recordingStore{byReg: map[string]*medscan.RegistryRecord{"MAL123": panadol}},
			product:      "Panadol",
			reg:          "MAL123",
			ingredient:   "Paracetamol",
			wantKind:     KindFound,
			wantStrategy: StrategyRegNumber,
			wantCalls:    []string{"reg:MAL123"},
		},
		{
			name:         "name and ingredient after a registration miss",
			store:        &recordingStore{byNameIng: map[string]*medscan.RegistryRecord{"Panadol|Paracetamol": panadol}},
			product:      "Panadol",
			reg:          "XYZ",
			ingredient:   "Paracetamol",
			wantKind:     KindFound,
			wantStrategy: StrategyNameAndIngredient,
			wantCalls:    []string{"reg:XYZ", "name+ing:Panadol|Paracetamol"},
		},
		{
			name:         "plain name without reg number or ingredient goes straight to name search",
			store:        &recordingStore{byName: map[string]*medscan.RegistryRecord{"Panadol": panadol}},
			product:      "Panadol",
			wantKind:     KindFound,
			wantStrategy: StrategyName,
			wantCalls:    []string{"name:Panadol"},
		},
		{
			name:         "name search after stronger misses",
			store:        &recordingStore{byName: map[string]*medscan.RegistryRecord{"Panadol": panadol}},
			product:      "Panadol",
			reg:          "NOPE",
			ingredient:   "Paracetamol",
			wantKind:     KindFound,
			wantStrategy: StrategyName,
			wantCalls:    []string{"reg:NOPE", "name+ing:Panadol|Paracetamol", "name:Panadol"},
		},
		{
			name:         "base name without strength",
			store:        &recordingStore{byName: map[string]*medscan.RegistryRecord{"Panadol": panadol}},
			product:      "Panadol 500mg Tablets",
			wantKind:     KindFound,
			wantStrategy: StrategyBaseName,
			wantCalls:    []string{"name:Panadol 500mg Tablets", "name:Panadol"},
		},
		{
			name: "per-ingredient split",
			store: &recordingStore{byNameIng: map[string]*medscan.RegistryRecord{
				"Panadol Extra|Caffeine": {ID: "2", ProductName: "Panadol Extra"},
			}},
			product:      "Panadol Extra",
			ingredient:   "Paracetamol and Caffeine",
			wantKind:     KindFound,
			wantStrategy: StrategyIngredientSplit,
			wantCalls: []string{
				"name+ing:Panadol Extra|Paracetamol and Caffeine",
				"name:Panadol Extra",
				"name+ing:Panadol Extra|Paracetamol",
				"name+ing:Panadol Extra|Caffeine",
			},
		},
		{
			name: "split falls back to searching each ingredient as a name",
			store: &recordingStore{byName: map[string]*medscan.RegistryRecord{
				"Ibuprofen": {ID: "3", ProductName: "Ibuprofen 200mg"},
			}},
			product:      "Nurofen Plus",
			ingredient:   "Ibuprofen + Codeine",
			wantKind:     KindFound,
			wantStrategy: StrategyIngredientSplit,
			wantCalls: []string{
				"name+ing:Nurofen Plus|Ibuprofen + Codeine",
				"name:Nurofen Plus",
				"name+ing:Nurofen Plus|Ibuprofen",
				"name+ing:Nurofen Plus|Codeine",
				"name:Ibuprofen",
			},
		},
		{
			name:       "single ingredient is not split",
			store:      &recordingStore{},
			product:    "Unknown Brand XYZ",
			ingredient: "Paracetamol",
			wantKind:   KindNotFound,
			wantCalls: []string{
				"name+ing:Unknown Brand XYZ|Paracetamol",
				"name:Unknown Brand XYZ",
			},
		},
		{
			name:      "store error is a tool error and stops the chain",
			store:     &recordingStore{err: errors.New("connection refused")},
			product:   "Panadol",
			reg:       "MAL123",
			wantKind:  KindToolError,
			wantCalls: []string{"reg:MAL123"},
		},
		{
			name:     "nothing to look up",
			store:    &recordingStore{},
			product:  "  ",
			wantKind: KindInvalidSignal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewLookup(tt.store, Options{}).Lookup(context.Background(), tt.product, tt.reg, tt.ingredient)

			assert.Equal(t, tt.wantKind, out.Kind, out.Message)
			assert.Equal(t, tt.wantStrategy, out.Strategy)
			assert.Equal(t, tt.wantCalls, tt.store.calls)
			if tt.wantKind == KindFound {
				assert.True(t, out.Found())
				assert.NotNil(t, out.Record)
			} else {
				assert.False(t, out.Found())
				assert.NotEmpty(t, out.Message)
			}
		})
	}
}

func TestLookup_Fuzzy(t *testing.T) {
	t.Run("fuzzy runs last", func(t *testing.T) {
		store := &fuzzyRecordingStore{fuzzy: panadol}
		out := NewLookup(store, Options{}).Lookup(context.Background(), "Panadoll", "", "")

		require.True(t, out.Found())
		assert.Equal(t, StrategyFuzzy, out.Strategy)
		assert.Equal(t, []string{"name:Panadoll", "fuzzy:Panadoll"}, store.calls)
	})

	t.Run("fuzzy below threshold is not found", func(t *testing.T) {
		store := &fuzzyRecordingStore{}
		out := NewLookup(store, Options{}).Lookup(context.Background(), "Zzz", "", "")
		assert.Equal(t, KindNotFound, out.Kind)
	})

	t.Run("fuzzy can be disabled", func(t *testing.T) {
		store := &fuzzyRecordingStore{fuzzy: panadol}
		out := NewLookup(store, Options{DisableFuzzy: true}).Lookup(context.Background(), "Panadoll", "", "")
		assert.Equal(t, KindNotFound, out.Kind)
		for _, c := range store.calls {
			assert.False(t, strings.HasPrefix(c, "fuzzy:"))
		}
	})
}

func TestSplitIngredients(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Paracetamol and Caffeine", []string{"Paracetamol", "Caffeine"}},
		{"Ibuprofen + Codeine", []string{"Ibuprofen", "Codeine"}},
		{"Amoxicillin/Clavulanic acid", []string{"Amoxicillin", "Clavulanic acid"}},
		{"A, B & C", []string{"A", "B", "C"}},
		{"Paracetamol", []string{"Paracetamol"}},
		{"Sandoz brand", []string{"Sandoz brand"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitIngredients(tt.in))
		})
	}
}

func TestBaseName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Panadol 500mg", "Panadol"},
		{"Panadol 500 mg Tablets", "Panadol"},
		{"Augmentin 625mg Film-Coated Tablets", "Augmentin"},
		{"Calpol 120mg/5ml Suspension", "Calpol"},
		{"Vitamin B12", "Vitamin B12"},
		{"Brufen", "Brufen"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, BaseName(tt.in))
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "FOUND", KindFound.String())
	assert.Equal(t, "NOT_FOUND", KindNotFound.String())
	assert.Equal(t, "TOOL_ERROR", KindToolError.String())
	assert.Equal(t, "NO_SIGNAL", KindNoSignal.String())
	assert.Equal(t, "INVALID_SIGNAL", KindInvalidSignal.String())
}
