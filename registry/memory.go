package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/arbovm/levenshtein"

	"medscan"
	"medscan/registry/source"
)

// MemoryStore serves lookups from an in-memory registry snapshot.
type MemoryStore struct {
	records []medscan.RegistryRecord
	byReg   map[string]int
}

func NewMemoryStore(records []medscan.RegistryRecord) *MemoryStore {
	s := &MemoryStore{
		records: records,
		byReg:   make(map[string]int, len(records)),
	}
	for i, r := range records {
		if key := normalizeRegNumber(r.RegistrationNumber); key != "" {
			if _, exists := s.byReg[key]; !exists {
				s.byReg[key] = i
			}
		}
	}
	return s
}

// LoadMemoryStore reads a snapshot holding either a JSON array of records or {"records": [...]}.
func LoadMemoryStore(ctx context.Context, snapshot source.Snapshot) (*MemoryStore, error) {
	b, err := snapshot.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("read registry snapshot: %w", err)
	}

	var records []medscan.RegistryRecord
	if trimmed := bytes.TrimSpace(b); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &records)
	} else {
		var wrapped struct {
			Records []medscan.RegistryRecord `json:"records"`
		}
		err = json.Unmarshal(trimmed, &wrapped)
		records = wrapped.Records
	}
	if err != nil {
		return nil, fmt.Errorf("decode registry snapshot: %w", err)
	}

	return NewMemoryStore(records), nil
}

// Len returns the number of records in the snapshot.
func (s *MemoryStore) Len() int { return len(s.records) }

func (s *MemoryStore) LookupByRegNumber(_ context.Context, regNumber string) (*medscan.RegistryRecord, error) {
	i, ok := s.byReg[normalizeRegNumber(regNumber)]
	if !ok {
		return nil, nil
	}
	rec := s.records[i]
	return &rec, nil
}

func (s *MemoryStore) LookupByNameAndIngredient(_ context.Context, name, ingredient string) (*medscan.RegistryRecord, error) {
	ing := normalizeText(ingredient)
	if ing == "" {
		return nil, nil
	}
	return s.bestNameMatch(name, func(r medscan.RegistryRecord) bool {
		have := normalizeText(r.ActiveIngredient)
		return have != "" && (strings.Contains(have, ing) || strings.Contains(ing, have))
	}), nil
}

func (s *MemoryStore) LookupByName(_ context.Context, name string) (*medscan.RegistryRecord, error) {
	return s.bestNameMatch(name, nil), nil
}

// LookupFuzzy returns the record whose product name is most similar to name, if any reaches threshold.
func (s *MemoryStore) LookupFuzzy(_ context.Context, name string, threshold float64) (*medscan.RegistryRecord, float64, error) {
	query := normalizeText(name)
	baseQuery := normalizeText(BaseName(name))
	if query == "" {
		return nil, 0, nil
	}

	best, bestScore := -1, 0.0
	for i, r := range s.records {
		score := Similarity(query, normalizeText(r.ProductName))
		if baseQuery != "" {
			if bs := Similarity(baseQuery, normalizeText(BaseName(r.ProductName))); bs > score {
				score = bs
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	if best < 0 || bestScore < threshold {
		return nil, bestScore, nil
	}
	rec := s.records[best]
	return &rec, bestScore, nil
}

// bestNameMatch prefers the shortest product name containing the query, then the longest
// product name contained in the query.
func (s *MemoryStore) bestNameMatch(name string, accept func(medscan.RegistryRecord) bool) *medscan.RegistryRecord {
	query := normalizeText(name)
	if query == "" {
		return nil
	}

	contains, contained := -1, -1
	for i, r := range s.records {
		if accept != nil && !accept(r) {
			continue
		}
		product := normalizeText(r.ProductName)
		if product == "" {
			continue
		}
		switch {
		case strings.Contains(product, query):
			if contains < 0 || len(product) < len(normalizeText(s.records[contains].ProductName)) {
				contains = i
			}
		case utf8.RuneCountInString(product) >= 3 && strings.Contains(query, product):
			if contained < 0 || len(product) > len(normalizeText(s.records[contained].ProductName)) {
				contained = i
			}
		}
	}

	idx := contains
	if idx < 0 {
		idx = contained
	}
	if idx < 0 {
		return nil
	}
	rec := s.records[idx]
	return &rec
}

// Similarity is 1 minus the normalized Levenshtein distance between a and b.
func Similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	return 1 - float64(levenshtein.Distance(a, b))/float64(longest)
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func normalizeRegNumber(s string) string {
	return strings.ToUpper(strings.NewReplacer(" ", "", "-", "", "/", "", ".", "").Replace(strings.TrimSpace(s)))
}
