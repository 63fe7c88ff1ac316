package registry

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"medscan"
)

// Store is the read-only registry the lookup chain queries. A nil record with a nil error is a miss.
type Store interface {
	LookupByRegNumber(ctx context.Context, regNumber string) (*medscan.RegistryRecord, error)
	LookupByNameAndIngredient(ctx context.Context, name, ingredient string) (*medscan.RegistryRecord, error)
	LookupByName(ctx context.Context, name string) (*medscan.RegistryRecord, error)
}

// FuzzyStore is implemented by stores that can rank approximate name matches.
type FuzzyStore interface {
	LookupFuzzy(ctx context.Context, name string, threshold float64) (*medscan.RegistryRecord, float64, error)
}

const defaultFuzzyThreshold = 0.8

type Options struct {
	// FuzzyThreshold is the minimum similarity in (0,1] for the fuzzy fallback. Zero uses the default.
	FuzzyThreshold float64
	// DisableFuzzy skips the fuzzy fallback even when the store supports it.
	DisableFuzzy bool
}

// Lookup runs the strategy chain against a Store.
type Lookup struct {
	store Store
	opts  Options
}

func NewLookup(store Store, opts Options) *Lookup {
	if opts.FuzzyThreshold <= 0 || opts.FuzzyThreshold > 1 {
		opts.FuzzyThreshold = defaultFuzzyThreshold
	}
	return &Lookup{store: store, opts: opts}
}

// Lookup resolves a product to a verified record. Strategies run strongest first and the first hit wins:
// registration number, name plus ingredient, name substring, base name without strength,
// each ingredient of a combination product, and finally fuzzy name similarity.
func (l *Lookup) Lookup(ctx context.Context, name, regNumber, ingredient string) Outcome {
	name = strings.TrimSpace(name)
	regNumber = strings.TrimSpace(regNumber)
	ingredient = strings.TrimSpace(ingredient)

	if name == "" && regNumber == "" {
		return InvalidSignal("no product name or registration number to look up")
	}

	if regNumber != "" {
		rec, err := l.store.LookupByRegNumber(ctx, regNumber)
		if out, done := l.result(rec, err, StrategyRegNumber); done {
			return out
		}
	}

	if name == "" {
		return NotFound(fmt.Sprintf("no registry record for registration number %q", regNumber))
	}

	if ingredient != "" {
		rec, err := l.store.LookupByNameAndIngredient(ctx, name, ingredient)
		if out, done := l.result(rec, err, StrategyNameAndIngredient); done {
			return out
		}
	}

	rec, err := l.store.LookupByName(ctx, name)
	if out, done := l.result(rec, err, StrategyName); done {
		return out
	}

	if base := BaseName(name); base != "" && !strings.EqualFold(base, name) {
		rec, err := l.store.LookupByName(ctx, base)
		if out, done := l.result(rec, err, StrategyBaseName); done {
			return out
		}
	}

	if parts := SplitIngredients(ingredient); len(parts) > 1 {
		for _, part := range parts {
			rec, err := l.store.LookupByNameAndIngredient(ctx, name, part)
			if out, done := l.result(rec, err, StrategyIngredientSplit); done {
				return out
			}
		}
		for _, part := range parts {
			rec, err := l.store.LookupByName(ctx, part)
			if out, done := l.result(rec, err, StrategyIngredientSplit); done {
				return out
			}
		}
	}

	if fs, ok := l.store.(FuzzyStore); ok && !l.opts.DisableFuzzy {
		rec, score, err := fs.LookupFuzzy(ctx, name, l.opts.FuzzyThreshold)
		if out, done := l.result(rec, err, StrategyFuzzy); done {
			if out.Found() {
				slog.Info("REGISTRY: Fuzzy match", "query", name, "match", rec.ProductName, "score", score)
			}
			return out
		}
	}

	slog.Info("REGISTRY: No match", "name", name, "reg_number", regNumber, "ingredient", ingredient)
	return NotFound(fmt.Sprintf("no registry record matches %q", name))
}

// result turns one store call into a terminal outcome: a hit or a store error ends the chain.
func (l *Lookup) result(rec *medscan.RegistryRecord, err error, strategy Strategy) (Outcome, bool) {
	if err != nil {
		slog.Error("REGISTRY: Lookup failed", "strategy", strategy, "error", err)
		return ToolError(fmt.Sprintf("registry lookup failed: %v", err)), true
	}
	if rec != nil {
		slog.Info("REGISTRY: Match", "strategy", strategy, "product_name", rec.ProductName, "registration_number", rec.RegistrationNumber)
		return Found(rec, strategy), true
	}
	return Outcome{}, false
}

var (
	ingredientSeparators = regexp.MustCompile(`(?i)\s*(?:,|;|/|\+|&|\band\b|\bwith\b)\s*`)
	strengthToken        = regexp.MustCompile(`(?i)\b\d+(?:[.,]\d+)?\s*(?:mg|mcg|µg|g|ml|iu|%)?(?:\s*/\s*\d*(?:[.,]\d+)?\s*(?:mg|mcg|µg|g|ml))?\b`)
	dosageFormWords      = map[string]bool{
		"tablet": true, "tablets": true, "tab": true, "tabs": true,
		"capsule": true, "capsules": true, "cap": true, "caps": true,
		"caplet": true, "caplets": true, "syrup": true, "suspension": true,
		"cream": true, "ointment": true, "gel": true, "drops": true,
		"injection": true, "solution": true, "film-coated": true, "effervescent": true,
	}
)

// SplitIngredients splits a combination ingredient string ("X and Y", "X + Y", "X/Y").
func SplitIngredients(ingredient string) []string {
	var parts []string
	for _, p := range ingredientSeparators.Split(ingredient, -1) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// BaseName strips strength and dosage form tokens: "Panadol 500mg Tablets" -> "Panadol".
func BaseName(name string) string {
	stripped := strengthToken.ReplaceAllString(name, " ")
	var words []string
	for _, w := range strings.Fields(stripped) {
		if dosageFormWords[strings.ToLower(w)] || strings.IndexFunc(w, unicode.IsLetter) < 0 {
			continue
		}
		words = append(words, w)
	}
	return strings.Join(words, " ")
}
