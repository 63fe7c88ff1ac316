package parse

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Source records which extraction strategy produced a candidate.
type Source int

const (
	SourceNone Source = iota
	SourceFenced
	SourceBare
)

func (s Source) String() string {
	switch s {
	case SourceFenced:
		return "fenced"
	case SourceBare:
		return "bare"
	default:
		return "none"
	}
}

// Candidate is a span of model output that may hold a JSON object.
type Candidate struct {
	Source Source
	Text   string
}

// Strategy looks for a JSON candidate in raw model text.
type Strategy func(text string) (Candidate, bool)

// DefaultStrategies tries a fenced code block first and a bare object second.
var DefaultStrategies = []Strategy{FencedBlock, BareObject}

// Extract runs strategies in order and returns the first candidate found.
func Extract(text string, strategies ...Strategy) (Candidate, bool) {
	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}
	for _, strategy := range strategies {
		if c, ok := strategy(text); ok {
			return c, true
		}
	}
	return Candidate{Source: SourceNone}, false
}

var fencePattern = regexp.MustCompile("(?s)```[ \\t]*([A-Za-z0-9_-]*)[ \\t]*\\r?\\n?(.*?)```")

// FencedBlock returns the body of the first fenced block that is labelled json or starts with '{'.
// The body is returned even when it is not valid JSON: a json fence with a broken body is a tool error,
// not the absence of one.
func FencedBlock(text string) (Candidate, bool) {
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		lang := strings.ToLower(m[1])
		body := strings.TrimSpace(m[2])
		if lang == "json" || strings.HasPrefix(body, "{") {
			return Candidate{Source: SourceFenced, Text: body}, true
		}
	}

	// An opened json fence the model never closed still counts as an attempt.
	if idx := strings.Index(strings.ToLower(text), "```json"); idx >= 0 {
		body := strings.TrimSpace(text[idx+len("```json"):])
		return Candidate{Source: SourceFenced, Text: body}, true
	}

	return Candidate{}, false
}

// BareObject returns the first brace-balanced span that decodes as a JSON object.
func BareObject(text string) (Candidate, bool) {
	for _, span := range objectSpans(text) {
		if json.Valid([]byte(span)) {
			return Candidate{Source: SourceBare, Text: span}, true
		}
	}
	return Candidate{}, false
}

// objectSpans scans text for top-level {...} spans, honouring string literals and escapes.
func objectSpans(s string) []string {
	var spans []string

	i := 0
	for i < len(s) {
		start := strings.IndexByte(s[i:], '{')
		if start == -1 {
			break
		}
		start += i

		braceCount := 0
		end := start
		inString := false
		escaped := false

		for end < len(s) {
			char := s[end]

			if escaped {
				escaped = false
				end++
				continue
			}

			if char == '\\' && inString {
				escaped = true
				end++
				continue
			}

			if char == '"' {
				inString = !inString
			} else if !inString {
				if char == '{' {
					braceCount++
				} else if char == '}' {
					braceCount--
					if braceCount == 0 {
						break
					}
				}
			}
			end++
		}

		if braceCount != 0 || end >= len(s) {
			// Unbalanced from here on, try the next opening brace
			i = start + 1
			continue
		}

		spans = append(spans, s[start:end+1])
		i = end + 1
	}

	return spans
}
