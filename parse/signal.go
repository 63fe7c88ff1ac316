package parse

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"medscan"
	"medscan/schema"
)

// SignalKind is the outcome of parsing the first model response.
type SignalKind int

const (
	// SignalValid carries a tool call with a usable product name.
	SignalValid SignalKind = iota
	// SignalInvalid is a well-formed JSON object that is not a usable tool call.
	SignalInvalid
	// SignalNone means no JSON was found: the model answered directly.
	SignalNone
	// SignalToolError is a JSON fence whose body does not parse.
	SignalToolError
)

func (k SignalKind) String() string {
	switch k {
	case SignalValid:
		return "VALID"
	case SignalInvalid:
		return "INVALID_SIGNAL"
	case SignalNone:
		return "NO_SIGNAL"
	case SignalToolError:
		return "TOOL_ERROR"
	default:
		return fmt.Sprintf("SignalKind(%d)", int(k))
	}
}

// SignalResult is what ParseToolSignal returns. Signal is set only for SignalValid;
// Text holds the trimmed raw answer for SignalNone.
type SignalResult struct {
	Kind   SignalKind
	Signal *medscan.ToolSignal
	Source Source
	Text   string
	Err    error
}

// ParseToolSignal extracts a lookup_medicine tool call from the first model response.
func ParseToolSignal(raw string) SignalResult {
	c, ok := Extract(raw)
	if !ok {
		return SignalResult{Kind: SignalNone, Source: SourceNone, Text: strings.TrimSpace(raw)}
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(c.Text), &obj); err != nil {
		return SignalResult{
			Kind:   SignalToolError,
			Source: c.Source,
			Err:    fmt.Errorf("decode tool call: %w", err),
		}
	}

	params, err := toolParameters(obj)
	if err != nil {
		return SignalResult{Kind: SignalInvalid, Source: c.Source, Err: err}
	}

	normalizeParams(params)

	b, err := json.Marshal(params)
	if err != nil {
		return SignalResult{Kind: SignalInvalid, Source: c.Source, Err: fmt.Errorf("encode parameters: %w", err)}
	}
	if err := schema.Validate(schema.ToolParameters(), b); err != nil {
		return SignalResult{Kind: SignalInvalid, Source: c.Source, Err: fmt.Errorf("invalid parameters: %w", err)}
	}

	sig := &medscan.ToolSignal{
		ProductName:          stringValue(params["product_name"]),
		ActiveIngredient:     stringValue(params["active_ingredient"]),
		Strength:             stringValue(params["strength"]),
		RegistrationNumber:   stringValue(params["registration_number"]),
		PackagingDescription: stringValue(params["packaging_description"]),
		AllVisibleText:       stringValue(params["all_visible_text"]),
	}
	sig.Confidence, _ = params["confidence"].(float64)

	if strings.TrimSpace(sig.ProductName) == "" {
		return SignalResult{Kind: SignalInvalid, Source: c.Source, Err: fmt.Errorf("invalid parameters: product_name is blank")}
	}

	return SignalResult{Kind: SignalValid, Signal: sig, Source: c.Source}
}

// toolParameters accepts {"tool_call":{"name":..,"parameters":{..}}}, the same envelope with
// "arguments" or "input", or the parameters object on its own.
func toolParameters(obj map[string]any) (map[string]any, error) {
	call, ok := obj["tool_call"].(map[string]any)
	if !ok {
		if calls, isList := obj["tool_calls"].([]any); isList && len(calls) > 0 {
			call, ok = calls[0].(map[string]any)
		}
	}

	if !ok {
		if _, flat := obj["product_name"]; flat {
			return obj, nil
		}
		return nil, fmt.Errorf("invalid parameters: no tool_call in response")
	}

	if name := stringValue(call["name"]); name != "" && name != schema.ToolName {
		return nil, fmt.Errorf("invalid parameters: unknown tool %q", name)
	}

	for _, key := range []string{"parameters", "arguments", "input"} {
		if p, ok := call[key].(map[string]any); ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("invalid parameters: tool_call has no parameters")
}

// normalizeParams drops null values, stringifies non-string text fields and normalizes confidence.
func normalizeParams(params map[string]any) {
	for key, v := range params {
		if key == "confidence" {
			continue
		}
		switch v.(type) {
		case nil:
			delete(params, key)
		case string:
		default:
			params[key] = coerceString(v)
		}
	}
	normalizeConfidence(params)
}

// normalizeConfidence coerces string and percentage confidences into [0,1].
// A missing or unreadable confidence becomes 0.
func normalizeConfidence(params map[string]any) {
	var (
		c       float64
		percent bool
	)
	switch v := params["confidence"].(type) {
	case float64:
		c = v
	case string:
		var s string
		s, percent = strings.CutSuffix(strings.TrimSpace(v), "%")
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			c = f
		}
	}

	switch {
	case percent || c >= 2:
		c = c / 100
	case c > 1:
		c = 1
	}
	if math.IsNaN(c) || math.IsInf(c, 0) {
		c = 0
	}
	params["confidence"] = c
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(coerceString(t))
	}
}
