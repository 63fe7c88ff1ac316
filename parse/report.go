package parse

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"medscan"
)

// ReportResult is what ParseFinalReport returns. Report is nil when nothing structured was found,
// in which case Raw is the text to fall back to.
type ReportResult struct {
	Report *medscan.MedicineReport
	Source Source
	Raw    string
	Err    error
}

// Structured reports whether a report was extracted.
func (r ReportResult) Structured() bool {
	return r.Report != nil
}

// reportWrappers are keys some models nest the report under.
var reportWrappers = []string{"report", "medicine_report", "medicineReport", "result", "data"}

// ParseFinalReport extracts the ten-field report from the second model response.
// It never fails: anything it cannot structure comes back as raw text.
func ParseFinalReport(raw string) ReportResult {
	trimmed := strings.TrimSpace(raw)

	c, ok := Extract(raw)
	if !ok {
		return ReportResult{Source: SourceNone, Raw: trimmed}
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(c.Text), &obj); err != nil {
		return ReportResult{Source: c.Source, Raw: trimmed, Err: fmt.Errorf("decode report: %w", err)}
	}

	for _, key := range reportWrappers {
		if inner, ok := obj[key].(map[string]any); ok && hasReportField(inner) {
			obj = inner
			break
		}
	}

	if !hasReportField(obj) {
		return ReportResult{Source: c.Source, Raw: trimmed, Err: fmt.Errorf("decode report: no report fields in object")}
	}

	report := &medscan.MedicineReport{
		PackagingDetected:  coerceString(obj["packaging_detected"]),
		MedicineName:       coerceString(obj["medicine_name"]),
		GenericName:        coerceString(obj["generic_name"]),
		Purpose:            coerceString(obj["purpose"]),
		DosageInstructions: coerceString(obj["dosage_instructions"]),
		SideEffects:        coerceString(obj["side_effects"]),
		AllergyWarning:     coerceString(obj["allergy_warning"]),
		DrugInteractions:   coerceString(obj["drug_interactions"]),
		SafetyNotes:        coerceString(obj["safety_notes"]),
		Storage:            coerceString(obj["storage"]),
		Disclaimer:         medscan.Disclaimer,
	}
	if !report.IsValid() {
		return ReportResult{Source: c.Source, Raw: trimmed, Err: fmt.Errorf("decode report: no medicine name or packaging")}
	}

	return ReportResult{Report: report, Source: c.Source, Raw: trimmed}
}

func hasReportField(obj map[string]any) bool {
	for _, field := range medscan.ReportFields {
		if _, ok := obj[field]; ok {
			return true
		}
	}
	return false
}

// coerceString turns loosely typed model values into display strings: lists are joined,
// numbers and booleans are formatted, nested objects are rendered as "key: value" pairs.
func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := coerceString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := coerceString(t[k]); s != "" {
				parts = append(parts, k+": "+s)
			}
		}
		return strings.Join(parts, "; ")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
