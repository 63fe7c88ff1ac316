package parse

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medscan"
)

const reportJSON = `{
  "packaging_detected": "White and red box",
  "medicine_name": "Panadol 500mg",
  "generic_name": "Paracetamol",
  "purpose": "Pain and fever relief",
  "dosage_instructions": "1-2 tablets every 4-6 hours",
  "side_effects": ["Nausea", "Rash"],
  "allergy_warning": "Do not use if allergic to paracetamol",
  "drug_interactions": "Warfarin",
  "safety_notes": "Do not exceed 8 tablets in 24 hours",
  "storage": "Below 25C",
  "disclaimer": "whatever the model said"
}`

func TestParseFinalReport_Robustness(t *testing.T) {
	tests := []struct {
		name           string
		raw            string
		wantStructured bool
		wantSource     Source
	}{
		{
			name:           "fenced json block",
			raw:            "Here is the report:\n```json\n" + reportJSON + "\n```",
			wantStructured: true,
			wantSource:     SourceFenced,
		},
		{
			name:           "bare json object",
			raw:            "Report follows " + reportJSON + " end.",
			wantStructured: true,
			wantSource:     SourceBare,
		},
		{
			name:           "pure prose",
			raw:            "Panadol contains paracetamol and relieves mild pain.",
			wantStructured: false,
			wantSource:     SourceNone,
		},
		{
			name:           "broken fenced json",
			raw:            "```json\n{\"medicine_name\": \"Panadol\",,}\n```",
			wantStructured: false,
			wantSource:     SourceFenced,
		},
		{
			name:           "json with no report keys",
			raw:            `{"answer": "Panadol"}`,
			wantStructured: false,
			wantSource:     SourceBare,
		},
		{
			name:           "report fields without a name or packaging",
			raw:            "```json\n{\"storage\": \"Keep dry\", \"purpose\": \"\"}\n```",
			wantStructured: false,
			wantSource:     SourceFenced,
		},
		{
			name:           "wrapped report with a blank name",
			raw:            `{"report": {"medicine_name": "  ", "storage": "Below 25C"}}`,
			wantStructured: false,
			wantSource:     SourceBare,
		},
		{
			name:           "packaging alone is enough",
			raw:            `{"packaging_detected": "Blue blister strip", "medicine_name": ""}`,
			wantStructured: true,
			wantSource:     SourceBare,
		},
		{
			name:           "empty response",
			raw:            "",
			wantStructured: false,
			wantSource:     SourceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res ReportResult
			require.NotPanics(t, func() { res = ParseFinalReport(tt.raw) })

			assert.Equal(t, tt.wantStructured, res.Structured())
			assert.Equal(t, tt.wantSource, res.Source)
			if !tt.wantStructured {
				assert.Nil(t, res.Report)
				assert.Equal(t, strings.TrimSpace(tt.raw), res.Raw)
			}
		})
	}
}

func TestParseFinalReport_Fields(t *testing.T) {
	res := ParseFinalReport("```json\n" + reportJSON + "\n```")
	require.True(t, res.Structured())

	r := res.Report
	assert.Equal(t, "Panadol 500mg", r.MedicineName)
	assert.Equal(t, "Paracetamol", r.GenericName)
	assert.Equal(t, "Nausea; Rash", r.SideEffects, "lists are joined")
	assert.Equal(t, medscan.Disclaimer, r.Disclaimer, "disclaimer is never taken from the model")

	b, err := json.Marshal(r)
	require.NoError(t, err)
	var keys map[string]any
	require.NoError(t, json.Unmarshal(b, &keys))
	for _, field := range medscan.ReportFields {
		assert.Contains(t, keys, field)
	}
}

func TestParseFinalReport_Wrapped(t *testing.T) {
	res := ParseFinalReport(`{"report": {"medicine_name": "Brufen", "purpose": "Inflammation", "storage": {"temperature": "below 30C", "keep_dry": true}}}`)
	require.True(t, res.Structured())
	assert.Equal(t, "Brufen", res.Report.MedicineName)
	assert.Equal(t, "keep_dry: true; temperature: below 30C", res.Report.Storage)
	assert.Empty(t, res.Report.SideEffects)
}

func TestParseFinalReport_FallbackKeepsText(t *testing.T) {
	raw := "  I could not format this, but it is ibuprofen.  "
	res := ParseFinalReport(raw)
	assert.False(t, res.Structured())
	assert.Equal(t, "I could not format this, but it is ibuprofen.", res.Raw)
}

func TestParseFinalReport_UnusableObjectFallsBack(t *testing.T) {
	raw := `{"storage": "dry"}`
	res := ParseFinalReport(raw)
	assert.False(t, res.Structured())
	assert.Nil(t, res.Report)
	assert.Equal(t, raw, res.Raw)
	assert.ErrorContains(t, res.Err, "no medicine name or packaging")
}

func TestCoerceString(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"  x ", "x"},
		{2.0, "2"},
		{2.5, "2.5"},
		{true, "true"},
		{[]any{"a", "", 3.0}, "a; 3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, coerceString(tt.in))
	}
}
