package coordinator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medscan"
	"medscan/parse"
	"medscan/registry"
)

func TestNormalize(t *testing.T) {
	remaining := 12
	record := &medscan.RegistryRecord{ID: "7", ProductName: "Brufen 400mg"}

	tests := []struct {
		name       string
		report     parse.ReportResult
		outcome    registry.Outcome
		notes      []string
		wantText   string
		wantNote   []string
		wantNoNote bool
		wantPath   string
		wantName   string
	}{
		{
			name:       "structured report with registry hit",
			report:     parse.ParseFinalReport(`{"medicine_name":"Brufen","disclaimer":"model text"}`),
			outcome:    registry.Found(record, registry.StrategyName),
			wantNoNote: true,
			wantPath:   PathAugmented,
			wantName:   "Brufen",
		},
		{
			name:     "raw fallback",
			report:   parse.ParseFinalReport("just prose"),
			outcome:  registry.NotFound(""),
			wantText: "just prose",
			wantNote: []string{noteRawFallback, noteUnverified},
			wantPath: PathAugmented,
		},
		{
			name:       "direct answer",
			report:     parse.ReportResult{Raw: "direct"},
			outcome:    registry.NoSignal(""),
			wantText:   "direct",
			wantNoNote: true,
			wantPath:   PathDirect,
		},
		{
			name:     "empty raw answer",
			report:   parse.ReportResult{},
			outcome:  registry.ToolError("bad"),
			wantNote: []string{noteRawFallback, noteEmptyAnswer, noteUnreadable},
			wantPath: PathAugmented,
		},
		{
			name:     "extra notes appended",
			report:   parse.ParseFinalReport(`{"medicine_name":"X"}`),
			outcome:  registry.InvalidSignal(""),
			notes:    []string{noteLowConfidence, " "},
			wantNote: []string{noteUnreadable, noteLowConfidence},
			wantPath: PathAugmented,
			wantName: "X",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Normalize(tt.report, tt.outcome, &remaining, tt.notes...)

			assert.Equal(t, medscan.StatusSuccess, res.Status)
			require.NotNil(t, res.Data)
			assert.Equal(t, medscan.Disclaimer, res.Data.Disclaimer)
			assert.Equal(t, tt.wantText, res.Data.Text)
			assert.Equal(t, tt.wantName, res.Data.MedicineName)
			if tt.wantNoNote {
				assert.Empty(t, res.Data.Note)
			}
			for _, n := range tt.wantNote {
				assert.Contains(t, res.Data.Note, n)
			}
			assert.Equal(t, &remaining, res.TokensRemaining)

			require.NotNil(t, res.Metadata)
			assert.Equal(t, tt.wantPath, res.Metadata.Path)
			assert.Equal(t, tt.outcome.Kind.String(), res.Metadata.RegistryStatus)
			assert.Equal(t, tt.outcome.Found(), res.Metadata.DatabaseHit)

			b, err := json.Marshal(res)
			require.NoError(t, err)
			var doc struct {
				Data map[string]any `json:"data"`
			}
			require.NoError(t, json.Unmarshal(b, &doc))
			for _, field := range medscan.ReportFields {
				assert.Contains(t, doc.Data, field)
			}
		})
	}
}

func TestNormalize_RecordIsCopied(t *testing.T) {
	record := &medscan.RegistryRecord{ID: "7", ProductName: "Brufen 400mg"}
	res := Normalize(parse.ReportResult{Raw: "x"}, registry.Found(record, registry.StrategyFuzzy), nil)

	require.NotNil(t, res.Metadata.Record)
	assert.Equal(t, "fuzzy", res.Metadata.RegistryMatch)
	record.ProductName = "changed"
	assert.Equal(t, "Brufen 400mg", res.Metadata.Record.ProductName)
	assert.Nil(t, res.TokensRemaining)
}

func TestFailure(t *testing.T) {
	zero := 0
	res := Failure(medscan.StatusInsufficientTokens, "no tokens", &zero)
	assert.Equal(t, medscan.StatusInsufficientTokens, res.Status)
	assert.Nil(t, res.Data)

	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"INSUFFICIENT_TOKENS","data":null,"message":"no tokens","tokens_remaining":0}`, string(b))
}
