package coordinator

import (
	"fmt"
	"log/slog"
	"strings"

	"medscan"
	"medscan/parse"
	"medscan/registry"
)

const (
	PathDirect    = "direct"
	PathAugmented = "augmented"
)

// Notes shown to the user when the answer is degraded.
const (
	noteRawFallback    = "The model's answer could not be structured; showing it as text."
	noteEmptyAnswer    = "The model returned an empty answer."
	noteUnverified     = "This medicine could not be verified against the registry; details are based on general knowledge."
	noteUnreadable     = "The packaging could not be read reliably; details may be incomplete."
	noteLowConfidence  = "The product name was hard to read; please check it against the packaging."
	noteNormalizeError = "The answer could not be formatted; showing it as text."
)

// Normalize packages the final report, or its raw-text fallback, with the registry outcome and the
// post-debit balance. It never panics: any shape it cannot handle becomes the text fallback.
// Extra notes are appended to the data note.
func Normalize(report parse.ReportResult, outcome registry.Outcome, tokensRemaining *int, notes ...string) (res medscan.PipelineResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("COORDINATOR: Normalize recovered from panic", "panic", fmt.Sprint(r))
			res = medscan.PipelineResult{
				Status: medscan.StatusSuccess,
				Data: &medscan.ReportData{
					MedicineReport: medscan.MedicineReport{Disclaimer: medscan.Disclaimer},
					Text:           report.Raw,
					Note:           noteNormalizeError,
				},
				TokensRemaining: tokensRemaining,
				Metadata:        &medscan.ResultMetadata{RegistryStatus: outcome.Kind.String()},
			}
		}
	}()

	data := &medscan.ReportData{}
	var dataNotes []string

	direct := outcome.Kind == registry.KindNoSignal
	switch {
	case report.Structured():
		data.MedicineReport = *report.Report
	case direct:
		data.Text = report.Raw
	default:
		data.Text = report.Raw
		dataNotes = append(dataNotes, noteRawFallback)
	}
	if !report.Structured() && strings.TrimSpace(report.Raw) == "" {
		dataNotes = append(dataNotes, noteEmptyAnswer)
	}
	// the disclaimer is never left to the model
	data.Disclaimer = medscan.Disclaimer

	switch outcome.Kind {
	case registry.KindNotFound:
		dataNotes = append(dataNotes, noteUnverified)
	case registry.KindToolError, registry.KindInvalidSignal:
		dataNotes = append(dataNotes, noteUnreadable)
	}
	for _, n := range notes {
		if strings.TrimSpace(n) != "" {
			dataNotes = append(dataNotes, n)
		}
	}
	data.Note = strings.Join(dataNotes, " ")

	meta := &medscan.ResultMetadata{
		Path:           PathAugmented,
		RegistryStatus: outcome.Kind.String(),
		DatabaseHit:    outcome.Found(),
	}
	if direct {
		meta.Path = PathDirect
	}
	if outcome.Found() {
		rec := *outcome.Record
		meta.Record = &rec
		meta.RegistryMatch = string(outcome.Strategy)
	}

	return medscan.PipelineResult{
		Status:          medscan.StatusSuccess,
		Data:            data,
		TokensRemaining: tokensRemaining,
		Metadata:        meta,
	}
}

// Failure builds a terminal non-success result. No report data is attached.
func Failure(status medscan.Status, message string, tokensRemaining *int) medscan.PipelineResult {
	return medscan.PipelineResult{
		Status:          status,
		Message:         message,
		TokensRemaining: tokensRemaining,
	}
}
