package medscan

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Disclaimer is attached to every report the pipeline returns.
const Disclaimer = "This information is sourced from medical databases and packaging details. For informational purposes only. Not medical advice. Consult a doctor or pharmacist before use."

// DefaultLowConfidenceThreshold flags tool signals the model was unsure about.
const DefaultLowConfidenceThreshold = 0.7

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Notifier posts operational alerts (billing anomalies) to a chat channel.
type Notifier interface {
	PostMessage(ctx context.Context, channel string, message string) error
}

// VisionModel is the contract the pipeline expects from a vision-capable language model:
// prompt text plus an optional inlined image in, raw text out.
type VisionModel interface {
	Generate(ctx context.Context, prompt string, image *Image) (string, error)
}

// Pipeline runs one analysis request to a terminal result.
type Pipeline interface {
	Run(ctx context.Context, req AnalysisRequest) PipelineResult
}

// Image is raw image bytes plus their media type (image/png, image/jpeg, ...).
type Image struct {
	Data     []byte
	MIMEType string
}

// AnalysisRequest is constructed once per invocation and never mutated.
type AnalysisRequest struct {
	Image     *Image
	TextQuery string
	UserID    string
}

// HasImage reports whether the request carries image bytes.
func (r AnalysisRequest) HasImage() bool {
	return r.Image != nil && len(r.Image.Data) > 0
}

// Validate checks that the request has a user and at least one of image or text query.
func (r AnalysisRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if !r.HasImage() && strings.TrimSpace(r.TextQuery) == "" {
		return fmt.Errorf("%w: an image or a text query is required", ErrInvalidRequest)
	}
	return nil
}

// ToolSignal is what the first model call extracted from the packaging.
type ToolSignal struct {
	ProductName          string  `json:"product_name"`
	ActiveIngredient     string  `json:"active_ingredient,omitempty"`
	Strength             string  `json:"strength,omitempty"`
	RegistrationNumber   string  `json:"registration_number,omitempty"`
	PackagingDescription string  `json:"packaging_description,omitempty"`
	Confidence           float64 `json:"confidence"`
	AllVisibleText       string  `json:"all_visible_text,omitempty"`
}

// LowConfidence reports whether the signal's self-reported confidence is below threshold.
func (s ToolSignal) LowConfidence(threshold float64) bool {
	return s.Confidence < threshold
}

// RegistryRecord is a verified row from the medicine registry.
type RegistryRecord struct {
	ID                 string `json:"id"`
	RegistrationNumber string `json:"registration_number"`
	ProductName        string `json:"product_name"`
	ActiveIngredient   string `json:"active_ingredient"`
	GenericName        string `json:"generic_name"`
	Manufacturer       string `json:"manufacturer"`
	Holder             string `json:"holder"`
	Status             string `json:"status"`
}

// MedicineReport is the fixed report shape clients depend on. Every key is always present.
type MedicineReport struct {
	PackagingDetected  string `json:"packaging_detected"`
	MedicineName       string `json:"medicine_name"`
	GenericName        string `json:"generic_name"`
	Purpose            string `json:"purpose"`
	DosageInstructions string `json:"dosage_instructions"`
	SideEffects        string `json:"side_effects"`
	AllergyWarning     string `json:"allergy_warning"`
	DrugInteractions   string `json:"drug_interactions"`
	SafetyNotes        string `json:"safety_notes"`
	Storage            string `json:"storage"`
	Disclaimer         string `json:"disclaimer"`
}

// ReportFields lists the ten report keys in their canonical order.
var ReportFields = []string{
	"packaging_detected",
	"medicine_name",
	"generic_name",
	"purpose",
	"dosage_instructions",
	"side_effects",
	"allergy_warning",
	"drug_interactions",
	"safety_notes",
	"storage",
}

// IsValid checks whether the model produced at least a medicine name or packaging description.
func (r *MedicineReport) IsValid() bool {
	return strings.TrimSpace(r.MedicineName) != "" || strings.TrimSpace(r.PackagingDetected) != ""
}

// ReportData is the API payload: the report plus the unstructured fallback fields.
type ReportData struct {
	MedicineReport
	Text string `json:"text,omitempty"`
	Note string `json:"note,omitempty"`
}

type Status string

const (
	StatusSuccess            Status = "SUCCESS"
	StatusError              Status = "ERROR"
	StatusInsufficientTokens Status = "INSUFFICIENT_TOKENS"
	StatusServiceUnavailable Status = "SERVICE_UNAVAILABLE"
)

// PipelineResult is the sole return value of a pipeline run.
type PipelineResult struct {
	Status          Status          `json:"status"`
	Data            *ReportData     `json:"data"`
	Message         string          `json:"message,omitempty"`
	TokensRemaining *int            `json:"tokens_remaining"`
	Metadata        *ResultMetadata `json:"metadata,omitempty"`
}

// ResultMetadata carries observability details about how the result was produced.
type ResultMetadata struct {
	RunID          string          `json:"run_id"`
	Path           string          `json:"path,omitempty"`
	RegistryStatus string          `json:"registry_status,omitempty"`
	RegistryMatch  string          `json:"registry_match,omitempty"`
	DatabaseHit    bool            `json:"database_hit"`
	Confidence     float64         `json:"confidence,omitempty"`
	LowConfidence  bool            `json:"low_confidence,omitempty"`
	Record         *RegistryRecord `json:"record,omitempty"`
}
