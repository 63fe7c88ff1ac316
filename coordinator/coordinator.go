package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"medscan"
	"medscan/ledger"
	"medscan/parse"
	"medscan/prompt"
	"medscan/registry"
)

// Stage names used in run logs, spans and metrics.
const (
	StageTokenCheck     = "TOKEN_CHECK"
	StageFirstCall      = "FIRST_CALL"
	StageSignalParse    = "SIGNAL_PARSE"
	StageRegistryLookup = "REGISTRY_LOOKUP"
	StageSecondCall     = "SECOND_CALL"
	StageFinalParse     = "FINAL_PARSE"
	StageTokenDebit     = "TOKEN_DEBIT"
)

// User-facing messages for terminal failures.
const (
	msgInsufficientTokens = "You have no analysis tokens left."
	msgServiceUnavailable = "The service is temporarily unavailable. Please try again shortly."
	msgAnalysisFailed     = "The analysis could not be completed. Please try again."
)

const (
	defaultModelTimeout = 45 * time.Second
	alertTimeout        = 5 * time.Second
)

type tokenLedger interface {
	Reserve(ctx context.Context, userID string) (*ledger.Hold, ledger.Availability)
}

type registryLookup interface {
	Lookup(ctx context.Context, name, regNumber, ingredient string) registry.Outcome
}

type Options struct {
	// ModelTimeout bounds each model call. A call that runs out of time ends the run as SERVICE_UNAVAILABLE.
	ModelTimeout           time.Duration
	LowConfidenceThreshold float64
	Language               string

	// Notifier, when set, receives an alert on BillingChannel whenever a delivered run could not be charged.
	Notifier       medscan.Notifier
	BillingChannel string

	Logger medscan.RunLogger
	Tracer trace.Tracer
	Meter  metric.Meter
}

// Coordinator runs the two-call identification pipeline. It is safe for concurrent use;
// the ledger is the only state shared between runs.
type Coordinator struct {
	model    medscan.VisionModel
	ledger   tokenLedger
	registry registryLookup
	opts     Options

	tracer  trace.Tracer
	metrics instruments
}

type instruments struct {
	runs          metric.Int64Counter
	modelDuration metric.Float64Histogram
	lookups       metric.Int64Counter
	lowConfidence metric.Int64Counter
	debitFailures metric.Int64Counter
}

func New(model medscan.VisionModel, tokens tokenLedger, lookup registryLookup, opts Options) *Coordinator {
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = defaultModelTimeout
	}
	if opts.LowConfidenceThreshold <= 0 {
		opts.LowConfidenceThreshold = medscan.DefaultLowConfidenceThreshold
	}
	if opts.Logger == nil {
		opts.Logger = medscan.NewNoOpRunLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(medscan.TracerName)
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter(medscan.MeterName)
	}

	c := &Coordinator{
		model:    model,
		ledger:   tokens,
		registry: lookup,
		opts:     opts,
		tracer:   opts.Tracer,
	}

	m := opts.Meter
	c.metrics.runs, _ = m.Int64Counter("pipeline_runs_total",
		metric.WithDescription("Total number of pipeline runs by terminal status"))
	c.metrics.modelDuration, _ = m.Float64Histogram("model_call_duration_seconds",
		metric.WithDescription("Duration of model calls in seconds"))
	c.metrics.lookups, _ = m.Int64Counter("registry_lookups_total",
		metric.WithDescription("Total number of registry lookups by outcome"))
	c.metrics.lowConfidence, _ = m.Int64Counter("low_confidence_signals_total",
		metric.WithDescription("Total number of tool signals below the confidence threshold"))
	c.metrics.debitFailures, _ = m.Int64Counter("token_debit_failures_total",
		metric.WithDescription("Total number of successful runs that could not be charged"))

	return c
}

// Run takes one request to a terminal result. It never returns an error: every failure is a status.
func (c *Coordinator) Run(ctx context.Context, req medscan.AnalysisRequest) medscan.PipelineResult {
	runID := uuid.NewString()

	ctx, span := c.tracer.Start(ctx, "Coordinator.Run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Bool("has_image", req.HasImage()),
	))
	defer span.End()

	start := time.Now()
	slog.Info("COORDINATOR: Starting run", "run_id", runID, "user_id", req.UserID, "has_image", req.HasImage())

	res := c.run(ctx, runID, req)
	if res.Metadata == nil {
		res.Metadata = &medscan.ResultMetadata{}
	}
	res.Metadata.RunID = runID

	c.metrics.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(res.Status))))
	span.SetAttributes(attribute.String("status", string(res.Status)))
	if res.Status != medscan.StatusSuccess {
		span.SetStatus(codes.Error, string(res.Status))
	}

	slog.Info("COORDINATOR: Run finished",
		"run_id", runID,
		"status", res.Status,
		"path", res.Metadata.Path,
		"registry_status", res.Metadata.RegistryStatus,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}

func (c *Coordinator) run(ctx context.Context, runID string, req medscan.AnalysisRequest) medscan.PipelineResult {
	if err := req.Validate(); err != nil {
		slog.Warn("COORDINATOR: Rejected invalid request", "run_id", runID, "error", err)
		return Failure(medscan.StatusError, err.Error(), nil)
	}

	// 1) TOKEN_CHECK: hold one token; nothing is charged until the run succeeds.
	hold, avail := c.ledger.Reserve(ctx, req.UserID)
	defer hold.Release()
	c.logStage(runID, StageTokenCheck, "", "", map[string]any{
		"reason":  avail.Reason,
		"balance": avail.Balance,
	}, avail.Err)

	switch avail.Reason {
	case ledger.ReasonSufficient:
	case ledger.ReasonInsufficient:
		slog.Info("COORDINATOR: Insufficient tokens", "run_id", runID, "user_id", req.UserID, "balance", avail.Balance)
		return Failure(medscan.StatusInsufficientTokens, msgInsufficientTokens, intPtr(avail.Balance))
	default:
		slog.Error("COORDINATOR: Token ledger unavailable", "run_id", runID, "error", avail.Err)
		return Failure(medscan.StatusServiceUnavailable, msgServiceUnavailable, nil)
	}

	// 2) FIRST_CALL
	initial, err := prompt.Build(prompt.StageInitial, prompt.Context{
		TextQuery: req.TextQuery,
		HasImage:  req.HasImage(),
		Language:  c.opts.Language,
	})
	if err != nil {
		slog.Error("COORDINATOR: Failed to build initial prompt", "run_id", runID, "error", err)
		return Failure(medscan.StatusError, msgAnalysisFailed, nil)
	}

	first, err := c.generate(ctx, runID, StageFirstCall, initial, req.Image)
	if err != nil {
		return c.modelFailure(runID, StageFirstCall, err)
	}

	// 3) SIGNAL_PARSE
	sig := parse.ParseToolSignal(first)
	details := map[string]any{"kind": sig.Kind.String(), "source": sig.Source.String()}
	if sig.Signal != nil {
		details["product_name"] = sig.Signal.ProductName
		details["confidence"] = sig.Signal.Confidence
	}
	c.logStage(runID, StageSignalParse, "", "", details, sig.Err)

	var (
		outcome registry.Outcome
		notes   []string
		meta    medscan.ResultMetadata
	)

	switch sig.Kind {
	case parse.SignalNone:
		// The model answered directly: the first response is the result.
		slog.Info("COORDINATOR: No tool call; returning direct answer", "run_id", runID, "text_len", len(sig.Text))
		outcome = registry.NoSignal("model answered directly")
		return c.finish(ctx, runID, req.UserID, hold, parse.ReportResult{Source: parse.SourceNone, Raw: sig.Text}, outcome, meta, nil)

	case parse.SignalValid:
		meta.Confidence = sig.Signal.Confidence
		if sig.Signal.LowConfidence(c.opts.LowConfidenceThreshold) {
			meta.LowConfidence = true
			notes = append(notes, noteLowConfidence)
			c.metrics.lowConfidence.Add(ctx, 1)
			slog.Warn("COORDINATOR: Low confidence tool signal",
				"run_id", runID,
				"product_name", sig.Signal.ProductName,
				"confidence", sig.Signal.Confidence,
				"threshold", c.opts.LowConfidenceThreshold,
			)
		}
		// 4) REGISTRY_LOOKUP
		outcome = c.lookup(ctx, runID, sig.Signal)

	case parse.SignalInvalid:
		slog.Warn("COORDINATOR: Invalid tool signal; skipping lookup", "run_id", runID, "error", sig.Err)
		outcome = registry.InvalidSignal(errMessage(sig.Err))

	case parse.SignalToolError:
		slog.Warn("COORDINATOR: Tool signal did not parse; skipping lookup", "run_id", runID, "error", sig.Err)
		outcome = registry.ToolError(errMessage(sig.Err))

	default:
		slog.Error("COORDINATOR: Unknown signal kind", "run_id", runID, "kind", sig.Kind)
		outcome = registry.ToolError(fmt.Sprintf("unknown signal kind %s", sig.Kind))
	}

	// 5) SECOND_CALL
	augmented, err := prompt.Build(prompt.StageAugmented, prompt.Context{
		TextQuery: req.TextQuery,
		HasImage:  req.HasImage(),
		Language:  c.opts.Language,
		Signal:    sig.Signal,
		Outcome:   outcome,
	})
	if err != nil {
		slog.Error("COORDINATOR: Failed to build augmented prompt", "run_id", runID, "error", err)
		return Failure(medscan.StatusError, msgAnalysisFailed, nil)
	}

	second, err := c.generate(ctx, runID, StageSecondCall, augmented, req.Image)
	if err != nil {
		return c.modelFailure(runID, StageSecondCall, err)
	}

	// 6) FINAL_PARSE: never fatal.
	report := parse.ParseFinalReport(second)
	c.logStage(runID, StageFinalParse, "", "", map[string]any{
		"structured": report.Structured(),
		"source":     report.Source.String(),
	}, report.Err)
	if !report.Structured() {
		slog.Warn("COORDINATOR: Report did not parse; falling back to raw text", "run_id", runID, "error", report.Err)
	}

	return c.finish(ctx, runID, req.UserID, hold, report, outcome, meta, notes)
}

// finish is TOKEN_DEBIT plus normalization, shared by the direct and augmented paths.
func (c *Coordinator) finish(ctx context.Context, runID, userID string, hold *ledger.Hold, report parse.ReportResult, outcome registry.Outcome, meta medscan.ResultMetadata, notes []string) medscan.PipelineResult {
	var remaining *int

	// 7) TOKEN_DEBIT
	n, err := hold.Commit(ctx)
	c.logStage(runID, StageTokenDebit, "", "", map[string]any{"remaining": n}, err)
	if err != nil {
		c.debitFailed(ctx, runID, userID, err)
	} else {
		remaining = intPtr(n)
	}

	res := Normalize(report, outcome, remaining, notes...)
	if res.Metadata != nil {
		res.Metadata.Confidence = meta.Confidence
		res.Metadata.LowConfidence = meta.LowConfidence
	}
	return res
}

// debitFailed records a delivered run that could not be charged. The result still goes out.
func (c *Coordinator) debitFailed(ctx context.Context, runID, userID string, err error) {
	c.metrics.debitFailures.Add(ctx, 1)
	slog.Error("COORDINATOR: Token debit failed after delivered analysis", "run_id", runID, "user_id", userID, "error", err)

	if c.opts.Notifier == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()
	msg := fmt.Sprintf(":warning: medscan billing anomaly: run %s for user %s was delivered but not charged: %v", runID, userID, err)
	if nerr := c.opts.Notifier.PostMessage(actx, c.opts.BillingChannel, msg); nerr != nil {
		slog.Error("COORDINATOR: Failed to post billing alert", "run_id", runID, "error", nerr)
	}
}

func (c *Coordinator) lookup(ctx context.Context, runID string, sig *medscan.ToolSignal) registry.Outcome {
	ctx, span := c.tracer.Start(ctx, "Coordinator.RegistryLookup")
	defer span.End()

	outcome := c.registry.Lookup(ctx, sig.ProductName, sig.RegistrationNumber, sig.ActiveIngredient)
	c.metrics.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome.Kind.String())))
	span.SetAttributes(
		attribute.String("outcome", outcome.Kind.String()),
		attribute.String("strategy", string(outcome.Strategy)),
	)

	details := map[string]any{
		"product_name":        sig.ProductName,
		"registration_number": sig.RegistrationNumber,
		"active_ingredient":   sig.ActiveIngredient,
		"outcome":             outcome.Kind.String(),
	}
	if outcome.Found() {
		details["record_id"] = outcome.Record.ID
		details["strategy"] = string(outcome.Strategy)
	}
	var lerr error
	if outcome.Kind == registry.KindToolError {
		lerr = errors.New(outcome.Message)
	}
	c.logStage(runID, StageRegistryLookup, "", "", details, lerr)

	slog.Info("COORDINATOR: Registry lookup finished",
		"run_id", runID,
		"outcome", outcome.Kind,
		"strategy", outcome.Strategy,
	)
	return outcome
}

// generate calls the model under the per-call timeout. Blank output counts as a failed call.
func (c *Coordinator) generate(ctx context.Context, runID, stage, p string, image *medscan.Image) (string, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator."+stage)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, c.opts.ModelTimeout)
	defer cancel()

	start := time.Now()
	out, err := c.model.Generate(callCtx, p, image)
	elapsed := time.Since(start)
	c.metrics.modelDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))

	if err == nil && strings.TrimSpace(out) == "" {
		err = fmt.Errorf("%w: empty model response", medscan.ErrAnalysis)
	}
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w: model call timed out after %s: %w", medscan.ErrServiceUnavailable, c.opts.ModelTimeout, err)
	}

	c.logStage(runID, stage, p, out, map[string]any{"duration_ms": elapsed.Milliseconds()}, err)
	if err != nil {
		span.SetStatus(codes.Error, "model call failed")
		span.RecordError(err)
		return "", err
	}

	slog.Info("COORDINATOR: Model response received",
		"run_id", runID,
		"stage", stage,
		"content_length", len(out),
		"response_time_ms", elapsed.Milliseconds(),
	)
	return out, nil
}

func (c *Coordinator) modelFailure(runID, stage string, err error) medscan.PipelineResult {
	status := medscan.StatusFor(err)
	if status == medscan.StatusSuccess || status == medscan.StatusInsufficientTokens {
		status = medscan.StatusError
	}
	slog.Error("COORDINATOR: Model call failed", "run_id", runID, "stage", stage, "status", status, "error", err)

	msg := msgAnalysisFailed
	if status == medscan.StatusServiceUnavailable {
		msg = msgServiceUnavailable
	}
	return Failure(status, msg, nil)
}

func (c *Coordinator) logStage(runID, stage, input, output string, details map[string]any, err error) {
	entry := medscan.StageLog{
		RunID:       runID,
		Stage:       stage,
		Timestamp:   time.Now(),
		ModelInput:  input,
		ModelOutput: output,
		Details:     details,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if lerr := c.opts.Logger.LogStage(entry); lerr != nil {
		slog.Warn("COORDINATOR: Failed to log stage", "run_id", runID, "stage", stage, "error", lerr)
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func intPtr(n int) *int { return &n }
