package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"medscan"
	"medscan/coordinator"
	"medscan/imagesource"
)

// Request is the inbound body. Image is inline base64, a data URL, or an s3:// / azblob:// reference.
type Request struct {
	Image     string `json:"image_data"`
	TextQuery string `json:"text_query"`
}

type imageResolver interface {
	Resolve(ctx context.Context, ref string) (*medscan.Image, error)
}

// Service turns an authenticated request body into a pipeline run. Shared by the gin and Lambda handlers.
type Service struct {
	pipeline medscan.Pipeline
	auth     Authenticator
	images   imageResolver
}

func NewService(pipeline medscan.Pipeline, auth Authenticator, images imageResolver) *Service {
	if auth == nil {
		auth = HeaderAuthenticator{}
	}
	return &Service{pipeline: pipeline, auth: auth, images: images}
}

// Analyze authenticates, decodes and runs the request, returning the HTTP status and the result body.
func (s *Service) Analyze(ctx context.Context, h http.Header, body []byte) (int, medscan.PipelineResult) {
	userID, err := s.auth.Authenticate(h)
	if err != nil {
		slog.Warn("API: Rejected unauthenticated request", "error", err)
		return http.StatusUnauthorized, coordinator.Failure(medscan.StatusError, "Unauthorized.", nil)
	}

	var in Request
	if err := json.Unmarshal(body, &in); err != nil {
		return http.StatusBadRequest, coordinator.Failure(medscan.StatusError, fmt.Sprintf("Invalid request body: %v", err), nil)
	}

	req, err := s.decode(ctx, in, userID)
	if err != nil {
		slog.Warn("API: Invalid analysis request", "user_id", userID, "error", err)
		return StatusCode(err), coordinator.Failure(medscan.StatusFor(err), err.Error(), nil)
	}

	res := s.pipeline.Run(ctx, req)
	slog.Info("API: Analysis finished", "user_id", userID, "status", res.Status)
	return HTTPStatus(res.Status), res
}

func (s *Service) decode(ctx context.Context, in Request, userID string) (medscan.AnalysisRequest, error) {
	req := medscan.AnalysisRequest{
		TextQuery: strings.TrimSpace(in.TextQuery),
		UserID:    userID,
	}

	var err error
	switch {
	case imagesource.IsReference(in.Image):
		if s.images == nil {
			return req, fmt.Errorf("%w: image references are not enabled", medscan.ErrInvalidRequest)
		}
		req.Image, err = s.images.Resolve(ctx, in.Image)
	default:
		req.Image, err = imagesource.Decode(in.Image)
	}
	if err != nil {
		return req, err
	}
	return req, req.Validate()
}

// HTTPStatus maps a pipeline status to the response code.
func HTTPStatus(s medscan.Status) int {
	switch s {
	case medscan.StatusSuccess:
		return http.StatusOK
	case medscan.StatusInsufficientTokens:
		return http.StatusPaymentRequired
	case medscan.StatusServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// StatusCode maps a request-level error to the response code.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, medscan.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return HTTPStatus(medscan.StatusFor(err))
	}
}
