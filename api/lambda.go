package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"medscan"
	"medscan/coordinator"
)

// LambdaHandler adapts the service to API Gateway proxy events.
func LambdaHandler(svc *Service) func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		h := make(http.Header, len(req.Headers))
		for k, v := range req.Headers {
			h.Set(k, v)
		}

		body := []byte(req.Body)
		if req.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(req.Body)
			if err != nil {
				return proxyResponse(http.StatusBadRequest, coordinator.Failure(medscan.StatusError, "Request body is not valid base64.", nil)), nil
			}
			body = decoded
		}

		code, res := svc.Analyze(ctx, h, body)
		return proxyResponse(code, res), nil
	}
}

func proxyResponse(code int, res medscan.PipelineResult) events.APIGatewayProxyResponse {
	body, err := json.Marshal(res)
	if err != nil {
		code = http.StatusInternalServerError
		body = []byte(`{"status":"ERROR","data":null,"message":"Failed to encode response.","tokens_remaining":null}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: code,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
