// Package provider resubmits failed transactions to the interface that
// originally rejected them.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/exception-collector/internal/domain"
)

const (
	defaultResubmitTimeout = 10 * time.Second
	maxStoredBodyLength    = 2000
)

// Resubmitter is the outbound retry port.
type Resubmitter interface {
	Resubmit(ctx context.Context, req ResubmitRequest) (*ResubmitResponse, error)
}

type ResubmitRequest struct {
	TransactionID   string               `json:"transactionId"`
	AttemptNumber   int                  `json:"attemptNumber"`
	InterfaceType   domain.InterfaceType `json:"interfaceType"`
	Operation       string               `json:"operation,omitempty"`
	ExternalID      string               `json:"externalId,omitempty"`
	CorrelationID   string               `json:"correlationId,omitempty"`
	OriginalPayload json.RawMessage      `json:"originalPayload,omitempty"`
}

func (r ResubmitRequest) Validate() error {
	if strings.TrimSpace(r.TransactionID) == "" {
		return fmt.Errorf("transactionId is required")
	}
	if !r.InterfaceType.IsValid() {
		return fmt.Errorf("invalid interface type %q", r.InterfaceType)
	}
	return nil
}

// ResubmitResponse stores the interface answer for the retry attempt.
type ResubmitResponse struct {
	StatusCode int
	Body       string
	RequestID  string
}

// HTTPResubmitter posts to {baseURL}/api/v1/{interface}/retry.
type HTTPResubmitter struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPResubmitter(baseURL string) (*HTTPResubmitter, error) {
	client := resty.New()
	client.SetTimeout(defaultResubmitTimeout)
	client.SetRetryCount(0)

	return NewHTTPResubmitterWithClient(baseURL, client)
}

func NewHTTPResubmitterWithClient(baseURL string, client *resty.Client) (*HTTPResubmitter, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("resubmit base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid resubmit base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultResubmitTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPResubmitter{
		client:  client,
		baseURL: trimmed,
	}, nil
}

// Endpoint returns the retry URL of an interface.
func (r *HTTPResubmitter) Endpoint(interfaceType domain.InterfaceType) string {
	return fmt.Sprintf("%s/api/v1/%s/retry", r.baseURL, strings.ToLower(interfaceType.String()))
}

func (r *HTTPResubmitter) Resubmit(ctx context.Context, req ResubmitRequest) (*ResubmitResponse, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("resubmitter is not initialized")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resubmit request: %w", err)
	}

	request := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Retry-Attempt", fmt.Sprint(req.AttemptNumber)).
		SetBody(req)
	if req.CorrelationID != "" {
		request.SetHeader("X-Correlation-ID", req.CorrelationID)
	}

	response, err := request.Post(r.Endpoint(req.InterfaceType))
	if err != nil {
		return nil, &ProviderError{
			InterfaceType: req.InterfaceType,
			Message:       "resubmit request failed",
			Transient:     !errors.Is(err, context.Canceled),
			Cause:         err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			InterfaceType: req.InterfaceType,
			Message:       "interface returned empty response",
			Transient:     true,
		}
	}

	statusCode := response.StatusCode()
	body := truncate(strings.TrimSpace(response.String()), maxStoredBodyLength)

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &ResubmitResponse{
			StatusCode: statusCode,
			Body:       body,
			RequestID:  requestID(response),
		}, nil
	}

	return nil, &ProviderError{
		InterfaceType: req.InterfaceType,
		StatusCode:    statusCode,
		Message:       fmt.Sprintf("interface returned status %d", statusCode),
		Body:          body,
		Transient:     isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func requestID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
