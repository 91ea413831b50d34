package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/exception-collector/internal/domain"
	"github.com/kursadbilgin/exception-collector/internal/mutation"
	"github.com/kursadbilgin/exception-collector/internal/repository"
)

const (
	headerUser  = "X-User"
	headerRoles = "X-Roles"
)

type ExceptionReader interface {
	Get(ctx context.Context, transactionID string) (*domain.InterfaceException, error)
	List(ctx context.Context, params repository.ListParams) (*repository.Page, error)
}

// Mutator runs validated mutations. Every outcome, rejections included, is
// reported in the returned result rather than as an error.
type Mutator interface {
	RetryException(ctx context.Context, in mutation.RetryInput, by domain.Principal) mutation.RetryExceptionResult
	AcknowledgeException(ctx context.Context, in mutation.AcknowledgeInput, by domain.Principal) mutation.AcknowledgeExceptionResult
	ResolveException(ctx context.Context, in mutation.ResolveInput, by domain.Principal) mutation.ResolveExceptionResult
	CancelRetry(ctx context.Context, in mutation.CancelRetryInput, by domain.Principal) mutation.CancelRetryResult
	BulkRetry(ctx context.Context, in mutation.BulkRetryInput, by domain.Principal) mutation.BulkRetryResult
}

type ExceptionHandler struct {
	reader  ExceptionReader
	mutator Mutator
}

func NewExceptionHandler(reader ExceptionReader, mutator Mutator) (*ExceptionHandler, error) {
	if reader == nil {
		return nil, fmt.Errorf("exception reader is required")
	}
	if mutator == nil {
		return nil, fmt.Errorf("mutator is required")
	}
	return &ExceptionHandler{reader: reader, mutator: mutator}, nil
}

func RegisterExceptionRoutes(router fiber.Router, reader ExceptionReader, mutator Mutator) error {
	h, err := NewExceptionHandler(reader, mutator)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/exceptions", h.ListExceptions)
	v1.Post("/exceptions/bulk-retry", h.BulkRetry)
	v1.Get("/exceptions/:transactionId", h.GetException)
	v1.Post("/exceptions/:transactionId/retry", h.RetryException)
	v1.Post("/exceptions/:transactionId/acknowledge", h.AcknowledgeException)
	v1.Post("/exceptions/:transactionId/resolve", h.ResolveException)
	v1.Post("/exceptions/:transactionId/cancel-retry", h.CancelRetry)

	return nil
}

type retryRequest struct {
	Priority string `json:"priority"`
	Reason   string `json:"reason"`
}

type acknowledgeRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

type resolveRequest struct {
	ResolutionMethod string `json:"resolutionMethod"`
	ResolutionNotes  string `json:"resolutionNotes"`
}

type cancelRetryRequest struct {
	Reason string `json:"reason"`
}

type bulkRetryRequest struct {
	TransactionIDs []string `json:"transactionIds"`
	Priority       string   `json:"priority"`
	Reason         string   `json:"reason"`
}

type exceptionResponse struct {
	ID                   int64                    `json:"id"`
	TransactionID        string                   `json:"transactionId"`
	InterfaceType        domain.InterfaceType     `json:"interfaceType"`
	Operation            string                   `json:"operation,omitempty"`
	ExternalID           string                   `json:"externalId,omitempty"`
	ExceptionReason      string                   `json:"exceptionReason"`
	Status               domain.ExceptionStatus   `json:"status"`
	Severity             domain.Severity          `json:"severity"`
	Category             domain.Category          `json:"category"`
	Retryable            bool                     `json:"retryable"`
	RetryCount           int                      `json:"retryCount"`
	MaxRetries           int                      `json:"maxRetries"`
	CustomerID           string                   `json:"customerId,omitempty"`
	LocationCode         string                   `json:"locationCode,omitempty"`
	CorrelationID        string                   `json:"correlationId,omitempty"`
	Timestamp            time.Time                `json:"timestamp"`
	ProcessedAt          time.Time                `json:"processedAt"`
	LastRetryAt          *time.Time               `json:"lastRetryAt,omitempty"`
	AcknowledgedAt       *time.Time               `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy       *string                  `json:"acknowledgedBy,omitempty"`
	AcknowledgementNotes *string                  `json:"acknowledgementNotes,omitempty"`
	ResolvedAt           *time.Time               `json:"resolvedAt,omitempty"`
	ResolvedBy           *string                  `json:"resolvedBy,omitempty"`
	ResolutionMethod     *domain.ResolutionMethod `json:"resolutionMethod,omitempty"`
	ResolutionNotes      *string                  `json:"resolutionNotes,omitempty"`
	CreatedAt            time.Time                `json:"createdAt"`
	UpdatedAt            time.Time                `json:"updatedAt"`
}

type listExceptionsResponse struct {
	Data       []exceptionResponse `json:"data"`
	PageInfo   pageInfo            `json:"pageInfo"`
	TotalCount int64               `json:"totalCount"`
}

type pageInfo struct {
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor,omitempty"`
}

func (h *ExceptionHandler) GetException(c *fiber.Ctx) error {
	e, err := h.reader.Get(c.Context(), transactionIDParam(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toExceptionResponse(e))
}

func (h *ExceptionHandler) ListExceptions(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	page, err := h.reader.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	resp := listExceptionsResponse{
		Data:       make([]exceptionResponse, 0, len(page.Items)),
		PageInfo:   pageInfo{HasNextPage: page.HasNextPage},
		TotalCount: page.TotalCount,
	}
	for i := range page.Items {
		resp.Data = append(resp.Data, toExceptionResponse(&page.Items[i]))
	}
	if n := len(page.Items); n > 0 {
		cursor := repository.CursorFor(&page.Items[n-1], params.Sort.Normalized().Field).Encode()
		resp.PageInfo.EndCursor = &cursor
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *ExceptionHandler) RetryException(c *fiber.Ctx) error {
	var req retryRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result := h.mutator.RetryException(c.Context(), mutation.RetryInput{
		TransactionID: transactionIDParam(c),
		Priority:      req.Priority,
		Reason:        req.Reason,
	}, principalFromRequest(c))
	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *ExceptionHandler) AcknowledgeException(c *fiber.Ctx) error {
	var req acknowledgeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result := h.mutator.AcknowledgeException(c.Context(), mutation.AcknowledgeInput{
		TransactionID: transactionIDParam(c),
		Reason:        req.Reason,
		Notes:         req.Notes,
	}, principalFromRequest(c))
	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *ExceptionHandler) ResolveException(c *fiber.Ctx) error {
	var req resolveRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result := h.mutator.ResolveException(c.Context(), mutation.ResolveInput{
		TransactionID:    transactionIDParam(c),
		ResolutionMethod: req.ResolutionMethod,
		ResolutionNotes:  req.ResolutionNotes,
	}, principalFromRequest(c))
	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *ExceptionHandler) CancelRetry(c *fiber.Ctx) error {
	var req cancelRetryRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result := h.mutator.CancelRetry(c.Context(), mutation.CancelRetryInput{
		TransactionID: transactionIDParam(c),
		Reason:        req.Reason,
	}, principalFromRequest(c))
	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *ExceptionHandler) BulkRetry(c *fiber.Ctx) error {
	var req bulkRetryRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	result := h.mutator.BulkRetry(c.Context(), mutation.BulkRetryInput{
		TransactionIDs: req.TransactionIDs,
		Priority:       req.Priority,
		Reason:         req.Reason,
	}, principalFromRequest(c))
	return c.Status(fiber.StatusOK).JSON(result)
}

// parseBody accepts an empty body so the field validation of the mutation
// reports missing fields instead of a parse failure.
func parseBody(c *fiber.Ctx, dst any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return nil
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	sort, err := repository.ParseSort(c.Query("sort"), c.Query("direction"))
	if err != nil {
		return repository.ListParams{}, err
	}

	params := repository.ListParams{
		Sort:     sort,
		PageSize: c.QueryInt("pageSize", repository.DefaultPageSize),
		Filter: repository.Filter{
			CustomerIDs:     splitQuery(c.Query("customerId")),
			SearchTerm:      strings.TrimSpace(c.Query("search")),
			ExcludeResolved: c.QueryBool("excludeResolved", false),
		},
	}
	if params.PageSize < 1 || params.PageSize > repository.MaxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, repository.MaxPageSize)
	}

	for _, raw := range splitQuery(c.Query("interfaceType")) {
		it, err := domain.ParseInterfaceTypeFromString(raw)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Filter.InterfaceTypes = append(params.Filter.InterfaceTypes, it)
	}
	for _, raw := range splitQuery(c.Query("status")) {
		status, err := domain.ParseExceptionStatusFromString(raw)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Filter.Statuses = append(params.Filter.Statuses, status)
	}
	for _, raw := range splitQuery(c.Query("severity")) {
		severity, err := domain.ParseSeverityFromString(raw)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Filter.Severities = append(params.Filter.Severities, severity)
	}

	if params.Filter.From, err = parseRFC3339Query(c.Query("from"), "from"); err != nil {
		return repository.ListParams{}, err
	}
	if params.Filter.To, err = parseRFC3339Query(c.Query("to"), "to"); err != nil {
		return repository.ListParams{}, err
	}

	if after := strings.TrimSpace(c.Query("after")); after != "" {
		cursor, err := repository.DecodeCursor(after)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.After = cursor
	}

	return params, params.Validate()
}

func splitQuery(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func transactionIDParam(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Params("transactionId"))
}

// principalFromRequest reads the caller asserted by the gateway. A request
// without a user runs as an anonymous viewer.
func principalFromRequest(c *fiber.Ctx) domain.Principal {
	user := strings.TrimSpace(c.Get(headerUser))
	if user == "" {
		return domain.Principal{Username: "anonymous", Roles: []domain.Role{domain.RoleViewer}}
	}
	return domain.Principal{Username: user, Roles: domain.ParseRoles(c.Get(headerRoles))}
}

func toExceptionResponse(e *domain.InterfaceException) exceptionResponse {
	if e == nil {
		return exceptionResponse{}
	}

	return exceptionResponse{
		ID:                   e.ID,
		TransactionID:        e.TransactionID,
		InterfaceType:        e.InterfaceType,
		Operation:            e.Operation,
		ExternalID:           e.ExternalID,
		ExceptionReason:      e.ExceptionReason,
		Status:               e.Status,
		Severity:             e.Severity,
		Category:             e.Category,
		Retryable:            e.Retryable,
		RetryCount:           e.RetryCount,
		MaxRetries:           e.MaxRetries,
		CustomerID:           e.CustomerID,
		LocationCode:         e.LocationCode,
		CorrelationID:        e.CorrelationID,
		Timestamp:            e.Timestamp,
		ProcessedAt:          e.ProcessedAt,
		LastRetryAt:          e.LastRetryAt,
		AcknowledgedAt:       e.AcknowledgedAt,
		AcknowledgedBy:       e.AcknowledgedBy,
		AcknowledgementNotes: e.AcknowledgementNotes,
		ResolvedAt:           e.ResolvedAt,
		ResolvedBy:           e.ResolvedBy,
		ResolutionMethod:     e.ResolutionMethod,
		ResolutionNotes:      e.ResolutionNotes,
		CreatedAt:            e.CreatedAt,
		UpdatedAt:            e.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
