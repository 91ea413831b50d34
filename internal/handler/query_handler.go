package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/exception-collector/internal/errcode"
	"github.com/kursadbilgin/exception-collector/internal/query"
)

type QueryExecutor interface {
	Execute(ctx context.Context, req query.Request) (*query.Response, error)
}

type QueryHandler struct {
	executor QueryExecutor
}

func RegisterQueryRoutes(router fiber.Router, executor QueryExecutor) error {
	if executor == nil {
		return fmt.Errorf("query executor is required")
	}
	h := &QueryHandler{executor: executor}
	router.Post("/v1/graphql", h.Query)
	return nil
}

func (h *QueryHandler) Query(c *fiber.Ctx) error {
	var req query.Request
	// Numbers stay json.Number so integer variables validate as Int.
	dec := json.NewDecoder(bytes.NewReader(c.Body()))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "query is required")
	}

	resp, err := h.executor.Execute(c.Context(), req)
	switch {
	case errors.Is(err, query.ErrQueryTimeout):
		return c.Status(fiber.StatusGatewayTimeout).JSON(rejected(err, errcode.CodeTimeout))
	case errors.Is(err, query.ErrInvalidQuery),
		errors.Is(err, query.ErrQueryTooDeep),
		errors.Is(err, query.ErrQueryTooComplex):
		return c.Status(fiber.StatusBadRequest).JSON(rejected(err, errcode.CodeInvalidValue))
	case err != nil:
		return err
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func rejected(err error, code errcode.Code) query.Response {
	return query.Response{Errors: []query.ResponseError{{
		Message: err.Error(),
		Extensions: map[string]any{
			"code":           code,
			"classification": code.Classification(),
		},
	}}}
}
