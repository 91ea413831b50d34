package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/exception-collector/internal/query"
)

type fakeExecutor struct {
	got       query.Request
	executeFn func(ctx context.Context, req query.Request) (*query.Response, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, req query.Request) (*query.Response, error) {
	f.got = req
	if f.executeFn != nil {
		return f.executeFn(ctx, req)
	}
	return &query.Response{Data: map[string]any{"ok": true}}, nil
}

func TestQueryRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantErrors bool
	}{
		{name: "executes", body: `{"query":"{ exceptionSummary { total } }"}`, wantStatus: fiber.StatusOK},
		{name: "missing query", body: `{"query":"  "}`, wantStatus: fiber.StatusBadRequest},
		{name: "malformed body", body: `{"query":`, wantStatus: fiber.StatusBadRequest},
		{name: "too deep", body: `{"query":"{ x }"}`, err: fmt.Errorf("%w: depth 12, limit 8", query.ErrQueryTooDeep), wantStatus: fiber.StatusBadRequest, wantErrors: true},
		{name: "too complex", body: `{"query":"{ x }"}`, err: query.ErrQueryTooComplex, wantStatus: fiber.StatusBadRequest, wantErrors: true},
		{name: "invalid", body: `{"query":"{ x }"}`, err: query.ErrInvalidQuery, wantStatus: fiber.StatusBadRequest, wantErrors: true},
		{name: "timeout", body: `{"query":"{ x }"}`, err: query.ErrQueryTimeout, wantStatus: fiber.StatusGatewayTimeout, wantErrors: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			executor := &fakeExecutor{}
			if tt.err != nil {
				executor.executeFn = func(context.Context, query.Request) (*query.Response, error) {
					return nil, tt.err
				}
			}
			app := newTestApp(t, func(app *fiber.App) error { return RegisterQueryRoutes(app, executor) })

			resp, body := performRequest(t, app, http.MethodPost, "/v1/graphql", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, body)
			}
			if !tt.wantErrors {
				return
			}

			var got query.Response
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatalf("json unmarshal error = %v", err)
			}
			if len(got.Errors) != 1 || got.Errors[0].Extensions["code"] == nil {
				t.Fatalf("errors = %+v", got.Errors)
			}
		})
	}
}

func TestQueryRoutes_VariablesKeepIntegers(t *testing.T) {
	t.Parallel()

	executor := &fakeExecutor{}
	app := newTestApp(t, func(app *fiber.App) error { return RegisterQueryRoutes(app, executor) })

	body := `{"query":"query Q($n: Int) { exceptions(first: $n) { totalCount } }","operationName":"Q","variables":{"n":5}}`
	resp, _ := performRequest(t, app, http.MethodPost, "/v1/graphql", body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	n, ok := executor.got.Variables["n"].(json.Number)
	if !ok || n.String() != "5" {
		t.Fatalf("variables = %#v, want json.Number 5", executor.got.Variables)
	}
	if executor.got.OperationName != "Q" {
		t.Fatalf("operationName = %q, want Q", executor.got.OperationName)
	}
}
