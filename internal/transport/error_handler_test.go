package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/exception-collector/internal/domain"
	"github.com/kursadbilgin/exception-collector/internal/errcode"
	"go.uber.org/zap"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
		wantCode   string
	}{
		{name: "fiber error", err: fiber.NewError(fiber.StatusBadRequest, "invalid request body"), wantStatus: 400, wantError: "invalid request body"},
		{name: "not found", err: fmt.Errorf("get: %w", domain.ErrNotFound), wantStatus: 404, wantError: errcode.CodeExceptionNotFound.Message(), wantCode: string(errcode.CodeExceptionNotFound)},
		{name: "coded", err: errcode.New(errcode.CodeRateLimitExceeded, "slow down"), wantStatus: 429, wantError: errcode.CodeRateLimitExceeded.Message(), wantCode: string(errcode.CodeRateLimitExceeded)},
		{name: "internal is sanitized", err: errors.New("pq: password authentication failed for user"), wantStatus: 500, wantError: errcode.CodeDatabaseError.Message(), wantCode: string(errcode.CodeDatabaseError)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.NewNop())})
			app.Get("/", func(c *fiber.Ctx) error { return tt.err })

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			raw, _ := io.ReadAll(resp.Body)
			var body map[string]string
			if err := json.Unmarshal(raw, &body); err != nil {
				t.Fatalf("json unmarshal error = %v, body=%s", err, raw)
			}
			if body["error"] != tt.wantError || body["code"] != tt.wantCode {
				t.Fatalf("body = %v, want error %q code %q", body, tt.wantError, tt.wantCode)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := map[errcode.Code]int{
		errcode.CodeRequiredField:           400,
		errcode.CodeInsufficientPermissions: 403,
		errcode.CodeConcurrentModification:  409,
		errcode.CodePendingRetryExists:      422,
		errcode.CodeTimeout:                 504,
		errcode.CodeServiceUnavailable:      503,
		errcode.CodeInternalError:           500,
	}
	for code, want := range tests {
		if got := StatusFor(code); got != want {
			t.Errorf("StatusFor(%s) = %d, want %d", code, got, want)
		}
	}
}
