package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/exception-collector/internal/errcode"
	"go.uber.org/zap"
)

// ErrorHandler renders handler errors as {"error": ..., "code": ...}.
// fiber errors keep their status and message; anything else is classified
// and answered with the code's canned message so internals never leak.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		body := fiber.Map{}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			body["error"] = fe.Message
		} else {
			code := errcode.Classify(err)
			status = StatusFor(code)
			body["error"] = code.Message()
			body["code"] = code
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		}
		if status >= fiber.StatusInternalServerError {
			logger.Error("request error", fields...)
		} else {
			logger.Warn("request rejected", fields...)
		}

		return c.Status(status).JSON(body)
	}
}

// StatusFor maps an error code onto the HTTP status used by the read
// endpoints.
func StatusFor(code errcode.Code) int {
	if code == errcode.CodeRateLimitExceeded {
		return fiber.StatusTooManyRequests
	}
	if code == errcode.CodeTimeout {
		return fiber.StatusGatewayTimeout
	}
	if code == errcode.CodeServiceUnavailable {
		return fiber.StatusServiceUnavailable
	}

	switch code.Classification() {
	case errcode.ClassValidation:
		return fiber.StatusBadRequest
	case errcode.ClassNotFound:
		return fiber.StatusNotFound
	case errcode.ClassAuthorization:
		return fiber.StatusForbidden
	case errcode.ClassConcurrentModification:
		return fiber.StatusConflict
	case errcode.ClassBusinessRule:
		return fiber.StatusUnprocessableEntity
	}
	return fiber.StatusInternalServerError
}
