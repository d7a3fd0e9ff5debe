package server

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"library-circulation/library"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Success   bool                `json:"success"`
	Message   string              `json:"message"`
	ErrorCode string              `json:"error_code,omitempty"`
	Errors    map[string][]string `json:"errors,omitempty"`
}

func statusToErrorCode(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "BAD_REQUEST"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case fiber.StatusConflict:
		return "CONFLICT"
	case fiber.StatusRequestTimeout, fiber.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		if status >= 500 {
			return "INTERNAL_ERROR"
		}
		return "ERROR"
	}
}

// statusFor maps library errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, library.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, library.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, library.ErrConflict),
		errors.Is(err, library.ErrOutOfStock),
		errors.Is(err, library.ErrAlreadyReturned):
		return fiber.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func jsonError(c *fiber.Ctx, status int, message string, fields map[string][]string) error {
	if strings.TrimSpace(message) == "" {
		message = fiber.ErrInternalServerError.Message
	}
	return c.Status(status).JSON(ErrorResponse{
		Success:   false,
		Message:   message,
		ErrorCode: statusToErrorCode(status),
		Errors:    fields,
	})
}

// handleError is the fiber error handler: library errors map by kind, fiber
// errors keep their code, everything else is a logged 500.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return jsonError(c, fe.Code, fe.Message, nil)
	}

	var fields map[string][]string
	var ve *library.ValidationError
	if errors.As(err, &ve) {
		fields = ve.Fields
	}

	status := statusFor(err)
	message := err.Error()
	if status == fiber.StatusInternalServerError {
		s.log.Error("request failed",
			"request_id", c.Locals("requestid"), "method", c.Method(), "path", c.Path(), "error", err)
		message = fiber.ErrInternalServerError.Message
	}
	return jsonError(c, status, message, fields)
}
