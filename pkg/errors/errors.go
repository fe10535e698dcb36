package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDimensionMismatch  = errors.New("dimension mismatch")
	ErrMalformedBuffer    = errors.New("malformed pixel buffer")
	ErrRegionOutOfBounds  = errors.New("region out of bounds")
	ErrUnknownVariant     = errors.New("unknown feature variant")
	ErrDuplicateRecord    = errors.New("record already exists")
	ErrSetNotFound        = errors.New("feature set not found")
	ErrUnsupportedFormat  = errors.New("unsupported image format")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternal           = errors.New("internal error")
	ErrTimeout            = errors.New("operation timed out")
	ErrServiceUnavailable = errors.New("service unavailable")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Is and As are re-exported so callers importing this package under the
// usual apperrors alias do not also need the standard errors package.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrSetNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateRecord):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrUnknownVariant),
		errors.Is(err, ErrMalformedBuffer),
		errors.Is(err, ErrRegionOutOfBounds):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrDimensionMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrServiceUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}

}
