package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("loading: %w", ErrSetNotFound), http.StatusNotFound},
		{fmt.Errorf("append: %w", ErrDuplicateRecord), http.StatusConflict},
		{fmt.Errorf("extract: %w", ErrRegionOutOfBounds), http.StatusBadRequest},
		{ErrUnknownVariant, http.StatusBadRequest},
		{ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
		{fmt.Errorf("rank: %w", ErrDimensionMismatch), http.StatusUnprocessableEntity},
		{ErrTimeout, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
		{New(ErrInvalidInput, http.StatusTeapot, "custom"), http.StatusTeapot},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatusCode(tc.err), tc.err.Error())
	}
}

func TestAppErrorUnwraps(t *testing.T) {
	err := Newf(ErrInvalidInput, http.StatusBadRequest, "k must be positive, got %d", -1)
	assert.True(t, Is(err, ErrInvalidInput))
	assert.Equal(t, "invalid input: k must be positive, got -1", err.Error())

	var appErr *AppError
	assert.True(t, As(fmt.Errorf("wrapped: %w", err), &appErr))
	assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)
}
