package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryableOnlyForConflictAndUnavailable(t *testing.T) {
	assert.True(t, Retryable(Clone(ErrConflict, "lane changed")))
	assert.True(t, Retryable(fmt.Errorf("commit: %w", Wrap(errors.New("08006"), ErrUnavailable.Code, ErrUnavailable.Status, "db down"))))

	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(ErrTimeout))
	assert.False(t, Retryable(ErrValidation))
	assert.False(t, Retryable(ErrTooEarly))
	assert.False(t, Retryable(ErrTokenExpired))
	assert.False(t, Retryable(errors.New("plain")))
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("scan: %w", Clone(ErrAlreadyCheckedIn, "second scan"))
	assert.True(t, errors.Is(err, ErrAlreadyCheckedIn))
	assert.False(t, errors.Is(err, ErrTooLate))
}

func TestFromErrorMapsDeadlineToTimeout(t *testing.T) {
	appErr := FromError(fmt.Errorf("tx: %w", context.DeadlineExceeded))
	assert.Equal(t, ErrTimeout.Code, appErr.Code)
	assert.Equal(t, http.StatusGatewayTimeout, appErr.Status)
	assert.Equal(t, KindTimeout, appErr.Kind())

	assert.Equal(t, ErrInternal.Code, FromError(errors.New("boom")).Code)
	assert.Nil(t, FromError(nil))
}

func TestKinds(t *testing.T) {
	assert.Equal(t, KindToken, ErrTokenMalformed.Kind())
	assert.Equal(t, KindStateViolation, ErrWrongDay.Kind())
	assert.Equal(t, KindCapacity, KindOf(ErrCapacity))
	assert.Equal(t, KindAccessDenied, KindOf(ErrForbidden))
	assert.Equal(t, http.StatusTooManyRequests, ErrCapacity.Status)
	assert.Equal(t, http.StatusUnprocessableEntity, ErrValidation.Status)
}
