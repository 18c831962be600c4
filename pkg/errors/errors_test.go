package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsByCode(t *testing.T) {
	base := New(4001, 400, "bad room", nil)
	wrapped := base.WithError(fmt.Errorf("name %q is empty", ""))

	assert.True(t, Is(wrapped, base))
	assert.True(t, Is(fmt.Errorf("join: %w", wrapped), base))
	assert.False(t, Is(wrapped, ErrServer))
}

func TestErrorMessage(t *testing.T) {
	cause := stderrors.New("dial tcp: refused")
	err := ErrUnavailable.WithError(cause)

	assert.Equal(t, "服务不可用: dial tcp: refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "服务不可用", ErrUnavailable.Error())
}

func TestWithMessageDoesNotMutate(t *testing.T) {
	err := ErrBadRequest.WithMessage("rooms required")

	assert.Equal(t, "rooms required", err.Message)
	assert.Equal(t, "请求异常", ErrBadRequest.Message)
	assert.Equal(t, ErrBadRequest.Code, err.Code)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, 1004, CodeOf(fmt.Errorf("x: %w", ErrNotFound)))
	assert.Equal(t, 0, CodeOf(stderrors.New("plain")))
	assert.Equal(t, 503, HttpCodeOf(ErrUnavailable))
	assert.Equal(t, 500, HttpCodeOf(stderrors.New("plain")))
}
