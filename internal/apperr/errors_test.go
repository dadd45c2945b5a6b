package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(KindConflict, "slot already booked")
	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, IsKind(err, KindConflict))
	assert.False(t, IsKind(err, KindNotFound))
}

func TestKindOfWrapped(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindChainFailure, "transfer submission failed", cause)

	wrapped := fmt.Errorf("execute payment: %w", err)
	assert.Equal(t, KindChainFailure, KindOf(wrapped))
	assert.ErrorIs(t, wrapped, err)
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}
