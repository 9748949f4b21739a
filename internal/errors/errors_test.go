package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFound(t *testing.T) {
	err := NotFound("Users/ByName")

	assert.True(t, IsNotFound(err))
	assert.True(t, stderrors.Is(err, ErrIndexNotFound))
	assert.Equal(t, ErrCodeIndexNotFound, GetCode(err))
	assert.Equal(t, CategoryStorage, err.Category)
	assert.Contains(t, err.Error(), "Users/ByName")
}

func TestNotFound_SurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("opening index: %w", NotFound("orders"))

	assert.True(t, IsNotFound(err))
	assert.Equal(t, ErrCodeIndexNotFound, GetCode(err))
}

func TestVersionMismatch(t *testing.T) {
	err := VersionMismatch("orders", "2.0.0.1", "2.5.0.1")

	assert.True(t, stderrors.Is(err, ErrVersionMismatch))
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "2.0.0.1")
	assert.Contains(t, err.Error(), "2.5.0.1")
}

func TestCorruption(t *testing.T) {
	cause := stderrors.New("checksum mismatch")
	err := Corruption("orders", cause)

	assert.True(t, IsCorruption(err))
	assert.True(t, stderrors.Is(err, cause))
	assert.False(t, IsFatal(err))
}

func TestResetFailed_IsFatal(t *testing.T) {
	err := ResetFailed("orders", stderrors.New("disk full"))

	assert.True(t, IsFatal(err))
	assert.Equal(t, SeverityFatal, err.Severity)
	assert.Equal(t, CategoryRecovery, err.Category)
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(ErrCodeCorruptIndex, "a", nil)
	b := New(ErrCodeCorruptIndex, "b", nil)
	c := New(ErrCodeInternal, "c", nil)

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestDisposeError(t *testing.T) {
	agg := NewDisposeError()
	assert.NoError(t, agg.ErrOrNil())

	agg.Add("a", nil)
	assert.NoError(t, agg.ErrOrNil())

	first := stderrors.New("close failed")
	agg.Add("a", first)
	agg.Add("b", stderrors.New("flush failed"))

	err := agg.ErrOrNil()
	require.Error(t, err)
	assert.Equal(t, 2, agg.Len())
	assert.True(t, stderrors.Is(err, first))
	assert.Contains(t, err.Error(), "close failed")
	assert.Contains(t, err.Error(), "flush failed")
}
