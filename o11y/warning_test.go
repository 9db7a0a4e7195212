package o11y

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestWarning(t *testing.T) {
	origErr := NewWarning("cassette miss")
	assert.Check(t, cmp.Equal(origErr.Error(), "cassette miss"))
	assert.Check(t, IsWarning(origErr))

	err := fmt.Errorf("wrapped: %w", origErr)
	assert.Check(t, errors.Is(err, origErr))
	assert.Check(t, IsWarning(err))
	assert.Check(t, cmp.ErrorContains(err, "cassette miss"))
}

func TestWarning_TwoWarningsNotIs(t *testing.T) {
	err1 := NewWarning("warning 1")
	err2 := NewWarning("warning 2")
	assert.Check(t, !errors.Is(err1, err2))
}

func TestWarning_PlainErrorIsNotWarning(t *testing.T) {
	assert.Check(t, !IsWarning(errors.New("boom")))
	assert.Check(t, !IsWarning(nil))
}

func TestDontErrorTrace(t *testing.T) {
	assert.Check(t, DontErrorTrace(NewWarning("w")))
	assert.Check(t, DontErrorTrace(context.Canceled))
	assert.Check(t, DontErrorTrace(fmt.Errorf("x: %w", context.DeadlineExceeded)))
	assert.Check(t, !DontErrorTrace(errors.New("boom")))
}
