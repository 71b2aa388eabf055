package errors_test

import (
	"fmt"
	"testing"

	"github.com/hkarim/crdtstore/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsMatchesDirectKind(t *testing.T) {
	err := errors.Transient("dial failed", fmt.Errorf("connection refused"))

	assert.True(t, errors.Is(err, errors.KindTransient))
	assert.False(t, errors.Is(err, errors.KindFatal))
}

func TestIsUnwrapsWrappedError(t *testing.T) {
	inner := errors.Conflict("key already deleted")
	wrapped := fmt.Errorf("upload rejected: %w", inner)

	assert.True(t, errors.Is(wrapped, errors.KindConflict))
}

func TestExhaustedCarriesSubErrors(t *testing.T) {
	attempted := map[string]error{
		"p0": fmt.Errorf("dead"),
		"p1": fmt.Errorf("timeout"),
	}

	err := errors.Exhausted("quorum not reached", attempted)

	assert.Equal(t, errors.KindExhausted, err.Kind)
	assert.Len(t, err.Attempted, 2)
	assert.ErrorContains(t, err, "quorum not reached")
}

func TestErrorStringIncludesCause(t *testing.T) {
	err := errors.Malformed("bad frame", fmt.Errorf("short read"))

	assert.Contains(t, err.Error(), "malformed")
	assert.Contains(t, err.Error(), "short read")
}
