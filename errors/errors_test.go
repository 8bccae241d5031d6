package errors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCarriesLocation(t *testing.T) {
	err := New("boom %d", 42)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "[errors_test.go:"), err.Error())
	assert.Contains(t, err.Error(), "boom 42")
}

func TestWrapfNil(t *testing.T) {
	assert.NoError(t, Wrapf(nil, "ignored"))
}

func TestWrapfKeepsChain(t *testing.T) {
	base := Sentinel("base")
	err := Wrapf(base, "reading %s", "x")
	assert.True(t, Is(err, base))
	assert.Contains(t, err.Error(), "reading x: base")
}

func TestTypedErrorsUnwrap(t *testing.T) {
	cause := Sentinel("disk on fire")
	exec := fmt.Errorf("outer: %w", &ExecutionError{Tool: "write_file", Err: cause})

	var target *ExecutionError
	require.True(t, As(exec, &target))
	assert.Equal(t, "write_file", target.Tool)
	assert.True(t, Is(exec, cause))

	var v *ValidationError
	assert.False(t, As(exec, &v))

	gen := &GenerationError{Provider: "openai", Err: cause}
	assert.Equal(t, "generation failed (openai): disk on fire", gen.Error())
	assert.Equal(t, "tool 'nope' is not registered", (&LookupError{Tool: "nope"}).Error())
}
