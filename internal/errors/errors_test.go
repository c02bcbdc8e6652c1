package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCapturesFields(t *testing.T) {
	err := New(ErrMerge, SeverityFatal, "refusing to overwrite output")
	assert.Equal(t, ErrMerge, err.Type)
	assert.True(t, err.Broken())
	assert.Contains(t, err.Error(), "refusing to overwrite output")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := NormalizationFailedError(cause, "node normalization request failed")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
	assert.False(t, err.Broken())
}

func TestIsBrokenDefaultsFalseForPlainErrors(t *testing.T) {
	assert.False(t, IsBroken(fmt.Errorf("plain error")))
	assert.True(t, IsBroken(ParserBrokenError(nil, "unsupported historical source version")))
}

func TestDetailedStringIncludesContext(t *testing.T) {
	err := ConfigurationError("missing storage dir").WithContext("env_var", "KGBUILD_STORAGE_DIR")
	detailed := err.DetailedString()
	assert.Contains(t, detailed, "CONFIGURATION")
	assert.Contains(t, detailed, "KGBUILD_STORAGE_DIR")
}
