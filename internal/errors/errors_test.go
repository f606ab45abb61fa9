package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "path and message",
			err:      NewAssetNotFound("/site/logo.png", nil),
			expected: "/site/logo.png asset not found",
		},
		{
			name:     "with op and cause",
			err:      NewExternalCommandFailure("npm", "command failed", errors.New("exit status 1")),
			expected: "[npm] command failed: exit status 1",
		},
		{
			name:     "cause only",
			err:      &Error{Kind: KindInternal, Cause: errors.New("boom")},
			expected: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("building page: %w", NewUnsupportedAssetFormat("a.bmp", ".bmp"))

	assert.True(t, errors.Is(err, ErrUnsupportedAssetFormat))
	assert.False(t, errors.Is(err, ErrAssetNotFound))
	assert.True(t, IsKind(err, KindUnsupportedAssetFormat))
	assert.Equal(t, KindUnsupportedAssetFormat, KindOf(err))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, KindInternal))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewOutputWriteFailure("/out/index.html", "write failed", cause)

	assert.Equal(t, cause, errors.Unwrap(err))
	assert.ErrorIs(t, err, cause)
}

func TestCollector(t *testing.T) {
	collector := NewCollector()
	assert.False(t, collector.HasErrors())
	assert.NoError(t, collector.Err())

	collector.Add("index.html", nil)
	assert.False(t, collector.HasErrors())

	collector.Add("index.html", NewCompileFailure("app.ts", "syntax error", nil))
	collector.Add("about.html", NewAssetNotFound("logo.png", nil))

	require.True(t, collector.HasErrors())
	assert.Len(t, collector.Errors(), 2)

	err := collector.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index.html: app.ts syntax error")
	assert.True(t, errors.Is(err, ErrAssetNotFound))
	assert.True(t, errors.Is(err, ErrCompileFailure))
}
