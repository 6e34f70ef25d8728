package thread

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoPanic(t *testing.T) {
	t.Run("panic", func(t *testing.T) {
		err := NoPanic(func() error {
			panic("segment out of range")
		})()
		require.Error(t, err)
		assert.True(t, strings.HasPrefix(err.Error(), "panic: segment out of range\ngoroutine "))
	})

	t.Run("panic error", func(t *testing.T) {
		parent := errors.New("closed connection")
		err := NoPanic(func() error {
			panic(parent)
		})()
		require.Error(t, err)
		assert.True(t, errors.Is(err, parent))
	})

	t.Run("error", func(t *testing.T) {
		err := NoPanic(func() error {
			return errors.New("foo")
		})()
		require.Error(t, err)
		assert.Equal(t, "foo", err.Error())
	})

	t.Run("no error", func(t *testing.T) {
		require.NoError(t, NoPanic(func() error {
			return nil
		})())
	})
}

func TestPanicToError(t *testing.T) {
	defaultErr := errors.New("default")
	assert.Equal(t, defaultErr, PanicToError(nil, defaultErr))
	assert.NoError(t, PanicToError(nil, nil))
	assert.Contains(t, PanicToError(42, nil).Error(), "panic: 42\n")
}
