package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownHooks_AddContext(t *testing.T) {
	t.Run("adds hook", func(t *testing.T) {
		hooks := &ShutdownHooks{}
		called := false

		hooks.AddContext("telemetry", func(ctx context.Context) error {
			called = true
			return nil
		})

		require.Len(t, hooks.hooks, 1)
		assert.Equal(t, "telemetry", hooks.hooks[0].name)

		assert.Equal(t, 0, hooks.Execute(context.Background()))
		assert.True(t, called, "hook should have been called")
	})

	t.Run("ignores nil hook", func(t *testing.T) {
		hooks := &ShutdownHooks{}
		hooks.AddContext("nil-hook", nil)
		assert.Empty(t, hooks.hooks)
	})
}

func TestShutdownHooks_Add(t *testing.T) {
	t.Run("wraps hook", func(t *testing.T) {
		hooks := &ShutdownHooks{}
		hooks.Add("cache", func() error { return errors.New("flush failed") })

		assert.Equal(t, 1, hooks.Execute(context.Background()))
	})

	t.Run("ignores nil hook", func(t *testing.T) {
		hooks := &ShutdownHooks{}
		hooks.Add("nil-hook", nil)
		assert.Empty(t, hooks.hooks)
	})
}

func TestShutdownHooks_Execute(t *testing.T) {
	t.Run("runs in order and continues after failure", func(t *testing.T) {
		hooks := &ShutdownHooks{}
		var order []string

		hooks.Add("first", func() error { order = append(order, "first"); return nil })
		hooks.Add("second", func() error { order = append(order, "second"); return errors.New("boom") })
		hooks.Add("third", func() error { order = append(order, "third"); return nil })

		failed := hooks.Execute(context.Background())

		assert.Equal(t, 1, failed)
		assert.Equal(t, []string{"first", "second", "third"}, order)
	})

	t.Run("passes shutdown context", func(t *testing.T) {
		hooks := &ShutdownHooks{}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		var deadlineSet bool
		hooks.AddContext("deadline", func(ctx context.Context) error {
			_, deadlineSet = ctx.Deadline()
			return nil
		})

		hooks.Execute(ctx)
		assert.True(t, deadlineSet)
	})

	t.Run("zero value has no hooks", func(t *testing.T) {
		var hooks ShutdownHooks
		assert.Equal(t, 0, hooks.Execute(context.Background()))
	})
}
