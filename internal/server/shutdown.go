// Package server runs the HTTP server and the work needed to stop it
// cleanly.
package server

import (
	"context"

	"github.com/rs/zerolog/log"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// ShutdownHooks are run in registration order once the HTTP server has
// stopped accepting requests. A failing hook is logged and does not prevent
// the rest from running.
type ShutdownHooks struct {
	hooks []hook
}

// AddContext registers a hook that receives the shutdown context, which
// carries the shutdown deadline. Nil hooks are ignored.
func (s *ShutdownHooks) AddContext(name string, fn func(context.Context) error) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}

	log.Debug().Str("hook", name).Msg("adding shutdown hook")
	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

// Add registers a hook that does not need the shutdown context.
func (s *ShutdownHooks) Add(name string, fn func() error) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}

	s.AddContext(name, func(context.Context) error {
		return fn()
	})
}

// Execute runs every hook, returning the number that failed.
func (s *ShutdownHooks) Execute(ctx context.Context) int {
	failed := 0

	l := log.Ctx(ctx)
	for _, h := range s.hooks {
		hookLog := l.With().Str("hook", h.name).Logger()

		hookLog.Info().Msg("shutdown started")
		if err := h.fn(ctx); err != nil {
			failed++
			hookLog.Warn().Err(err).Msg("shutdown failed")
			continue
		}
		hookLog.Info().Msg("shutdown complete")
	}

	return failed
}
