package audit

import (
	"github.com/rs/zerolog"
)

// OptionalEvent collects fields for a nested dictionary that is only written
// to the parent event when at least one field has a value.
type OptionalEvent struct {
	ev      *zerolog.Event
	written bool
}

func NewOptionalEvent() *OptionalEvent {
	return &OptionalEvent{}
}

func (oe *OptionalEvent) event() *zerolog.Event {
	if oe.ev == nil {
		oe.ev = zerolog.Dict()
	}
	return oe.ev
}

// Set adds the dictionary to parent under key if any field was recorded.
func (oe *OptionalEvent) Set(parent *zerolog.Event, key string) bool {
	if !oe.written {
		return false
	}
	parent.Dict(key, oe.event())
	return true
}

// Str records a string, skipping empty values.
func (oe *OptionalEvent) Str(key, val string) *OptionalEvent {
	if val == "" {
		return oe
	}
	oe.event().Str(key, val)
	oe.written = true
	return oe
}

// Int records an integer, skipping zero.
func (oe *OptionalEvent) Int(key string, val int) *OptionalEvent {
	if val == 0 {
		return oe
	}
	oe.event().Int(key, val)
	oe.written = true
	return oe
}

// Bool records a boolean, but only once another field has made the
// dictionary worth writing.
func (oe *OptionalEvent) Bool(key string, val bool) *OptionalEvent {
	if !oe.written {
		return oe
	}
	oe.event().Bool(key, val)
	return oe
}
