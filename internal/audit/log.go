// Package audit records one structured log entry per API request, describing
// the request, the Vika resource it addressed and its outcome.
package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the log level used for audit entries. It sits above the standard
// levels so that audit entries are written regardless of the configured
// level.
const Level = zerolog.Level(20)

const LevelName = "audit"

// RequestIDHeader carries the request identifier. An incoming value is
// reused; otherwise one is generated.
const RequestIDHeader = "X-Request-ID"

type key struct{}

var auditKey = key{}

// Entry is the audit record for a single request. Handlers annotate the entry
// found in the request context; the middleware writes it when the request
// completes.
type Entry struct {
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string
	RequestID string

	Operation   string
	SpaceID     string
	DatasheetID string
	RecordID    string
	BatchSize   int
	FromCache   bool
	RateLimited bool

	Error string
}

func (e *Entry) MarshalZerologObject(event *zerolog.Event) {
	request := zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent)
	if e.RequestID != "" {
		request.Str("requestId", e.RequestID)
	}
	event.Dict("request", request)

	vika := NewOptionalEvent().
		Str("operation", e.Operation).
		Str("spaceId", e.SpaceID).
		Str("datasheetId", e.DatasheetID).
		Str("recordId", e.RecordID).
		Int("batchSize", e.BatchSize).
		Bool("fromCache", e.FromCache)
	if e.RateLimited {
		vika.Bool("rateLimited", true)
	}
	vika.Set(event, "vika")

	if e.Error != "" {
		event.Str("error", e.Error)
	}
}

// Begin records the details of the incoming request.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()
	e.SourceIP = sourceIP(r)
}

// End returns a function that writes the entry. It is intended to be
// deferred: a panic in the handler is recorded on the entry and then
// re-raised.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		r := recover()
		if r != nil {
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error += fmt.Sprintf("panic: %v", r)

			if e.Status == 0 {
				e.Status = http.StatusInternalServerError
			}
		}

		// net/http responds 200 when the handler writes nothing
		if e.Status == 0 {
			e.Status = http.StatusOK
		}

		log.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit_event")

		if r != nil {
			panic(r)
		}
	}
}

// Middleware writes an audit entry for every request passing through it. The
// request context carries the entry and a logger tagged with the request ID.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())

			entry.RequestID = r.Header.Get(RequestIDHeader)
			if entry.RequestID == "" {
				entry.RequestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, entry.RequestID)

			ctx = log.Ctx(ctx).With().
				Str("request_id", entry.RequestID).
				Logger().
				WithContext(ctx)

			entry.Begin(r)
			defer entry.End(ctx)()

			w = httpsnoop.Wrap(w, httpsnoop.Hooks{
				WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
					return func(code int) {
						if entry.Status == 0 {
							entry.Status = code
						}
						next(code)
					}
				},
				Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
					return func(b []byte) (int, error) {
						if entry.Status == 0 {
							entry.Status = http.StatusOK
						}
						return next(b)
					}
				},
			})

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Log returns the audit entry for the request. Outside the middleware a
// detached entry is returned, so handlers can always annotate safely.
func Log(ctx context.Context) *Entry {
	if entry, ok := ctx.Value(auditKey).(*Entry); ok {
		return entry
	}
	return &Entry{}
}

// Context returns the audit entry in ctx, adding a new one if absent.
func Context(ctx context.Context) (context.Context, *Entry) {
	if entry, ok := ctx.Value(auditKey).(*Entry); ok {
		return ctx, entry
	}

	entry := &Entry{}
	return context.WithValue(ctx, auditKey, entry), entry
}

// MarshalLevel renders the audit level by name, deferring to zerolog for the
// standard levels. It is suitable for zerolog.LevelFieldMarshalFunc.
func MarshalLevel(l zerolog.Level) string {
	if l == Level {
		return LevelName
	}
	return l.String()
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
