package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/vikabridge/vika-bridge/internal/audit"
	"github.com/vikabridge/vika-bridge/internal/config"
	"github.com/vikabridge/vika-bridge/internal/ratelimit"
	"github.com/vikabridge/vika-bridge/internal/service"
	"github.com/vikabridge/vika-bridge/internal/vika"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// defaultPageSize applies when a record listing does not specify one.
const defaultPageSize = 100

// Response is the envelope for every successful API response. FromCache is
// only reported by endpoints that can be served from the cache.
type Response struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	FromCache *bool  `json:"from_cache,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

type createRecordsRequest struct {
	DatasheetID string `json:"datasheet_id"`
	Records     []struct {
		Fields map[string]any `json:"fields"`
	} `json:"records"`
}

type updateRecordRequest struct {
	DatasheetID string         `json:"datasheet_id"`
	RecordID    string         `json:"record_id"`
	Fields      map[string]any `json:"fields"`
}

type batchRequest struct {
	Operations []service.BatchOperation `json:"operations"`
}

func handleHealth(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, svc.Health())
	})
}

func handlePostConfig(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		annotate(r, "configure")

		var cc config.ClientConfig
		if !decodeBody(w, r, &cc) {
			return
		}

		if err := svc.Configure(r.Context(), cc); err != nil {
			writeFailure(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, Response{Success: true, Message: "configuration applied"})
	})
}

func handleGetConfig(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, Response{Success: true, Data: svc.Settings()})
	})
}

func handleCreateRecords(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		entry := annotate(r, "create records")

		var req createRecordsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		entry.DatasheetID = req.DatasheetID

		if req.DatasheetID == "" || len(req.Records) == 0 {
			writeJSONError(w, http.StatusBadRequest, "datasheet_id and at least one record are required")
			return
		}

		fields := make([]map[string]any, 0, len(req.Records))
		for _, rec := range req.Records {
			fields = append(fields, rec.Fields)
		}
		entry.BatchSize = len(fields)

		writeResult(w, r, svc.CreateRecords(r.Context(), req.DatasheetID, fields), false)
	})
}

func handleListRecords(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		entry := annotate(r, "list records")

		datasheetID := r.PathValue("datasheet_id")
		entry.DatasheetID = datasheetID

		query, err := recordQuery(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		writeResult(w, r, svc.ListRecords(r.Context(), datasheetID, query), true)
	})
}

func handleGetRecord(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		entry := annotate(r, "get record")

		datasheetID, recordID := r.PathValue("datasheet_id"), r.PathValue("record_id")
		entry.DatasheetID, entry.RecordID = datasheetID, recordID

		writeResult(w, r, svc.GetRecord(r.Context(), datasheetID, recordID), true)
	})
}

func handleUpdateRecord(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		entry := annotate(r, "update record")

		var req updateRecordRequest
		if !decodeBody(w, r, &req) {
			return
		}
		entry.DatasheetID, entry.RecordID = req.DatasheetID, req.RecordID

		if req.DatasheetID == "" || req.RecordID == "" {
			writeJSONError(w, http.StatusBadRequest, "datasheet_id and record_id are required")
			return
		}

		writeResult(w, r, svc.UpdateRecord(r.Context(), req.DatasheetID, req.RecordID, req.Fields), false)
	})
}

func handleDeleteRecord(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		entry := annotate(r, "delete record")

		datasheetID, recordID := r.PathValue("datasheet_id"), r.PathValue("record_id")
		entry.DatasheetID, entry.RecordID = datasheetID, recordID

		writeResult(w, r, svc.DeleteRecord(r.Context(), datasheetID, recordID), false)
	})
}

func handleListSpaces(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		annotate(r, "list spaces")

		writeResult(w, r, svc.ListSpaces(r.Context()), true)
	})
}

func handleGetSpace(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		entry := annotate(r, "get space")

		spaceID := r.PathValue("space_id")
		entry.SpaceID = spaceID

		writeResult(w, r, svc.GetSpace(r.Context(), spaceID), true)
	})
}

func handleDatasheetTree(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		entry := annotate(r, "datasheet tree")

		spaceID := r.PathValue("space_id")
		entry.SpaceID = spaceID

		writeResult(w, r, svc.DatasheetTree(r.Context(), spaceID), true)
	})
}

func handleSpaceConfiguration(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		entry := annotate(r, "space configuration")

		spaceID := r.PathValue("space_id")
		entry.SpaceID = spaceID

		writeResult(w, r, svc.SpaceConfiguration(r.Context(), spaceID), true)
	})
}

func handleViews(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		entry := annotate(r, "list views")

		datasheetID := r.PathValue("datasheet_id")
		entry.DatasheetID = datasheetID

		writeResult(w, r, svc.Views(r.Context(), datasheetID), true)
	})
}

func handleFields(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		entry := annotate(r, "list fields")

		datasheetID := r.PathValue("datasheet_id")
		entry.DatasheetID = datasheetID

		writeResult(w, r, svc.Fields(r.Context(), datasheetID), true)
	})
}

func handleBatch(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		entry := annotate(r, "batch")

		var req batchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		entry.BatchSize = len(req.Operations)

		writeResult(w, r, svc.Batch(r.Context(), req.Operations), false)
	})
}

func handleClearCache(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)
		annotate(r, "clear cache")

		pattern := r.URL.Query().Get("pattern")
		removed := svc.ClearCache(r.Context(), pattern)

		message := fmt.Sprintf("cleared all %d cache entries", removed)
		if pattern != "" {
			message = fmt.Sprintf("cleared %d cache entries matching '%s'", removed, pattern)
		}

		writeJSON(w, http.StatusOK, Response{Success: true, Message: message})
	})
}

func handleCacheStats(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, Response{Success: true, Data: svc.CacheStats()})
	})
}

// annotate records the operation on the request's audit entry.
func annotate(r *http.Request, operation string) *audit.Entry {
	entry := audit.Log(r.Context())
	entry.Operation = operation
	return entry
}

// recordQuery reads the optional record listing parameters.
func recordQuery(r *http.Request) (vika.RecordQuery, error) {
	params := r.URL.Query()

	q := vika.RecordQuery{
		ViewID:        params.Get("view_id"),
		PageSize:      defaultPageSize,
		PageToken:     params.Get("page_token"),
		FilterFormula: params.Get("filter_formula"),
	}

	if raw := params.Get("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			return vika.RecordQuery{}, fmt.Errorf("page_size must be a positive integer: %q", raw)
		}
		q.PageSize = size
	}

	return q, nil
}

// writeResult writes a service result as either the success envelope or an
// error response. Cacheable results report whether they came from the cache.
func writeResult[T any](w http.ResponseWriter, r *http.Request, result service.Result[T], cacheable bool) {
	if err, failed := result.Failed(); failed {
		writeFailure(w, r, err)
		return
	}

	response := Response{Success: true, Data: result.Value()}
	if cacheable {
		fromCache := result.FromCache()
		response.FromCache = &fromCache
		audit.Log(r.Context()).FromCache = fromCache
	}

	writeJSON(w, http.StatusOK, response)
}

func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	entry := audit.Log(r.Context())
	entry.Error = err.Error()

	var exceeded *ratelimit.ExceededError
	if errors.As(err, &exceeded) {
		entry.RateLimited = true
		w.Header().Set("Retry-After", "1")
	}

	status, message := errorStatus(err)
	log.Ctx(r.Context()).Info().Err(err).Int("status", status).Msg("request failed")

	writeJSONError(w, status, message)
}

// decodeBody reads a JSON request body into v, writing a 400 response and
// returning false when the body is unreadable.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		status := http.StatusBadRequest

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}

		log.Ctx(r.Context()).Info().Err(err).Msg("invalid request body")
		writeJSONError(w, status, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// allowAllOrigins permits cross-origin requests from any origin, answering
// preflight requests directly.
func allowAllOrigins(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// the status has been written, so the failure can only be logged
		log.Info().Msgf("failed to write JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Detail: message})
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		_, _ = io.Copy(io.Discard, r.Body)
	}
}
