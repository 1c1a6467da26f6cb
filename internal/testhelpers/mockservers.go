package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/vikabridge/vika-bridge/internal/vika"
)

// APIPrefix is the path under which the mock serves the fusion API.
const APIPrefix = "/fusion/v1"

// MockVikaServer provides a configurable in-memory Vika API server for
// testing. Exported fields may be modified by tests before requests are made;
// use the methods once requests may be in flight.
type MockVikaServer struct {
	Server *httptest.Server
	Token  string // expected bearer token

	mu         sync.Mutex
	spaces     []vika.Space
	nodes      map[string][]vika.Node // top-level nodes by space
	folders    map[string][]vika.Node // children by folder ID
	records    map[string][]vika.Record
	views      map[string][]vika.View
	fields     map[string][]vika.Field
	failures   map[string]int // HTTP status by request path
	requests   map[string]int // request count by path
	nextRecord int
}

// SetupMockVikaServer creates a mock Vika API server. Close is registered as
// a test cleanup.
func SetupMockVikaServer(t *testing.T) *MockVikaServer {
	t.Helper()

	mock := &MockVikaServer{
		Token:    "test-vika-token",
		nodes:    map[string][]vika.Node{},
		folders:  map[string][]vika.Node{},
		records:  map[string][]vika.Record{},
		views:    map[string][]vika.View{},
		fields:   map[string][]vika.Field{},
		failures: map[string]int{},
		requests: map[string]int{},
	}

	router := http.NewServeMux()

	router.HandleFunc("GET "+APIPrefix+"/spaces", mock.handle(func(r *http.Request) (any, int) {
		return map[string]any{"spaces": mock.spaces}, http.StatusOK
	}))

	router.HandleFunc("GET "+APIPrefix+"/spaces/{space}/nodes", mock.handle(func(r *http.Request) (any, int) {
		return map[string]any{"nodes": mock.nodes[r.PathValue("space")]}, http.StatusOK
	}))

	router.HandleFunc("GET "+APIPrefix+"/spaces/{space}/nodes/{node}", mock.handle(func(r *http.Request) (any, int) {
		node, ok := mock.findNode(r.PathValue("space"), r.PathValue("node"))
		if !ok {
			return nil, http.StatusNotFound
		}
		if node.Type == vika.NodeTypeFolder {
			node.Children = mock.folders[node.ID]
		}
		return node, http.StatusOK
	}))

	router.HandleFunc("GET "+APIPrefix+"/datasheets/{dst}/records", mock.handle(mock.listRecords))
	router.HandleFunc("POST "+APIPrefix+"/datasheets/{dst}/records", mock.handle(mock.createRecords))
	router.HandleFunc("PATCH "+APIPrefix+"/datasheets/{dst}/records", mock.handle(mock.updateRecords))
	router.HandleFunc("DELETE "+APIPrefix+"/datasheets/{dst}/records", mock.handle(mock.deleteRecords))

	router.HandleFunc("GET "+APIPrefix+"/datasheets/{dst}/views", mock.handle(func(r *http.Request) (any, int) {
		return map[string]any{"views": mock.views[r.PathValue("dst")]}, http.StatusOK
	}))

	router.HandleFunc("GET "+APIPrefix+"/datasheets/{dst}/fields", mock.handle(func(r *http.Request) (any, int) {
		return map[string]any{"fields": mock.fields[r.PathValue("dst")]}, http.StatusOK
	}))

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Close)

	return mock
}

// URL is the API base URL to configure clients with.
func (m *MockVikaServer) URL() string {
	return m.Server.URL + APIPrefix
}

// Close shuts down the mock server.
func (m *MockVikaServer) Close() {
	m.Server.Close()
}

// AddSpace registers a space with its top-level nodes.
func (m *MockVikaServer) AddSpace(space vika.Space, nodes ...vika.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.spaces = append(m.spaces, space)
	m.nodes[space.ID] = nodes
}

// AddFolder sets the children returned when a folder's detail is fetched.
func (m *MockVikaServer) AddFolder(folderID string, children ...vika.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.folders[folderID] = children
}

// AddRecords appends records to a datasheet.
func (m *MockVikaServer) AddRecords(datasheetID string, records ...vika.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[datasheetID] = append(m.records[datasheetID], records...)
}

// AddMetadata sets the views and fields of a datasheet.
func (m *MockVikaServer) AddMetadata(datasheetID string, views []vika.View, fields []vika.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.views[datasheetID] = views
	m.fields[datasheetID] = fields
}

// Fail makes every request to path (relative to the API prefix, e.g.
// "/datasheets/dst1/views") respond with status.
func (m *MockVikaServer) Fail(path string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures[APIPrefix+path] = status
}

// Requests returns the number of requests received for path (relative to
// the API prefix).
func (m *MockVikaServer) Requests(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.requests[APIPrefix+path]
}

func (m *MockVikaServer) handle(fn func(r *http.Request) (any, int)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()

		m.requests[r.URL.Path]++

		if r.Header.Get("Authorization") != "Bearer "+m.Token {
			writeEnvelope(w, http.StatusUnauthorized, nil)
			return
		}

		if status, failing := m.failures[r.URL.Path]; failing {
			writeEnvelope(w, status, nil)
			return
		}

		data, status := fn(r)
		writeEnvelope(w, status, data)
	}
}

func (m *MockVikaServer) findNode(spaceID, nodeID string) (vika.Node, bool) {
	for _, n := range m.nodes[spaceID] {
		if n.ID == nodeID {
			return n, true
		}
	}
	for _, children := range m.folders {
		for _, n := range children {
			if n.ID == nodeID {
				return n, true
			}
		}
	}
	return vika.Node{}, false
}

func (m *MockVikaServer) listRecords(r *http.Request) (any, int) {
	records := m.records[r.PathValue("dst")]

	if ids := r.URL.Query()["recordIds"]; len(ids) > 0 {
		matched := []vika.Record{}
		for _, rec := range records {
			for _, id := range ids {
				if rec.RecordID == id {
					matched = append(matched, rec)
				}
			}
		}
		return map[string]any{"total": len(matched), "pageNum": 1, "records": matched}, http.StatusOK
	}

	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize <= 0 {
		pageSize = 100
	}
	pageNum, _ := strconv.Atoi(r.URL.Query().Get("pageNum"))
	if pageNum <= 0 {
		pageNum = 1
	}

	start := min((pageNum-1)*pageSize, len(records))
	end := min(start+pageSize, len(records))

	return map[string]any{
		"total":    len(records),
		"pageNum":  pageNum,
		"pageSize": pageSize,
		"records":  records[start:end],
	}, http.StatusOK
}

func (m *MockVikaServer) createRecords(r *http.Request) (any, int) {
	var body struct {
		Records []struct {
			Fields map[string]any `json:"fields"`
		} `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, http.StatusBadRequest
	}

	dst := r.PathValue("dst")
	created := []vika.Record{}
	for _, rec := range body.Records {
		m.nextRecord++
		record := vika.Record{RecordID: fmt.Sprintf("rec%d", m.nextRecord), Fields: rec.Fields}
		m.records[dst] = append(m.records[dst], record)
		created = append(created, record)
	}

	return map[string]any{"records": created}, http.StatusOK
}

func (m *MockVikaServer) updateRecords(r *http.Request) (any, int) {
	var body struct {
		Records []vika.RecordUpdate `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, http.StatusBadRequest
	}

	dst := r.PathValue("dst")
	updated := []vika.Record{}
	for _, u := range body.Records {
		for i, rec := range m.records[dst] {
			if rec.RecordID != u.RecordID {
				continue
			}
			if rec.Fields == nil {
				rec.Fields = map[string]any{}
			}
			for k, v := range u.Fields {
				rec.Fields[k] = v
			}
			m.records[dst][i] = rec
			updated = append(updated, rec)
		}
	}

	if len(updated) == 0 {
		return nil, http.StatusNotFound
	}
	return map[string]any{"records": updated}, http.StatusOK
}

func (m *MockVikaServer) deleteRecords(r *http.Request) (any, int) {
	dst := r.PathValue("dst")
	remove := map[string]bool{}
	for _, id := range r.URL.Query()["recordIds"] {
		remove[id] = true
	}

	kept := []vika.Record{}
	for _, rec := range m.records[dst] {
		if !remove[rec.RecordID] {
			kept = append(kept, rec)
		}
	}
	m.records[dst] = kept

	return true, http.StatusOK
}

// writeEnvelope writes a response in the Vika envelope format.
func writeEnvelope(w http.ResponseWriter, status int, data any) {
	env := map[string]any{
		"success": status == http.StatusOK,
		"code":    status,
		"message": "SUCCESS",
	}
	if status != http.StatusOK {
		env["message"] = http.StatusText(status)
	} else {
		env["data"] = data
	}

	WriteJSON(w, status, env)
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
