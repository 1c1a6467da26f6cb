// Package vika is a client for the Vika fusion API, covering the record,
// space, node and datasheet metadata endpoints the bridge proxies.
package vika

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/vikabridge/vika-bridge/internal/config"
)

// maxPageSize is the largest page the records API will return.
const maxPageSize = 1000

type Client struct {
	token   string
	baseURL *url.URL
	http    *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client. By default http.DefaultClient is
// used at request time, so that process-wide transport instrumentation
// applies.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

func New(cfg config.ClientConfig, opts ...ClientOption) (*Client, error) {
	if cfg.Credential == "" {
		return nil, errors.New("token must be configured for Vika API access")
	}

	base := cfg.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("could not parse Vika API URL: %w", err)
	}

	c := &Client{
		token:   cfg.Credential,
		baseURL: u,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// envelope is the response wrapper used by every Vika endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) httpClient() *http.Client {
	if c.http != nil {
		return c.http
	}
	return http.DefaultClient
}

// do issues a request relative to the base URL and decodes the envelope's
// data into out (when out is non-nil).
func (c *Client) do(ctx context.Context, method string, path string, query url.Values, body any, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("invalid request path %s: %w", path, err)
	}
	if len(query) > 0 {
		ref.RawQuery = query.Encode()
	}
	target := c.baseURL.ResolveReference(ref)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("failed to decode response from %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		return &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: env.Message}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode data from %s %s: %w", method, path, err)
	}

	return nil
}

// endpoint joins path segments relative to the base URL. Every segment is
// escaped so that identifiers cannot add path segments or climb out of the
// base path.
func endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		switch seg {
		case ".", "..":
			escaped[i] = strings.ReplaceAll(seg, ".", "%2E")
		default:
			escaped[i] = url.PathEscape(seg)
		}
	}
	return strings.Join(escaped, "/")
}

func recordsPath(datasheetID string) string {
	return endpoint("datasheets", datasheetID, "records")
}

type recordPage struct {
	Total    int      `json:"total"`
	PageNum  int      `json:"pageNum"`
	PageSize int      `json:"pageSize"`
	Records  []Record `json:"records"`
}

type recordsData struct {
	Records []Record `json:"records"`
}

// ListRecords returns the records of a datasheet. Unless the query names a
// single page, every page is requested in turn.
func (c *Client) ListRecords(ctx context.Context, datasheetID string, q RecordQuery) ([]Record, error) {
	query := url.Values{}
	if q.ViewID != "" {
		query.Set("viewId", q.ViewID)
	}
	if q.FilterFormula != "" {
		query.Set("filterByFormula", q.FilterFormula)
	}

	pageSize := q.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	query.Set("pageSize", strconv.Itoa(pageSize))

	if q.PageToken != "" {
		query.Set("pageNum", q.PageToken)

		var page recordPage
		if err := c.do(ctx, http.MethodGet, recordsPath(datasheetID), query, nil, &page); err != nil {
			return nil, err
		}
		return page.Records, nil
	}

	records := []Record{}
	for pageNum := 1; ; pageNum++ {
		query.Set("pageNum", strconv.Itoa(pageNum))

		var page recordPage
		if err := c.do(ctx, http.MethodGet, recordsPath(datasheetID), query, nil, &page); err != nil {
			return nil, err
		}
		records = append(records, page.Records...)

		if len(page.Records) == 0 || len(records) >= page.Total {
			break
		}
	}

	log.Ctx(ctx).Debug().
		Str("datasheet_id", datasheetID).
		Int("count", len(records)).
		Msg("vika: listed records")

	return records, nil
}

// GetRecord fetches a single record by ID.
func (c *Client) GetRecord(ctx context.Context, datasheetID, recordID string) (Record, error) {
	query := url.Values{}
	query.Set("recordIds", recordID)

	var page recordPage
	if err := c.do(ctx, http.MethodGet, recordsPath(datasheetID), query, nil, &page); err != nil {
		return Record{}, err
	}

	for _, r := range page.Records {
		if r.RecordID == recordID {
			return r, nil
		}
	}

	return Record{}, &APIError{
		StatusCode: http.StatusNotFound,
		Message:    fmt.Sprintf("record %s not found in datasheet %s", recordID, datasheetID),
	}
}

// CreateRecords adds a record for each supplied set of field values.
func (c *Client) CreateRecords(ctx context.Context, datasheetID string, fields []map[string]any) ([]Record, error) {
	type newRecord struct {
		Fields map[string]any `json:"fields"`
	}

	body := struct {
		Records  []newRecord `json:"records"`
		FieldKey string      `json:"fieldKey"`
	}{
		Records:  make([]newRecord, 0, len(fields)),
		FieldKey: "name",
	}
	for _, f := range fields {
		body.Records = append(body.Records, newRecord{Fields: f})
	}

	var data recordsData
	if err := c.do(ctx, http.MethodPost, recordsPath(datasheetID), nil, body, &data); err != nil {
		return nil, err
	}
	return data.Records, nil
}

// UpdateRecords applies field updates to existing records.
func (c *Client) UpdateRecords(ctx context.Context, datasheetID string, updates []RecordUpdate) ([]Record, error) {
	body := struct {
		Records  []RecordUpdate `json:"records"`
		FieldKey string         `json:"fieldKey"`
	}{
		Records:  updates,
		FieldKey: "name",
	}

	var data recordsData
	if err := c.do(ctx, http.MethodPatch, recordsPath(datasheetID), nil, body, &data); err != nil {
		return nil, err
	}
	return data.Records, nil
}

// DeleteRecords removes the identified records.
func (c *Client) DeleteRecords(ctx context.Context, datasheetID string, recordIDs []string) (bool, error) {
	query := url.Values{}
	for _, id := range recordIDs {
		query.Add("recordIds", id)
	}

	var deleted bool
	if err := c.do(ctx, http.MethodDelete, recordsPath(datasheetID), query, nil, &deleted); err != nil {
		return false, err
	}
	return deleted, nil
}

// ListSpaces returns the spaces visible to the token.
func (c *Client) ListSpaces(ctx context.Context) ([]Space, error) {
	var data struct {
		Spaces []Space `json:"spaces"`
	}
	if err := c.do(ctx, http.MethodGet, "spaces", nil, nil, &data); err != nil {
		return nil, err
	}
	return data.Spaces, nil
}

// GetSpace returns a single space. The API has no direct lookup, so the
// space is located within the listing.
func (c *Client) GetSpace(ctx context.Context, spaceID string) (Space, error) {
	spaces, err := c.ListSpaces(ctx)
	if err != nil {
		return Space{}, err
	}

	for _, s := range spaces {
		if s.ID == spaceID {
			return s, nil
		}
	}

	return Space{}, &APIError{
		StatusCode: http.StatusNotFound,
		Message:    fmt.Sprintf("space %s not found", spaceID),
	}
}

// ListNodes returns the top-level nodes of a space.
func (c *Client) ListNodes(ctx context.Context, spaceID string) ([]Node, error) {
	var data struct {
		Nodes []Node `json:"nodes"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint("spaces", spaceID, "nodes"), nil, nil, &data); err != nil {
		return nil, err
	}
	return data.Nodes, nil
}

// GetNode returns a node's detail, including its direct children when it is
// a folder.
func (c *Client) GetNode(ctx context.Context, spaceID, nodeID string) (Node, error) {
	var node Node
	path := endpoint("spaces", spaceID, "nodes", nodeID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &node); err != nil {
		return Node{}, err
	}
	return node, nil
}

func (c *Client) ListViews(ctx context.Context, datasheetID string) ([]View, error) {
	var data struct {
		Views []View `json:"views"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint("datasheets", datasheetID, "views"), nil, nil, &data); err != nil {
		return nil, err
	}
	return data.Views, nil
}

func (c *Client) ListFields(ctx context.Context, datasheetID string) ([]Field, error) {
	var data struct {
		Fields []Field `json:"fields"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint("datasheets", datasheetID, "fields"), nil, nil, &data); err != nil {
		return nil, err
	}
	return data.Fields, nil
}
