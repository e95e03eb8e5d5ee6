package qdrant

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
	"time"

	"github.com/rrbip/batirama-connect-sub002/pkg/vectorstore"
)

// Client is a REST client for Qdrant.
type Client struct {
	url    string
	apiKey string
	client *http.Client
}

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

var _ vectorstore.Store = (*Client)(nil)

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
	}
}

// statusError carries the HTTP status of a failed call.
type statusError struct {
	method string
	path   string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: status %d: %s", e.method, e.path, e.status, e.body)
}

func isStatus(err error, status int) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == status
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status any             `json:"status"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &statusError{method: method, path: path, status: resp.StatusCode, body: string(raw)}
	}
	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

func (c *Client) CollectionExists(ctx context.Context, name string) (bool, error) {
	err := c.do(ctx, http.MethodGet, collectionPath(name), nil, nil)
	if err == nil {
		return true, nil
	}
	if isStatus(err, http.StatusNotFound) {
		return false, nil
	}
	return false, err
}

func (c *Client) CreateCollection(ctx context.Context, name string, cfg vectorstore.CollectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     cfg.VectorSize,
			"distance": string(cfg.Distance),
			"on_disk":  cfg.OnDisk,
		},
	}
	return c.do(ctx, http.MethodPut, collectionPath(name), body, nil)
}

// DeleteCollection treats an absent collection as already deleted.
func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	err := c.do(ctx, http.MethodDelete, collectionPath(name), nil, nil)
	if isStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

func (c *Client) EnsureCollectionExists(ctx context.Context, name string, cfg vectorstore.CollectionConfig) error {
	exists, err := c.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	err = c.CreateCollection(ctx, name, cfg)
	// Lost a creation race with another worker.
	if isStatus(err, http.StatusConflict) {
		return nil
	}
	return err
}

func (c *Client) CreatePayloadIndex(ctx context.Context, collection, field string, fieldType vectorstore.FieldType) error {
	body := map[string]any{
		"field_name":   field,
		"field_schema": string(fieldType),
	}
	return c.do(ctx, http.MethodPut, collectionPath(collection)+"/index?wait=true", body, nil)
}

type pointStruct struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	body := make([]pointStruct, len(points))
	for i, p := range points {
		body[i] = pointStruct{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}
	return c.do(ctx, http.MethodPut, collectionPath(collection)+"/points?wait=true", map[string]any{"points": body}, nil)
}

func (c *Client) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPost, collectionPath(collection)+"/points/delete?wait=true", map[string]any{"points": ids}, nil)
}

func (c *Client) DeleteByFilter(ctx context.Context, collection string, filter *vectorstore.Filter) error {
	if filter.IsEmpty() {
		return errors.New("qdrant: refusing to delete with an empty filter")
	}
	return c.do(ctx, http.MethodPost, collectionPath(collection)+"/points/delete?wait=true", map[string]any{"filter": filter}, nil)
}

type scoredPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func (c *Client) Search(ctx context.Context, collection string, req vectorstore.SearchRequest) ([]vectorstore.ScoredPoint, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}
	body := map[string]any{
		"vector":       req.Vector,
		"limit":        limit,
		"with_payload": true,
	}
	if !req.Filter.IsEmpty() {
		body["filter"] = req.Filter
	}
	if req.ScoreThreshold > 0 {
		body["score_threshold"] = req.ScoreThreshold
	}

	var result []scoredPoint
	if err := c.do(ctx, http.MethodPost, collectionPath(collection)+"/points/search", body, &result); err != nil {
		return nil, err
	}

	out := make([]vectorstore.ScoredPoint, len(result))
	for i, r := range result {
		out[i] = vectorstore.ScoredPoint{ID: rawID(r.ID), Score: r.Score, Payload: r.Payload}
	}
	return out, nil
}

func (c *Client) Count(ctx context.Context, collection string, filter *vectorstore.Filter) (int64, error) {
	body := map[string]any{"exact": true}
	if !filter.IsEmpty() {
		body["filter"] = filter
	}
	var result struct {
		Count int64 `json:"count"`
	}
	if err := c.do(ctx, http.MethodPost, collectionPath(collection)+"/points/count", body, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

type scrollResult struct {
	Points []struct {
		ID      json.RawMessage `json:"id"`
		Vector  []float32       `json:"vector"`
		Payload map[string]any  `json:"payload"`
	} `json:"points"`
	NextPageOffset json.RawMessage `json:"next_page_offset"`
}

// Scroll returns one page. The offset token is the raw JSON of Qdrant's next_page_offset.
func (c *Client) Scroll(ctx context.Context, collection string, req vectorstore.ScrollRequest) (*vectorstore.ScrollPage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  req.WithVectors,
	}
	if req.Offset != "" {
		body["offset"] = json.RawMessage(req.Offset)
	}
	if !req.Filter.IsEmpty() {
		body["filter"] = req.Filter
	}

	var result scrollResult
	if err := c.do(ctx, http.MethodPost, collectionPath(collection)+"/points/scroll", body, &result); err != nil {
		return nil, err
	}

	page := &vectorstore.ScrollPage{Points: make([]vectorstore.Point, len(result.Points))}
	for i, p := range result.Points {
		page.Points[i] = vectorstore.Point{ID: rawID(p.ID), Vector: p.Vector, Payload: p.Payload}
	}
	if next := bytes.TrimSpace(result.NextPageOffset); len(next) > 0 && string(next) != "null" {
		page.NextOffset = vectorstore.Offset(next)
	}
	return page, nil
}

type collectionInfo struct {
	Status      string `json:"status"`
	PointsCount *int64 `json:"points_count"`
	Config      struct {
		Params struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

func (c *Client) GetCollectionInfo(ctx context.Context, name string) (*vectorstore.CollectionInfo, error) {
	var result collectionInfo
	err := c.do(ctx, http.MethodGet, collectionPath(name), nil, &result)
	if isStatus(err, http.StatusNotFound) {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	info := &vectorstore.CollectionInfo{
		Name:       name,
		Status:     result.Status,
		VectorSize: result.Config.Params.Vectors.Size,
		Distance:   vectorstore.Distance(result.Config.Params.Vectors.Distance),
	}
	if result.PointsCount != nil {
		info.PointsCount = *result.PointsCount
	}
	return info, nil
}

func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	var result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := c.do(ctx, http.MethodGet, "/collections", nil, &result); err != nil {
		return nil, err
	}
	names := make([]string, len(result.Collections))
	for i, col := range result.Collections {
		names[i] = col.Name
	}
	return names, nil
}

func (c *Client) IsHealthy(ctx context.Context) bool {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil) == nil
}

// rawID renders a Qdrant point id, which is either a UUID string or an unsigned integer.
func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatUint(n, 10)
	}
	return string(raw)
}
