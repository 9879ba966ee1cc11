// Package client is a Go client for the civictrack HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the default client; Timeout is then ignored.
	HTTPClient *http.Client
}

// Client is safe for concurrent use. Tokens travel with the context, so
// one Client serves every user.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: hc,
	}
}

type tokenKey struct{}

// WithToken attaches a bearer token to every request made with ctx.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey{}).(string)
	return t
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("civictrack: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("civictrack: %d: %s", e.Status, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

func (c *Client) Signup(ctx context.Context, name, email, password string) (*AuthResult, error) {
	var out AuthResult
	body := map[string]string{"name": name, "email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/signup", body, &out); err != nil {
		return nil, fmt.Errorf("signup: %w", err)
	}
	return &out, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	var out AuthResult
	body := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", body, &out); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &out, nil
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var out User
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/me", nil, &out); err != nil {
		return nil, fmt.Errorf("me: %w", err)
	}
	return &out, nil
}

func (c *Client) ListIssues(ctx context.Context, opts ListOptions) (*IssueList, error) {
	var out IssueList
	if err := c.doJSON(ctx, http.MethodGet, "/api/issues/search/filter?"+opts.values().Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	return &out, nil
}

func (c *Client) MyIssues(ctx context.Context, opts ListOptions) (*IssueList, error) {
	var out IssueList
	if err := c.doJSON(ctx, http.MethodGet, "/api/issues/me?"+opts.values().Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("my issues: %w", err)
	}
	return &out, nil
}

func (c *Client) GetIssue(ctx context.Context, id string) (*Issue, error) {
	var out Issue
	if err := c.doJSON(ctx, http.MethodGet, "/api/issues/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}
	return &out, nil
}

func (c *Client) CreateIssue(ctx context.Context, req CreateIssueRequest) (*Issue, error) {
	var out Issue
	if err := c.doJSON(ctx, http.MethodPost, "/api/issues", req, &out); err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	return &out, nil
}

// CreateIssueWithPhotos uploads the photos together with the issue.
func (c *Client) CreateIssueWithPhotos(ctx context.Context, req CreateIssueRequest, photos []Photo) (*Issue, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"title":       req.Title,
		"description": req.Description,
		"category":    req.Category,
		"priority":    req.Priority,
		"address":     req.Location.Address,
		"ward":        req.Location.Ward,
	}
	if req.Location.Latitude != nil && req.Location.Longitude != nil {
		fields["latitude"] = strconv.FormatFloat(*req.Location.Latitude, 'f', -1, 64)
		fields["longitude"] = strconv.FormatFloat(*req.Location.Longitude, 'f', -1, 64)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("create issue: %w", err)
		}
	}
	for _, p := range photos {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photos"; filename=%q`, p.Filename))
		h.Set("Content-Type", p.ContentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("create issue: %w", err)
		}
		if _, err := io.Copy(part, p.Body); err != nil {
			return nil, fmt.Errorf("create issue: read %s: %w", p.Filename, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}

	var out Issue
	if err := c.do(ctx, http.MethodPost, "/api/issues/upload", &buf, mw.FormDataContentType(), &out); err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	return &out, nil
}

func (c *Client) UpdateStatus(ctx context.Context, id, status, note string) (*Issue, error) {
	var out Issue
	body := map[string]string{"status": status, "note": note}
	if err := c.doJSON(ctx, http.MethodPut, "/api/issues/"+url.PathEscape(id), body, &out); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	return &out, nil
}

func (c *Client) Assign(ctx context.Context, id, assigneeID, note string) (*Issue, error) {
	var out Issue
	body := map[string]string{"assignedTo": assigneeID, "note": note}
	if err := c.doJSON(ctx, http.MethodPut, "/api/admin/issues/"+url.PathEscape(id)+"/assign", body, &out); err != nil {
		return nil, fmt.Errorf("assign issue: %w", err)
	}
	return &out, nil
}

func (c *Client) Comment(ctx context.Context, id, text string) (*Issue, error) {
	var out Issue
	if err := c.doJSON(ctx, http.MethodPost, "/api/issues/"+url.PathEscape(id)+"/comments", map[string]string{"text": text}, &out); err != nil {
		return nil, fmt.Errorf("comment: %w", err)
	}
	return &out, nil
}

// Vote toggles the caller's vote.
func (c *Client) Vote(ctx context.Context, id string) (*VoteState, error) {
	var out VoteState
	if err := c.doJSON(ctx, http.MethodPost, "/api/issues/"+url.PathEscape(id)+"/vote", nil, &out); err != nil {
		return nil, fmt.Errorf("vote: %w", err)
	}
	return &out, nil
}

func (c *Client) DeleteIssue(ctx context.Context, id, reason string) error {
	path := "/api/issues/" + url.PathEscape(id)
	if reason != "" {
		path += "?" + url.Values{"reason": {reason}}.Encode()
	}
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	return nil
}

func (c *Client) MyStats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.doJSON(ctx, http.MethodGet, "/api/issues/stats/user", nil, &out); err != nil {
		return nil, fmt.Errorf("my stats: %w", err)
	}
	return &out, nil
}

func (c *Client) AdminStats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.doJSON(ctx, http.MethodGet, "/api/admin/stats", nil, &out); err != nil {
		return nil, fmt.Errorf("admin stats: %w", err)
	}
	return &out, nil
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("status", o.Status)
	set("priority", o.Priority)
	set("category", o.Category)
	set("ward", o.Ward)
	set("search", o.Search)
	set("sortBy", o.SortBy)
	set("order", o.Order)
	if o.Page > 0 {
		v.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	return v
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	return c.do(ctx, method, path, reader, "application/json", result)
}

// do sends the request and unwraps the response envelope into result.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token := tokenFrom(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}

	if result == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	return nil
}
