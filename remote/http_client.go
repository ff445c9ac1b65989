// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ListResponse is the body of GET /collections/{collection}.
type ListResponse struct {
	Items []Record `json:"items"`
}

// CreateResponse is the body of POST /collections/{collection}.
type CreateResponse struct {
	ID string `json:"id"`
}

// ErrorResponse is the JSON error body returned by the store.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HTTPClient talks to the store's REST API.
type HTTPClient struct {
	BaseURL string
	Token   func(context.Context) (string, error) // returns a bearer token; nil sends none
	HTTP    *http.Client
}

// NewHTTPClient creates a client for baseURL.
func NewHTTPClient(baseURL string, token func(context.Context) (string, error)) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// StaticToken returns a token function that always yields tok.
func StaticToken(tok string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return tok, nil }
}

func (c *HTTPClient) List(ctx context.Context, collection string) ([]Record, error) {
	var out ListResponse
	if err := c.do(ctx, "list", collection, "", http.MethodGet, nil, &out); err != nil {
		return nil, err
	}
	if out.Items == nil {
		out.Items = []Record{}
	}
	return out.Items, nil
}

func (c *HTTPClient) Create(ctx context.Context, collection string, payload Record) (string, error) {
	var out CreateResponse
	if err := c.do(ctx, "create", collection, "", http.MethodPost, payload.WirePayload(), &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", Rejected("create", collection, "", CodeValidation, "server returned no id")
	}
	return out.ID, nil
}

func (c *HTTPClient) Update(ctx context.Context, collection, id string, payload Record) error {
	return c.do(ctx, "update", collection, id, http.MethodPatch, payload.WirePayload(), nil)
}

func (c *HTTPClient) Delete(ctx context.Context, collection, id string) error {
	return c.do(ctx, "delete", collection, id, http.MethodDelete, nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, op, collection, id, method string, body any, out any) error {
	u := c.BaseURL + "/collections/" + url.PathEscape(collection)
	if id != "" {
		u += "/" + url.PathEscape(id)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			err = fmt.Errorf("failed to get token: %w", err)
			// A refresh that could not reach its issuer is a connectivity problem.
			if IsNetworkUnreachable(err) || isTransportError(err) {
				return Unreachable(op, collection, id, err)
			}
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		if isTransportError(err) {
			return Unreachable(op, collection, id, err)
		}
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return c.statusError(op, collection, id, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A truncated body is a transport failure, not a server verdict.
		return Unreachable(op, collection, id, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func (c *HTTPClient) statusError(op, collection, id string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body ErrorResponse
	_ = json.Unmarshal(raw, &body)
	message := body.Message
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests {
		e := Unreachable(op, collection, id, fmt.Errorf("server returned status %d", resp.StatusCode))
		e.Status = resp.StatusCode
		e.Message = message
		return e
	}

	code := body.Error
	switch resp.StatusCode {
	case http.StatusNotFound:
		code = CodeNotFound
	case http.StatusUnauthorized:
		code = CodeUnauthorized
	case http.StatusForbidden:
		code = CodeForbidden
	case http.StatusConflict:
		code = CodeConflict
	default:
		if code == "" {
			code = CodeValidation
		}
	}
	e := Rejected(op, collection, id, code, message)
	e.Status = resp.StatusCode
	return e
}
