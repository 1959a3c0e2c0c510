// Package httpclient is the JSON client services use to call each other.
// Error responses are mapped back onto apperrors so a caller sees the same
// Kind and Code the callee returned.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yashrajoria/marketplace/services/common/apperrors"
)

const DefaultTimeout = 10 * time.Second

// Identity is forwarded as X-User-ID / X-User-Role.
type Identity struct {
	UserID string
	Role   string
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	identity   Identity
}

func New(baseURL string, identity Identity) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		identity:   identity,
	}
}

// WithHTTPClient replaces the underlying client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// As returns a copy that forwards id instead of the default identity.
func (c *Client) As(id Identity) *Client {
	cp := *c
	cp.identity = id
	return &cp
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) Put(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPut, path, in, out)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil)
}

// Do sends in as JSON and decodes a 2xx body into out.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	return c.DoWithHeaders(ctx, method, path, nil, in, out)
}

// DoWithHeaders is Do with extra request headers.
func (c *Client) DoWithHeaders(ctx context.Context, method, path string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return apperrors.Internal("encode request", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperrors.Internal("build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.identity.UserID != "" {
		req.Header.Set("X-User-ID", c.identity.UserID)
	}
	if c.identity.Role != "" {
		req.Header.Set("X-User-Role", c.identity.Role)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apperrors.Wrap(apperrors.KindTimeout, apperrors.CodeUnavailable, method+" "+path+" timed out", err)
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		return apperrors.Transient(method+" "+path+" failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Internal("decode response", err)
		}
		return nil
	}
	return decodeError(resp)
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
	if payload.Error == "" {
		payload.Error = fmt.Sprintf("upstream returned %d", resp.StatusCode)
	}

	kind := kindForStatus(resp.StatusCode)
	code := payload.Code
	if code == "" {
		code = apperrors.CodeUnavailable
		if kind == apperrors.KindInternal {
			code = apperrors.CodeInternal
		}
	}
	return apperrors.New(kind, code, payload.Error)
}

func kindForStatus(status int) apperrors.Kind {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return apperrors.KindValidation
	case status == http.StatusNotFound:
		return apperrors.KindNotFound
	case status == http.StatusConflict:
		return apperrors.KindConflict
	case status == http.StatusPaymentRequired:
		return apperrors.KindPaymentRequired
	case status == http.StatusGatewayTimeout, status == http.StatusRequestTimeout:
		return apperrors.KindTimeout
	case status == http.StatusTooManyRequests, status >= 500:
		return apperrors.KindTransient
	default:
		return apperrors.KindInternal
	}
}
