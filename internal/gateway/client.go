// Package gateway is the terminal's HTTP client for the commit gateway API.
// It serves both entity lookups for the resolver and the final commit call.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/posflow/internal/flow"
	"github.com/angelmondragon/posflow/internal/resolver"
	"github.com/angelmondragon/posflow/pkg/config"
	"github.com/angelmondragon/posflow/pkg/enums"
	pkgerrors "github.com/angelmondragon/posflow/pkg/errors"
	"github.com/angelmondragon/posflow/pkg/logger"
)

const idempotencyHeader = "Idempotency-Key"

var ErrMissingBaseURL = errors.New("gateway base url is required")

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    any
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway api error: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details any    `json:"details,omitempty"`
	} `json:"error"`
}

// Client talks to the gateway with an operator bearer token.
type Client struct {
	http *resty.Client
	logg *logger.Logger
}

var (
	_ resolver.Lookup    = (*Client)(nil)
	_ flow.CommitGateway = (*Client)(nil)
)

// NewClient builds a gateway client. Commits are never retried here: the
// orchestrator surfaces the failure and the operator retries with the same key.
func NewClient(cfg config.GatewayConfig, logg *logger.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrMissingBaseURL
	}
	httpClient := resty.New().
		SetBaseURL(base).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(1).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || resp.StatusCode() == http.StatusTooManyRequests
		})
	if cfg.Token != "" {
		httpClient.SetAuthScheme("Bearer")
		httpClient.SetAuthToken(cfg.Token)
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Client{http: httpClient, logg: logg}, nil
}

// LookupByID returns (nil, nil) when the gateway has no entity with that id
// that is valid for kind.
func (c *Client) LookupByID(ctx context.Context, kind enums.FlowKind, id string) (*resolver.Entity, error) {
	return c.lookup(ctx, fmt.Sprintf("/api/v1/entities/%s/by-id/%s", kind, url.PathEscape(id)))
}

// LookupByLabel is LookupByID for the printed short code.
func (c *Client) LookupByLabel(ctx context.Context, kind enums.FlowKind, label string) (*resolver.Entity, error) {
	return c.lookup(ctx, fmt.Sprintf("/api/v1/entities/%s/by-label/%s", kind, url.PathEscape(label)))
}

func (c *Client) lookup(ctx context.Context, path string) (*resolver.Entity, error) {
	var out envelope[resolver.Entity]
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, decodeAPIError(resp)
	}
	if out.Data.ID == "" {
		return nil, fmt.Errorf("gateway returned an empty entity for %s", path)
	}
	return &out.Data, nil
}

// IssueEntity registers a newly printed card. Supervisor tokens only.
func (c *Client) IssueEntity(ctx context.Context, label string) (*resolver.Entity, error) {
	var out envelope[resolver.Entity]
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(idempotencyHeader, uuid.NewString()).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"label": label}).
		SetResult(&out).
		Post("/api/v1/entities")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, decodeAPIError(resp)
	}
	return &out.Data, nil
}

// GetCommit loads a stored commit, used to look up the original of a refund.
func (c *Client) GetCommit(ctx context.Context, id string) (flow.CommitResult, error) {
	var out envelope[flow.CommitResult]
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/v1/commits/" + url.PathEscape(id))
	if err != nil {
		return flow.CommitResult{}, err
	}
	if resp.IsError() {
		return flow.CommitResult{}, decodeAPIError(resp)
	}
	return out.Data, nil
}

// Commit posts the request with the flow's idempotency key in both the header
// and the body.
func (c *Client) Commit(ctx context.Context, kind enums.FlowKind, req flow.CommitRequest) (flow.CommitResult, error) {
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return flow.CommitResult{}, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}
	var out envelope[flow.CommitResult]
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(idempotencyHeader, req.IdempotencyKey).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&out).
		Post(fmt.Sprintf("/api/v1/commits/%s", kind))
	if err != nil {
		return flow.CommitResult{}, err
	}
	if resp.IsError() {
		return flow.CommitResult{}, decodeAPIError(resp)
	}

	result := out.Data
	if resp.Header().Get("X-Idempotent-Replay") == "true" {
		result.Replayed = true
	}
	c.logg.Debug(c.logg.WithFields(ctx, map[string]any{
		"flow_kind":       kind.String(),
		"commit_id":       result.ID,
		"idempotency_key": req.IdempotencyKey,
		"replayed":        result.Replayed,
	}), "gateway.commit.ok")
	return result, nil
}

func decodeAPIError(resp *resty.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	var body errorEnvelope
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
		apiErr.Details = body.Error.Details
	}
	if apiErr.Code == "" {
		return apiErr
	}
	return pkgerrors.Wrap(pkgerrors.Code(apiErr.Code), apiErr, apiErr.Message).WithDetails(apiErr.Details)
}
