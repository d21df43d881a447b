// Package salesforce talks to the remote object-query service: object
// describes, bulk query jobs and their result streams.
package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/sfbulk/pkg/auth"
	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/ethpandaops/sfbulk/pkg/observability"
	"github.com/ethpandaops/sfbulk/pkg/retry"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SessionSource issues a fresh session when the current one expires
type SessionSource interface {
	Login(ctx context.Context) (auth.Session, error)
}

type apiKind int

const (
	apiREST apiKind = iota
	apiBulk
)

type request struct {
	op          string
	api         apiKind
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	headers     map[string]string
}

// Client is a rate-limited, retrying client bound to one session
type Client struct {
	log        logrus.FieldLogger
	cfg        *Config
	httpClient *http.Client
	limiter    *rate.Limiter
	refresher  SessionSource

	mu      sync.RWMutex
	session auth.Session

	describeMu    sync.Mutex
	describeCache map[string][]Field
}

// NewClient creates a client. refresher may be nil, in which case an
// expired session is terminal.
func NewClient(log logrus.FieldLogger, cfg *Config, httpClient *http.Client, session auth.Session, refresher SessionSource) *Client {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		log:           log.WithField("component", "salesforce"),
		cfg:           cfg,
		httpClient:    httpClient,
		limiter:       rate.NewLimiter(limit, burst),
		refresher:     refresher,
		session:       session,
		describeCache: make(map[string][]Field),
	}
}

// Session returns the session currently in use
func (c *Client) Session() auth.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.session
}

// APIVersion returns the configured API version
func (c *Client) APIVersion() string {
	return c.cfg.APIVersion
}

// refresh replaces stale with a new session. When another caller already
// replaced it the call is a no-op.
func (c *Client) refresh(ctx context.Context, stale auth.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Token() != stale.Token() {
		return nil
	}

	c.log.Info("Session expired, logging in again")

	session, err := c.refresher.Login(ctx)
	if err != nil {
		return err
	}

	c.session = session

	return nil
}

func (c *Client) endpoint(s auth.Session, req *request) string {
	base := s.InstanceURL() + "/services/data/v" + c.cfg.APIVersion
	if req.api == apiBulk {
		base = s.InstanceURL() + "/services/async/" + c.cfg.APIVersion
	}

	u := base + "/" + strings.TrimPrefix(req.path, "/")
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	return u
}

// once performs a single attempt and returns the open response on 2xx
func (c *Client) once(ctx context.Context, req *request, s auth.Session) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.endpoint(s, req), body)
	if err != nil {
		return nil, failure.Wrap(failure.KindInternal, req.op, err)
	}

	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	if req.api == apiBulk {
		httpReq.Header.Set("X-SFDC-Session", s.Token())
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+s.Token())
		httpReq.Header.Set("Accept", "application/json")
	}

	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		observability.RecordHTTPRequest(req.op, "error", time.Since(start).Seconds())

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		return nil, &failure.Error{Kind: failure.KindTransient, Op: req.op, Err: err}
	}

	observability.RecordHTTPRequest(req.op, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()

		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4*maxErrorBody))

		return nil, classifyResponse(req.op, resp, payload)
	}

	return resp, nil
}

// retrying runs fn under the retry policy. An expired session is refreshed
// once per call when a refresher is configured.
func (c *Client) retrying(ctx context.Context, op string, fn func(ctx context.Context, s auth.Session) error) error {
	refreshed := false

	err := retry.Do(ctx, c.cfg.Retry, op, func(ctx context.Context) error {
		s := c.Session()

		err := fn(ctx, s)
		if err != nil && failure.Is(err, failure.KindExpiredSession) && !refreshed && c.refresher != nil {
			refreshed = true

			if rerr := c.refresh(ctx, s); rerr != nil {
				return rerr
			}

			err = fn(ctx, c.Session())
		}

		return err
	}, func(attempt int, err error) {
		observability.RecordRetry(op)
		c.log.WithError(err).WithFields(logrus.Fields{
			"operation": op,
			"attempt":   attempt,
		}).Warn("Request failed, retrying")
	})
	if err != nil {
		observability.RecordError("salesforce", string(failure.KindOf(err)))
	}

	return err
}

// call performs req and decodes the response into out. out may be nil to
// discard the body, or *[]byte to receive it raw.
func (c *Client) call(ctx context.Context, req *request, out any) error {
	return c.retrying(ctx, req.op, func(ctx context.Context, s auth.Session) error {
		resp, err := c.once(ctx, req, s)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return &failure.Error{Kind: failure.KindTransient, Op: req.op, Message: "failed to read response", Err: err}
		}

		switch v := out.(type) {
		case nil:
			return nil
		case *[]byte:
			*v = payload
			return nil
		}

		if err := decodeBody(payload, out); err != nil {
			return &failure.Error{Kind: failure.KindInternal, Op: req.op, Message: "failed to decode response", Err: err}
		}

		return nil
	})
}

// stream performs req and hands back the open response body
func (c *Client) stream(ctx context.Context, req *request) (io.ReadCloser, error) {
	var body io.ReadCloser

	err := c.retrying(ctx, req.op, func(ctx context.Context, s auth.Session) error {
		resp, err := c.once(ctx, req, s)
		if err != nil {
			return err
		}

		body = resp.Body

		return nil
	})
	if err != nil {
		return nil, err
	}

	return body, nil
}

// decodeBody decodes XML or JSON, whichever the payload is
func decodeBody(payload []byte, out any) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return xml.Unmarshal(trimmed, out)
	}

	return json.Unmarshal(trimmed, out)
}
