package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/lingodoc/lingodoc-go/internal/auth"
	"github.com/lingodoc/lingodoc-go/pkg/log"
)

const (
	// DefaultTimeout bounds status, listing and balance calls.
	DefaultTimeout = 15 * time.Second
	// UploadTimeout bounds document submissions, which carry the file body.
	UploadTimeout = 120 * time.Second
	// ResultTimeout bounds result downloads.
	ResultTimeout = 60 * time.Second

	userAgent = "lingodoc-client/1.0"
)

// TokenSource supplies bearer tokens for outgoing requests. auth.Manager is
// the production implementation.
type TokenSource interface {
	GetValidToken(ctx context.Context) (*auth.Token, error)
	ForceRefresh(ctx context.Context) (*auth.Token, error)
	Touch()
}

// Client is the single chokepoint for talking to the translation backend.
// Every request flows through do, which attaches auth, stamps activity and
// maps failures onto the error taxonomy in errors.go.
type Client struct {
	http    *resty.Client
	baseURL string
	tokens  TokenSource

	timeout       time.Duration
	uploadTimeout time.Duration
	resultTimeout time.Duration
}

type Option func(*Client)

// WithTimeout overrides the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithUploadTimeout overrides the submission timeout.
func WithUploadTimeout(d time.Duration) Option {
	return func(c *Client) { c.uploadTimeout = d }
}

// WithResultTimeout overrides the result download timeout.
func WithResultTimeout(d time.Duration) Option {
	return func(c *Client) { c.resultTimeout = d }
}

// WithHTTPClient swaps the underlying transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = resty.NewWithClient(hc) }
}

func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		http:          resty.New(),
		baseURL:       strings.TrimRight(baseURL, "/"),
		tokens:        tokens,
		timeout:       DefaultTimeout,
		uploadTimeout: UploadTimeout,
		resultTimeout: ResultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.SetHeader("User-Agent", userAgent)
	return c
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

// do runs one request with a valid token and retries exactly once after a
// forced refresh when the server answers 401 or 403. The send closure builds
// a fresh request per attempt so bodies are replayable.
func (c *Client) do(ctx context.Context, timeout time.Duration, send func(ctx context.Context, token string) (*resty.Response, error)) (*resty.Response, error) {
	tok, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, WrapError(err, ErrAuthUnavailable, "could not obtain a session token")
	}

	resp, err := c.attempt(ctx, timeout, tok.Raw, send)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		log.Debug("Server rejected token (%d), forcing refresh and retrying once", resp.StatusCode())
		fresh, err := c.tokens.ForceRefresh(ctx)
		if err != nil {
			return nil, WrapError(err, ErrAuthUnavailable, "could not obtain a session token")
		}
		resp, err = c.attempt(ctx, timeout, fresh.Raw, send)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, timeout time.Duration, token string, send func(ctx context.Context, token string) (*resty.Response, error)) (*resty.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := send(reqCtx, token)
	c.tokens.Touch()
	if err != nil {
		return nil, classifyTransport(err)
	}
	return resp, nil
}

func (c *Client) request(ctx context.Context, token string) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetHeader("X-Request-ID", uuid.NewString())
}

func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(err, ErrNetworkTimeout, "request timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return WrapError(err, ErrNetworkTimeout, "request timed out")
	}
	return WrapError(err, ErrNetworkUnreachable, "translation server unreachable")
}

// apiError maps a non-2xx response onto the taxonomy, pulling the
// human-readable message out of whichever error payload shape came back.
func apiError(resp *resty.Response) *Error {
	var body errorBody
	_ = json.Unmarshal(resp.Body(), &body)

	msg := body.text()
	if msg == "" {
		msg = fmt.Sprintf("server returned %s", resp.Status())
	}

	var kind ErrorKind
	status := resp.StatusCode()
	switch {
	case body.notReady():
		kind = ErrJobNotReady
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrAuthExpired
	case status == http.StatusNotFound:
		kind = ErrJobNotFound
	case status == http.StatusConflict:
		kind = ErrJobNotReady
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusRequestEntityTooLarge:
		kind = ErrValidation
	case status >= 500:
		kind = ErrServer
	default:
		kind = ErrUnknown
	}

	e := NewError(kind, msg)
	e.Status = status
	return e
}

// SubmitTranslation uploads one document. The longer upload timeout applies.
func (c *Client) SubmitTranslation(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	var out SubmitResponse
	resp, err := c.do(ctx, c.uploadTimeout, func(ctx context.Context, token string) (*resty.Response, error) {
		return c.request(ctx, token).
			SetFileReader("file", req.Filename, bytes.NewReader(req.Content)).
			SetFormData(map[string]string{
				"source_lang": req.SourceLang,
				"target_lang": req.TargetLang,
			}).
			SetResult(&out).
			Post(c.url("/api/translate"))
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	if out.JobID == "" {
		return nil, NewError(ErrUnknown, "server accepted the upload but returned no job id")
	}
	return &out, nil
}

// JobStatus fetches the current status report for one job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var out JobStatus
	resp, err := c.do(ctx, c.timeout, func(ctx context.Context, token string) (*resty.Response, error) {
		return c.request(ctx, token).
			SetResult(&out).
			Get(c.url("/api/jobs/" + jobID + "/status"))
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	if out.JobID == "" {
		out.JobID = jobID
	}
	return &out, nil
}

// FindJobByFilename looks up a job by the original upload filename. The
// server answers 404 when no active job matches, which surfaces as
// ErrJobNotFound.
func (c *Client) FindJobByFilename(ctx context.Context, filename string) (*JobSummary, error) {
	var out JobSummary
	resp, err := c.do(ctx, c.timeout, func(ctx context.Context, token string) (*resty.Response, error) {
		return c.request(ctx, token).
			SetResult(&out).
			SetQueryParam("filename", filename).
			Get(c.url("/api/jobs/find"))
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	if out.JobID == "" {
		return nil, NewError(ErrJobNotFound, "no job matches the file name")
	}
	return &out, nil
}

// ActiveJobs lists the account's non-terminal jobs, newest first.
func (c *Client) ActiveJobs(ctx context.Context) ([]JobSummary, error) {
	var out jobListResponse
	resp, err := c.do(ctx, c.timeout, func(ctx context.Context, token string) (*resty.Response, error) {
		return c.request(ctx, token).
			SetResult(&out).
			SetQueryParam("active", "true").
			Get(c.url("/api/jobs"))
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return out.Jobs, nil
}

// FetchResult downloads the translated document, or the partial artifact
// when partial is set.
func (c *Client) FetchResult(ctx context.Context, jobID string, partial bool) (*ResultDocument, error) {
	resp, err := c.do(ctx, c.resultTimeout, func(ctx context.Context, token string) (*resty.Response, error) {
		r := c.request(ctx, token)
		if partial {
			r.SetQueryParam("partial", "true")
		}
		return r.Get(c.url("/api/jobs/" + jobID + "/result"))
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}

	doc := &ResultDocument{
		JobID:    jobID,
		Partial:  partial,
		MIMEType: resp.Header().Get("Content-Type"),
		Content:  resp.Body(),
	}
	if cd := resp.Header().Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			doc.Filename = params["filename"]
		}
	}
	return doc, nil
}

// CancelJob asks the server to stop a running job.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	resp, err := c.do(ctx, c.timeout, func(ctx context.Context, token string) (*resty.Response, error) {
		return c.request(ctx, token).
			Post(c.url("/api/jobs/" + jobID + "/cancel"))
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

// Balance fetches the account's page quota.
func (c *Client) Balance(ctx context.Context) (*BalanceInfo, error) {
	var out BalanceInfo
	resp, err := c.do(ctx, c.timeout, func(ctx context.Context, token string) (*resty.Response, error) {
		return c.request(ctx, token).
			SetResult(&out).
			Get(c.url("/api/balance"))
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// AddPages tops up the account quota and returns the new balance.
func (c *Client) AddPages(ctx context.Context, pages int) (*BalanceInfo, error) {
	var out BalanceInfo
	resp, err := c.do(ctx, c.timeout, func(ctx context.Context, token string) (*resty.Response, error) {
		return c.request(ctx, token).
			SetHeader("Content-Type", "application/json").
			SetBody(map[string]int{"pages": pages}).
			SetResult(&out).
			Post(c.url("/api/balance/add"))
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}
