// Package remote is the HTTP client of the criteria service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/denisok6893-rgb/open-house/internal/domain"
)

type Client struct {
	baseURL string
	http    *http.Client
	session *Session
	limiter *rate.Limiter
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithSession(s *Session) Option { return func(c *Client) { c.session = s } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithRateLimit bounds outbound requests to r per second with the given burst.
func WithRateLimit(r float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(r), burst) }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		session: NewSession(""),
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "remote")
	return c
}

func (c *Client) Session() *Session { return c.session }

// Token implements the coordinator's token source.
func (c *Client) Token() string { return c.session.Token() }

// Register creates an account and keeps the returned token.
func (c *Client) Register(ctx context.Context, email, password string) error {
	return c.authenticate(ctx, "/register", email, password)
}

// Login keeps the token of an existing account.
func (c *Client) Login(ctx context.Context, email, password string) error {
	return c.authenticate(ctx, "/login", email, password)
}

func (c *Client) authenticate(ctx context.Context, path, email, password string) error {
	if err := ValidateCredentials(email, password); err != nil {
		return err
	}
	var out domain.TokenResponse
	if err := c.do(ctx, http.MethodPost, path, domain.Credentials{Email: email, Password: password}, &out, false); err != nil {
		return err
	}
	c.session.Set(out.Token)
	return nil
}

func (c *Client) Houses(ctx context.Context) ([]domain.HouseSummary, error) {
	var out domain.HousesResponse
	if err := c.do(ctx, http.MethodGet, "/houses", nil, &out, true); err != nil {
		return nil, err
	}
	return out.Houses, nil
}

func (c *Client) CreateHouse(ctx context.Context, name, address string) (domain.HouseSummary, error) {
	var out domain.HouseSummary
	err := c.do(ctx, http.MethodPost, "/houses", domain.CreateHouseRequest{Name: name, Address: address}, &out, true)
	return out, err
}

// Criteria fetches the service's snapshot of one house.
func (c *Client) Criteria(ctx context.Context, hid int64) ([]domain.Criterion, error) {
	var out domain.CriteriaResponse
	if err := c.do(ctx, http.MethodGet, "/criteria?hid="+strconv.FormatInt(hid, 10), nil, &out, true); err != nil {
		return nil, err
	}
	return out.Criteria, nil
}

func (c *Client) DreamHouse(ctx context.Context) ([]domain.Criterion, error) {
	var out domain.DreamHouseResponse
	if err := c.do(ctx, http.MethodGet, "/dreamhouse", nil, &out, true); err != nil {
		return nil, err
	}
	return out.Criteria, nil
}

// UpdateCriterion sends one value change. Repeating it is safe.
func (c *Client) UpdateCriterion(ctx context.Context, req domain.UpdateCriterionRequest) error {
	return c.do(ctx, http.MethodPost, "/updateCriterion", req, nil, true)
}

// AddCriterion stores a criterion the user added to one house.
func (c *Client) AddCriterion(ctx context.Context, req domain.AddCriterionRequest) error {
	return c.do(ctx, http.MethodPost, "/addCriterion", req, nil, true)
}

// RemoveCriterion deletes a user criterion from one house.
func (c *Client) RemoveCriterion(ctx context.Context, req domain.RemoveCriterionRequest) error {
	return c.do(ctx, http.MethodPost, "/removeCriterion", req, nil, true)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, auth bool) error {
	var token string
	if auth {
		// no limiter token is spent on a call that cannot be authorized
		if token = c.session.Token(); token == "" {
			return fmt.Errorf("%w: no session token", domain.ErrAuth)
		}
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrNetwork, method, path, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rerr := &domain.RemoteError{Status: resp.StatusCode, Message: readMessage(resp.Body)}
		c.logger.Warn("request failed", "method", method, "path", path, "status", rerr.Status, "message", rerr.Message)
		return rerr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrNetwork, path, err)
	}
	return nil
}

// readMessage pulls the human readable part out of an error body.
func readMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 64<<10))
	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(b, &problem); err == nil {
		if problem.Detail != "" {
			return problem.Detail
		}
		if problem.Title != "" {
			return problem.Title
		}
	}
	return strings.TrimSpace(string(b))
}
