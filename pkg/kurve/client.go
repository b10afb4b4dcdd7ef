// Package kurve is a client for the Kurve customer portal API.
package kurve

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kurve-cli/internal/fetcher"
	"github.com/sells-group/kurve-cli/internal/model"
	"github.com/sells-group/kurve-cli/internal/resilience"
)

const (
	defaultBaseURL   = "https://api.mykurve.com"
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
	webOrigin        = "https://www.mykurve.com"
)

// ErrNoAccounts is returned when the portal lists no accounts for the token.
var ErrNoAccounts = eris.New("kurve: no customer accounts")

// Client reads consumption data for one authenticated customer.
type Client struct {
	baseURL string
	fetch   fetcher.Fetcher
}

type options struct {
	baseURL   string
	userAgent string
	timeout   time.Duration
	rate      float64
	retry     resilience.RetryConfig
	logger    *zap.Logger
	fetcher   fetcher.Fetcher
}

// Option configures the client.
type Option func(*options)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithUserAgent overrides the browser user agent sent with every request.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithTimeout bounds each request attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRateLimit caps requests per second.
func WithRateLimit(perSec float64) Option {
	return func(o *options) { o.rate = perSec }
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(o *options) { o.retry = cfg }
}

// WithLogger sets the logger used by the underlying fetcher.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithFetcher replaces the HTTP fetcher entirely. The token and headers
// are then the fetcher's responsibility.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// NewClient creates a client authenticated with a bearer token.
func NewClient(token string, opts ...Option) *Client {
	o := &options{
		baseURL:   defaultBaseURL,
		userAgent: defaultUserAgent,
		timeout:   fetcher.DefaultTimeout,
		retry:     resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}

	f := o.fetcher
	if f == nil {
		f = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:     o.userAgent,
			Timeout:       o.timeout,
			Headers:       commonHeaders(token),
			RatePerSecond: o.rate,
			Retry:         o.retry,
			Logger:        o.logger,
		})
	}
	return &Client{baseURL: o.baseURL, fetch: f}
}

func commonHeaders(token string) map[string]string {
	return map[string]string{
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "en-GB,en;q=0.5",
		"Origin":          webOrigin,
		"Referer":         webOrigin + "/",
		"Authorization":   "Bearer " + token,
		"Priority":        "u=0",
	}
}

// ConsumptionURL builds the consumption graph URL for one page.
func (c *Client) ConsumptionURL(account string, g model.Granularity, page int) (string, error) {
	tr, err := g.TimeRange()
	if err != nil {
		return "", eris.Wrap(err, "kurve: consumption url")
	}
	q := url.Values{}
	q.Set("accountNumber", account)
	q.Set("timeRange", tr)
	q.Set("page", strconv.Itoa(page))
	return c.baseURL + "/api/Pages/ConsumptionGraphV2?" + q.Encode(), nil
}

// ConsumptionPage fetches one page of the consumption graph. Page 0 is the
// current period, negative pages step back in time.
func (c *Client) ConsumptionPage(ctx context.Context, account string, g model.Granularity, page int) (*model.ConsumptionPage, error) {
	u, err := c.ConsumptionURL(account, g, page)
	if err != nil {
		return nil, err
	}
	p, err := fetcher.GetJSON[model.ConsumptionPage](ctx, c.fetch, u)
	if err != nil {
		return nil, eris.Wrapf(err, "kurve: consumption %s page %d", g, page)
	}
	return p, nil
}

type customerAccounts struct {
	Accounts []struct {
		AccountNumber accountNumber `json:"accountNumber"`
	} `json:"accounts"`
}

// accountNumber accepts the number as either a JSON string or number.
type accountNumber string

func (a *accountNumber) UnmarshalJSON(b []byte) error {
	s := string(b)
	if uq, err := strconv.Unquote(s); err == nil {
		s = uq
	}
	*a = accountNumber(s)
	return nil
}

// AccountNumber returns the first account listed for the authenticated
// customer.
func (c *Client) AccountNumber(ctx context.Context) (string, error) {
	res, err := fetcher.GetJSON[customerAccounts](ctx, c.fetch, c.baseURL+"/api/Pages/CustomerAccounts")
	if err != nil {
		return "", eris.Wrap(err, "kurve: customer accounts")
	}
	if len(res.Accounts) == 0 || res.Accounts[0].AccountNumber == "" {
		return "", ErrNoAccounts
	}
	return string(res.Accounts[0].AccountNumber), nil
}
