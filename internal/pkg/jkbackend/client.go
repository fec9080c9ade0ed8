package jkbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/net/proxy"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/models"
)

const (
	DefaultTimeout = 30 * time.Second

	endpointPath      = "//api/v1/index.php"
	moduleUsers       = "/users/getAllUsers"
	moduleTransaction = "/transactions/getAllTransactions"
	userAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

	StatusSuccess = "SUCCESS"

	defaultSyncDays = 2
	maxSyncDays     = 30
	dateLayout      = "2006-01-02T15:04:05Z"
)

// Page is one page of a provider listing
type Page struct {
	Status    string
	Message   string
	Records   []Record
	TotalPage int
}

// OK reports whether the provider accepted the request
func (p *Page) OK() bool {
	return p != nil && p.Status == StatusSuccess
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type listing struct {
	Users        []Record `json:"users"`
	Transactions []Record `json:"transactions"`
	TotalPage    FlexInt  `json:"totalPage"`
}

// Client talks to the JK backend. It holds no per-tenant state: credentials
// and proxy routing are taken from the config passed to every call.
type Client struct {
	baseURL string
	timeout time.Duration
	now     func() time.Time
}

// NewClient creates a client. baseURL is used for tenants without their own apiUrl.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		now:     time.Now,
	}
}

// FetchUser loads a single user by provider id.
func (c *Client) FetchUser(ctx context.Context, cfg *models.IntegrationConfig, id string) (Record, error) {
	page, err := c.call(ctx, cfg, moduleUsers, url.Values{"id": {id}})
	if err != nil {
		return nil, err
	}
	if !page.OK() || len(page.Records) == 0 {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return page.Records[0], nil
}

// FetchUsers loads one page of active users. params are merged over the defaults.
func (c *Client) FetchUsers(ctx context.Context, cfg *models.IntegrationConfig, page int, params map[string]interface{}) (*Page, error) {
	form := url.Values{
		"pageIndex": {strconv.Itoa(page)},
		"status":    {"ACTIVE"},
	}
	mergeParams(form, params)
	return c.call(ctx, cfg, moduleUsers, form)
}

// FetchTransactions loads one page of deposit transactions inside the tenant's
// lookback window. filters (e.g. id, userId) and the tenant's params are merged last.
func (c *Client) FetchTransactions(ctx context.Context, cfg *models.IntegrationConfig, page int, filters map[string]interface{}) (*Page, error) {
	end := c.now().UTC()
	start := end.AddDate(0, 0, -LookbackDays(cfg))

	form := url.Values{
		"pageIndex": {strconv.Itoa(page)},
		"type":      {"DEPOSIT"},
		"sDate":     {start.Format(dateLayout)},
		"eDate":     {end.Format(dateLayout)},
	}
	mergeParams(form, filters)
	mergeParams(form, cfg.SyncParams)
	return c.call(ctx, cfg, moduleTransaction, form)
}

// LookbackDays returns the deposit lookback window in days, clamped to 1..30.
func LookbackDays(cfg *models.IntegrationConfig) int {
	days := defaultSyncDays
	if dep, ok := cfg.SyncConfigFor(models.SyncTypeDeposit); ok && dep.SyncDays > 0 {
		days = dep.SyncDays
	}
	if days < 1 {
		days = 1
	}
	if days > maxSyncDays {
		days = maxSyncDays
	}
	return days
}

func mergeParams(form url.Values, params map[string]interface{}) {
	for k, v := range params {
		form.Set(k, models.ParamString(v))
	}
}

func (c *Client) endpoint(cfg *models.IntegrationConfig) (string, error) {
	base := strings.TrimSpace(cfg.APIURL)
	if base == "" {
		base = strings.TrimSpace(c.baseURL)
	}
	base = strings.TrimSuffix(base, "/")
	if base == "" || cfg.AccessID == "" || cfg.AccessToken == "" {
		return "", ErrMissingConfig
	}
	return base + endpointPath, nil
}

func (c *Client) call(ctx context.Context, cfg *models.IntegrationConfig, module string, form url.Values) (*Page, error) {
	if cfg == nil {
		return nil, ErrMissingConfig
	}
	target, err := c.endpoint(cfg)
	if err != nil {
		return nil, err
	}
	company := CompanyFromContext(ctx)

	form.Set("module", module)
	form.Set("accessId", cfg.AccessID)
	form.Set("accessToken", cfg.AccessToken)

	httpClient, closeIdle, err := c.httpClient(cfg.Proxy)
	if err != nil {
		return nil, fmt.Errorf("proxy setup for company %s: %w", company, err)
	}
	defer closeIdle()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	if cfg.Proxy.Active() {
		log.Debugf("[JKBackend] Using proxy %s://%s for %s (company %s)", cfg.Proxy.Protocol, cfg.Proxy.Address(), target, company)
	}
	log.Debugf("[JKBackend] POST %s module=%s page=%s (company %s)", target, module, form.Get("pageIndex"), company)

	resp, err := httpClient.Do(req)
	if err != nil {
		log.Errorf("[JKBackend] Request failed [%s] (company %s): %v", target, company, err)
		return nil, fmt.Errorf("jk request %s: %w", module, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read jk response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		log.Errorf("[JKBackend] Request failed [%s] (company %s): status %d", target, company, resp.StatusCode)
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: target, Body: snippet}
	}

	return decodePage(body)
}

func decodePage(body []byte) (*Page, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode jk response: %w", err)
	}

	page := &Page{Status: env.Status, Message: env.Message}
	if env.Status != StatusSuccess || len(env.Data) == 0 || string(env.Data) == "null" {
		return page, nil
	}

	var data listing
	dec = json.NewDecoder(bytes.NewReader(env.Data))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode jk listing: %w", err)
	}
	page.TotalPage = int(data.TotalPage)
	page.Records = data.Users
	if len(page.Records) == 0 {
		page.Records = data.Transactions
	}
	return page, nil
}

// httpClient builds a client for one call. Tenants never share a transport,
// so proxy routing of one tenant cannot leak into another.
func (c *Client) httpClient(p *models.ProxyConfig) (*http.Client, func(), error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        2,
		IdleConnTimeout:     30 * time.Second,
	}

	if p.Active() {
		switch strings.ToLower(p.Protocol) {
		case models.ProxyProtocolSOCKS5:
			var auth *proxy.Auth
			if p.Username != "" {
				auth = &proxy.Auth{User: p.Username, Password: p.Password}
			}
			// hostnames are resolved by the proxy
			socks, err := proxy.SOCKS5("tcp", p.Address(), auth, dialer)
			if err != nil {
				return nil, nil, err
			}
			ctxDialer, ok := socks.(proxy.ContextDialer)
			if !ok {
				return nil, nil, errors.New("socks5 dialer does not support contexts")
			}
			transport.DialContext = ctxDialer.DialContext
		default:
			proxyURL := &url.URL{Scheme: "http", Host: p.Address()}
			if p.Username != "" {
				proxyURL.User = url.UserPassword(p.Username, p.Password)
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &http.Client{Timeout: c.timeout, Transport: transport}, transport.CloseIdleConnections, nil
}

type companyKey struct{}

// WithCompany tags ctx with the tenant id used in log lines.
func WithCompany(ctx context.Context, companyID string) context.Context {
	return context.WithValue(ctx, companyKey{}, companyID)
}

// CompanyFromContext returns the tenant id set by WithCompany or "-".
func CompanyFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(companyKey{}).(string); ok && id != "" {
		return id
	}
	return "-"
}
