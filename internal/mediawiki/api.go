package mediawiki

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/net/publicsuffix"
)

const (
	defaultTimeout     = 30 * time.Second
	maxCategoryBatch   = 500
	categoryNamespace  = "Category:"
	maxResponseBytes   = 16 << 20
	anonymousCSRFToken = "+\\"
)

// APIOptions configures an APIClient.
type APIOptions struct {
	APIURL     string
	Username   string
	Password   string
	UserAgent  string
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// APIClient implements Client over the MediaWiki action API with formatversion=2 JSON.
type APIClient struct {
	endpoint   string
	username   string
	password   string
	userAgent  string
	httpClient *http.Client
	logger     *logrus.Logger

	mu        sync.Mutex
	loggedIn  bool
	csrfToken string
}

var _ Client = (*APIClient)(nil)

// NewAPIClient constructs a client with its own cookie jar for the login session.
func NewAPIClient(opts APIOptions) (*APIClient, error) {
	endpoint := strings.TrimSpace(opts.APIURL)
	if endpoint == "" {
		return nil, eris.New("wiki API URL is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, eris.Wrapf(err, "invalid wiki API URL: %s", endpoint)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, eris.Wrap(err, "creating cookie jar")
		}
		clientCopy := *httpClient
		clientCopy.Jar = jar
		httpClient = &clientCopy
	}

	return &APIClient{
		endpoint:   endpoint,
		username:   strings.TrimSpace(opts.Username),
		password:   opts.Password,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// GetPage fetches the current content of the page stored under title.
func (c *APIClient) GetPage(ctx context.Context, title string) (*Page, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return nil, eris.New("title is required")
	}

	return c.fetchPage(ctx, url.Values{"titles": {trimmed}}, trimmed)
}

// GetPageByID fetches the current content of the page with the given id.
func (c *APIClient) GetPageByID(ctx context.Context, pageID int64) (*Page, error) {
	if pageID <= 0 {
		return nil, eris.New("page id is required")
	}

	id := strconv.FormatInt(pageID, 10)
	return c.fetchPage(ctx, url.Values{"pageids": {id}}, "#"+id)
}

func (c *APIClient) fetchPage(ctx context.Context, selector url.Values, label string) (*Page, error) {
	params := url.Values{
		"action":  {"query"},
		"prop":    {"revisions|info"},
		"rvprop":  {"content"},
		"rvslots": {"main"},
	}
	for key, values := range selector {
		params[key] = values
	}

	result, err := c.call(ctx, http.MethodGet, params)
	if err != nil {
		return nil, eris.Wrapf(err, "fetching page %s", label)
	}

	raw := result.Get("query.pages.0")
	if !raw.Exists() || raw.Get("missing").Bool() || raw.Get("invalid").Bool() {
		return nil, eris.Wrapf(ErrPageMissing, "page %s", label)
	}

	page := &Page{
		ID:         raw.Get("pageid").Int(),
		Title:      raw.Get("title").String(),
		Namespace:  int(raw.Get("ns").Int()),
		Content:    raw.Get("revisions.0.slots.main.content").String(),
		IsRedirect: raw.Get("redirect").Bool(),
	}

	if page.IsRedirect {
		target, err := c.resolveRedirect(ctx, page.Title)
		if err != nil {
			return nil, err
		}
		page.RedirectTarget = target
	}

	return page, nil
}

func (c *APIClient) resolveRedirect(ctx context.Context, title string) (*RedirectTarget, error) {
	result, err := c.call(ctx, http.MethodGet, url.Values{
		"action":    {"query"},
		"titles":    {title},
		"redirects": {"1"},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "resolving redirect %s", title)
	}

	target := result.Get("query.redirects.0.to")
	if !target.Exists() {
		return nil, nil
	}

	return &RedirectTarget{
		Title:     target.String(),
		Namespace: int(result.Get("query.pages.0.ns").Int()),
	}, nil
}

// CategoryMembers lists up to limit page titles in the category, following continuation.
func (c *APIClient) CategoryMembers(ctx context.Context, category string, limit int) ([]string, error) {
	name := strings.TrimSpace(category)
	if name == "" {
		return nil, eris.New("category is required")
	}
	if limit <= 0 {
		return []string{}, nil
	}
	if !strings.HasPrefix(name, categoryNamespace) {
		name = categoryNamespace + name
	}

	titles := make([]string, 0, limit)
	params := url.Values{
		"action":  {"query"},
		"list":    {"categorymembers"},
		"cmtitle": {name},
		"cmprop":  {"title"},
	}

	for len(titles) < limit {
		params.Set("cmlimit", strconv.Itoa(min(limit-len(titles), maxCategoryBatch)))

		result, err := c.call(ctx, http.MethodGet, params)
		if err != nil {
			return nil, eris.Wrapf(err, "listing members of %s", name)
		}

		result.Get("query.categorymembers.#.title").ForEach(func(_, value gjson.Result) bool {
			titles = append(titles, value.String())
			return len(titles) < limit
		})

		next := result.Get("continue")
		if !next.Exists() {
			break
		}
		next.ForEach(func(key, value gjson.Result) bool {
			params.Set(key.String(), value.String())
			return true
		})
	}

	return titles, nil
}

// Edit replaces the text of the page, logging in first when credentials are configured.
func (c *APIClient) Edit(ctx context.Context, title, text, summary string, opts EditOptions) error {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return eris.New("title is required")
	}

	token, err := c.token(ctx)
	if err != nil {
		return eris.Wrapf(err, "editing %s", trimmed)
	}

	params := url.Values{
		"action":  {"edit"},
		"title":   {trimmed},
		"text":    {text},
		"summary": {summary},
		"token":   {token},
	}
	if opts.Minor {
		params.Set("minor", "1")
	}
	if opts.Bot {
		params.Set("bot", "1")
	}

	result, err := c.call(ctx, http.MethodPost, params)
	if err != nil {
		c.invalidateToken()
		return eris.Wrapf(err, "editing %s", trimmed)
	}

	if outcome := result.Get("edit.result").String(); outcome != "Success" {
		return eris.Errorf("editing %s: unexpected result %q", trimmed, outcome)
	}

	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"component": "mediawiki",
			"title":     trimmed,
			"revision":  result.Get("edit.newrevid").Int(),
			"nochange":  result.Get("edit.nochange").Bool(),
		}).Info("saved page")
	}

	return nil
}

func (c *APIClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.csrfToken != "" {
		return c.csrfToken, nil
	}

	if c.username != "" && !c.loggedIn {
		if err := c.login(ctx); err != nil {
			return "", err
		}
	}

	result, err := c.call(ctx, http.MethodGet, url.Values{"action": {"query"}, "meta": {"tokens"}, "type": {"csrf"}})
	if err != nil {
		return "", eris.Wrap(err, "fetching csrf token")
	}

	token := result.Get("query.tokens.csrftoken").String()
	if token == "" {
		return "", eris.New("wiki returned an empty csrf token")
	}
	if token == anonymousCSRFToken && c.username != "" {
		c.loggedIn = false
		return "", eris.New("wiki session is not logged in")
	}

	c.csrfToken = token
	return token, nil
}

func (c *APIClient) login(ctx context.Context) error {
	result, err := c.call(ctx, http.MethodGet, url.Values{"action": {"query"}, "meta": {"tokens"}, "type": {"login"}})
	if err != nil {
		return eris.Wrap(err, "fetching login token")
	}

	loginToken := result.Get("query.tokens.logintoken").String()
	if loginToken == "" {
		return eris.New("wiki returned an empty login token")
	}

	result, err = c.call(ctx, http.MethodPost, url.Values{
		"action":     {"login"},
		"lgname":     {c.username},
		"lgpassword": {c.password},
		"lgtoken":    {loginToken},
	})
	if err != nil {
		return eris.Wrap(err, "logging in")
	}

	if outcome := result.Get("login.result").String(); outcome != "Success" {
		return eris.Errorf("logging in as %s: %s %s", c.username, outcome, result.Get("login.reason").String())
	}

	c.loggedIn = true
	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{"component": "mediawiki", "user": result.Get("login.lgusername").String()}).Info("logged in to wiki")
	}
	return nil
}

func (c *APIClient) invalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.csrfToken = ""
}

func (c *APIClient) call(ctx context.Context, method string, params url.Values) (gjson.Result, error) {
	values := url.Values{}
	for key, value := range params {
		values[key] = value
	}
	values.Set("format", "json")
	values.Set("formatversion", "2")

	var (
		req *http.Request
		err error
	)
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+values.Encode(), nil)
	}
	if err != nil {
		return gjson.Result{}, eris.Wrap(err, "building wiki request")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, eris.Wrap(err, "calling wiki API")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, eris.Wrap(err, "reading wiki response")
	}

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, eris.Errorf("wiki API returned status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, eris.New("wiki API returned invalid JSON")
	}

	result := gjson.ParseBytes(body)
	if apiErr := result.Get("error"); apiErr.Exists() {
		return gjson.Result{}, eris.Errorf("wiki API error %s: %s", apiErr.Get("code").String(), apiErr.Get("info").String())
	}

	return result, nil
}
