// Package metawiki talks to the external translation service, a
// MediaWiki-style API that stores translation units as message bundles and
// serves translated collections per language.
package metawiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
	"unicode"
)

const defaultUserAgent = "metasync/1.0 (translation sync agent)"

// Config holds the connection profile for the service.
type Config struct {
	BaseURL     string `yaml:"base_url"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TitlePrefix string `yaml:"title_prefix"`
	UserAgent   string `yaml:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_seconds"`
}

// AuthError marks a session bootstrap failure. The client cannot proceed
// without a valid session, so callers abort the whole run on it.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("authentication failed during %s: %v", e.Op, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// Message is one translation unit record in a fetched collection.
type Message struct {
	Key         string            `json:"key"`
	Translation string            `json:"translation"`
	Properties  MessageProperties `json:"properties"`
}

// MessageProperties carry the per-unit review status and revision marker.
type MessageProperties struct {
	Status   string   `json:"status"`
	Revision Revision `json:"revision"`
}

// Revision is the service's opaque change marker; the wire format uses
// numbers or strings interchangeably.
type Revision string

func (r *Revision) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = Revision(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode revision: %w", err)
	}
	*r = Revision(n.String())
	return nil
}

// Client is a session-holding API client. Login must succeed before any
// write call; the CSRF token obtained there authorizes edits.
type Client struct {
	cfg  Config
	http *http.Client
	csrf string
}

// New creates a client with a fresh cookie session.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("service base URL is required")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	timeout := 30 * time.Second
	if cfg.TimeoutSecs > 0 {
		timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
	}, nil
}

// Login bootstraps the session: fetch a login token, log in with it, then
// fetch the CSRF token used by subsequent edits.
func (c *Client) Login(ctx context.Context) error {
	loginToken, err := c.fetchToken(ctx, "login", "logintoken")
	if err != nil {
		return &AuthError{Op: "login token fetch", Err: err}
	}

	var result struct {
		Login struct {
			Result string `json:"result"`
			Reason string `json:"reason"`
		} `json:"login"`
	}
	err = c.post(ctx, url.Values{
		"action":     {"login"},
		"lgname":     {c.cfg.Username},
		"lgpassword": {c.cfg.Password},
		"lgtoken":    {loginToken},
	}, &result)
	if err != nil {
		return &AuthError{Op: "login", Err: err}
	}
	if result.Login.Result != "Success" {
		return &AuthError{Op: "login", Err: fmt.Errorf("service answered %q: %s", result.Login.Result, result.Login.Reason)}
	}

	csrf, err := c.fetchToken(ctx, "csrf", "csrftoken")
	if err != nil {
		return &AuthError{Op: "csrf token fetch", Err: err}
	}
	c.csrf = csrf
	return nil
}

// EditMessageBundle creates or updates the message group stored under title
// with a flat key-to-value payload (including the @metadata entry). Returns
// the page title the service assigned.
func (c *Client) EditMessageBundle(ctx context.Context, title string, payload map[string]any) (string, error) {
	if c.csrf == "" {
		return "", &AuthError{Op: "edit", Err: fmt.Errorf("no session, call Login first")}
	}

	text, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal message bundle: %w", err)
	}

	var result struct {
		Edit struct {
			Result string `json:"result"`
			Title  string `json:"title"`
		} `json:"edit"`
		Error *apiError `json:"error"`
	}
	err = c.post(ctx, url.Values{
		"action":       {"edit"},
		"title":        {c.cfg.TitlePrefix + title},
		"text":         {string(text)},
		"contentmodel": {"translate-messagebundle"},
		"token":        {c.csrf},
		"bot":          {"1"},
	}, &result)
	if err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", fmt.Errorf("edit %s: %s (%s)", title, result.Error.Info, result.Error.Code)
	}
	if result.Edit.Result != "Success" {
		return "", fmt.Errorf("edit %s: service answered %q", title, result.Edit.Result)
	}
	return result.Edit.Title, nil
}

// MessageCollection fetches the translated units of one message group in one
// target language, with status and revision per key.
func (c *Client) MessageCollection(ctx context.Context, title, language string) ([]Message, error) {
	var result struct {
		Query struct {
			MessageCollection []Message `json:"messagecollection"`
		} `json:"query"`
		Error *apiError `json:"error"`
	}
	err := c.get(ctx, url.Values{
		"action":     {"query"},
		"list":       {"messagecollection"},
		"mcgroup":    {GroupName(c.cfg.TitlePrefix + title)},
		"mclanguage": {NormalizeLanguage(language)},
		"mcprop":     {"translation|properties"},
		"mclimit":    {"5000"},
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, fmt.Errorf("fetch collection %s/%s: %s (%s)", title, language, result.Error.Info, result.Error.Code)
	}
	return result.Query.MessageCollection, nil
}

// GroupName converts a bundle page title into the service's group
// identifier: the "messagebundle-" prefix, first letter uppercased,
// underscores read as spaces.
func GroupName(title string) string {
	title = strings.ReplaceAll(title, "_", " ")
	runes := []rune(title)
	if len(runes) > 0 {
		runes[0] = unicode.ToUpper(runes[0])
	}
	return "messagebundle-" + string(runes)
}

// NormalizeLanguage maps locale codes onto the service's form: lowercase
// with hyphens.
func NormalizeLanguage(lang string) string {
	return strings.ToLower(strings.ReplaceAll(lang, "_", "-"))
}

type apiError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

func (c *Client) fetchToken(ctx context.Context, tokenType, field string) (string, error) {
	var result struct {
		Query struct {
			Tokens map[string]string `json:"tokens"`
		} `json:"query"`
	}
	params := url.Values{
		"action": {"query"},
		"meta":   {"tokens"},
	}
	if tokenType != "csrf" {
		params.Set("type", tokenType)
	}
	if err := c.get(ctx, params, &result); err != nil {
		return "", err
	}
	token, ok := result.Query.Tokens[field]
	if !ok || token == "" {
		return "", fmt.Errorf("service returned no %s", field)
	}
	return token, nil
}

func (c *Client) get(ctx context.Context, params url.Values, v any) error {
	params.Set("format", "json")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}
	return c.do(req, v)
}

func (c *Client) post(ctx context.Context, params url.Values, v any) error {
	params.Set("format", "json")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL,
		strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, v)
}

func (c *Client) do(req *http.Request, v any) error {
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("service returned %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	return nil
}
