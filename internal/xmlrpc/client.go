package xmlrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/rpc"
	"net/url"
	"strings"
	"sync"
	"time"

	kolo "github.com/kolo/xmlrpc"
	"github.com/oklog/ulid/v2"

	"github.com/joescharf/bz/internal/bugzilla"
)

const (
	endpoint       = "xmlrpc.cgi"
	maskedPassword = "********"
	// DefaultTimeout applies when Config.Timeout is zero.
	DefaultTimeout = 120 * time.Second
)

// Config holds the connection settings for a Bugzilla XML-RPC endpoint.
type Config struct {
	URL      string
	Username string
	Password string
	APIKey   string
	Timeout  time.Duration
	// Product is added to searches that do not name one.
	Product string
	Logger  *slog.Logger
	// Transport overrides the HTTP transport. Used by tests.
	Transport http.RoundTripper
}

// Client talks to Bugzilla's Bug.* XML-RPC methods. It implements
// bugzilla.Service.
type Client struct {
	rpc     *kolo.Client
	uri     string
	cfg     Config
	logger  *slog.Logger
	timeout time.Duration

	mu          sync.Mutex
	lastCommand string
}

var _ bugzilla.Service = (*Client)(nil)

// New creates a client for the Bugzilla instance at cfg.URL.
func New(cfg Config) (*Client, error) {
	uri, err := endpointURI(cfg.URL)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = timeout
		transport = t
	}
	rpc, err := kolo.NewClient(uri, transport)
	if err != nil {
		return nil, fmt.Errorf("create xmlrpc client: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{rpc: rpc, uri: uri, cfg: cfg, logger: logger, timeout: timeout}, nil
}

func endpointURI(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: bugzilla url %q: %v", bugzilla.ErrInvalidArgument, raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: bugzilla url %q needs a scheme and host", bugzilla.ErrInvalidArgument, raw)
	}
	if !strings.HasSuffix(u.Path, "/"+endpoint) {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + endpoint
	}
	return u.String(), nil
}

// URI returns the XML-RPC endpoint.
func (c *Client) URI() string {
	return c.uri
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.rpc.Close()
}

// LastCommand renders the most recent call with the password masked.
func (c *Client) LastCommand() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCommand
}

// Fields returns the raw field catalog.
func (c *Client) Fields(ctx context.Context) ([]map[string]any, error) {
	reply, err := c.call(ctx, "fields", map[string]any{})
	if err != nil {
		return nil, err
	}
	return records(reply["fields"]), nil
}

// Get fetches bugs by id. A nil includeFields requests
// bugzilla.DefaultFieldsToInclude.
func (c *Client) Get(ctx context.Context, ids []int, includeFields []string) ([]map[string]any, error) {
	if err := bugzilla.ValidateIDs(ids); err != nil {
		return nil, err
	}
	if includeFields == nil {
		includeFields = bugzilla.DefaultFieldsToInclude
	}
	reply, err := c.call(ctx, "get", map[string]any{
		"ids":            ids,
		"include_fields": includeFields,
	})
	if err != nil {
		return nil, err
	}
	return records(reply["bugs"]), nil
}

// Search runs Bug.search with remote-named criteria.
func (c *Client) Search(ctx context.Context, criteria map[string]any) ([]map[string]any, error) {
	params := maps.Clone(criteria)
	if params == nil {
		params = make(map[string]any)
	}
	if _, ok := params["include_fields"]; !ok {
		params["include_fields"] = bugzilla.DefaultFieldsToInclude
	}
	if _, ok := params["product"]; !ok && c.cfg.Product != "" {
		params["product"] = c.cfg.Product
	}
	for _, key := range []string{"creation_time", "last_change_time"} {
		v, ok := params[key]
		if !ok {
			continue
		}
		if t, ok := bugzilla.NormalizeTimestamp(v); ok {
			params[key] = t.UTC()
		}
	}
	reply, err := c.call(ctx, "search", params)
	if err != nil {
		return nil, err
	}
	return records(reply["bugs"]), nil
}

// Update runs Bug.update for a single id and returns the echoed record.
func (c *Client) Update(ctx context.Context, id int, attrs map[string]any) (map[string]any, error) {
	if err := bugzilla.ValidateIDs([]int{id}); err != nil {
		return nil, err
	}
	params := maps.Clone(attrs)
	if params == nil {
		params = make(map[string]any)
	}
	params["ids"] = []int{id}
	reply, err := c.call(ctx, "update", params)
	if err != nil {
		return nil, err
	}
	bugs := records(reply["bugs"])
	if len(bugs) == 0 {
		return nil, fmt.Errorf("Bug.update: %w: no bug in response for id %d", bugzilla.ErrNotFound, id)
	}
	return bugs[0], nil
}

// Create files a new bug and returns its id.
func (c *Client) Create(ctx context.Context, attrs map[string]any) (int, error) {
	reply, err := c.call(ctx, "create", maps.Clone(attrs))
	if err != nil {
		return 0, err
	}
	return replyID("Bug.create", reply)
}

// Comments returns the nested comment record for ids.
func (c *Client) Comments(ctx context.Context, ids []int) (map[string]any, error) {
	if err := bugzilla.ValidateIDs(ids); err != nil {
		return nil, err
	}
	return c.call(ctx, "comments", map[string]any{"ids": ids})
}

// AddComment posts a comment and returns the new comment's id.
func (c *Client) AddComment(ctx context.Context, id int, text string, private bool) (int, error) {
	if err := bugzilla.ValidateIDs([]int{id}); err != nil {
		return 0, err
	}
	reply, err := c.call(ctx, "add_comment", map[string]any{
		"id":         id,
		"comment":    text,
		"is_private": private,
	})
	if err != nil {
		return 0, err
	}
	return replyID("Bug.add_comment", reply)
}

// call invokes Bug.<action> with a single struct parameter.
func (c *Client) call(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	method := "Bug." + action
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if params == nil {
		params = make(map[string]any)
	}
	c.authenticate(params)

	command := renderCommand(method, params)
	c.mu.Lock()
	c.lastCommand = command
	c.mu.Unlock()

	requestID := ulid.Make().String()
	start := time.Now()
	c.logger.Debug("xmlrpc call", "method", method, "request_id", requestID, "command", command)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// The codec performs the HTTP round trip inside Go, so it runs in its own
	// goroutine to keep the call cancelable.
	var reply map[string]any
	done := make(chan *rpc.Call, 1)
	go c.rpc.Go(method, params, &reply, done)

	var pending *rpc.Call
	select {
	case <-ctx.Done():
		c.logger.Debug("xmlrpc call abandoned", "method", method, "request_id", requestID, "error", ctx.Err())
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	case pending = <-done:
	}

	elapsed := time.Since(start)
	if pending.Error != nil {
		c.logger.Debug("xmlrpc call failed", "method", method, "request_id", requestID, "elapsed", elapsed, "error", pending.Error)
		return nil, fmt.Errorf("%s: %w", method, pending.Error)
	}
	c.logger.Debug("xmlrpc call done", "method", method, "request_id", requestID, "elapsed", elapsed)
	if reply == nil {
		reply = make(map[string]any)
	}
	return reply, nil
}

// authenticate adds credentials unless the caller already supplied them.
func (c *Client) authenticate(params map[string]any) {
	if c.cfg.APIKey != "" {
		if _, ok := params["Bugzilla_api_key"]; !ok {
			params["Bugzilla_api_key"] = c.cfg.APIKey
		}
		return
	}
	if c.cfg.Username == "" {
		return
	}
	if _, ok := params["Bugzilla_login"]; !ok {
		params["Bugzilla_login"] = c.cfg.Username
	}
	if _, ok := params["Bugzilla_password"]; !ok {
		params["Bugzilla_password"] = c.cfg.Password
	}
}

func renderCommand(method string, params map[string]any) string {
	shown := maps.Clone(params)
	for _, key := range []string{"Bugzilla_password", "Bugzilla_api_key"} {
		if _, ok := shown[key]; ok {
			shown[key] = maskedPassword
		}
	}
	body, err := json.Marshal(shown)
	if err != nil {
		body = []byte(fmt.Sprintf("%v", shown))
	}
	return fmt.Sprintf("xmlrpc_client.call(%s, %s)", method, body)
}

func records(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return []map[string]any{}
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func replyID(method string, reply map[string]any) (int, error) {
	switch id := reply["id"].(type) {
	case int64:
		return int(id), nil
	case int:
		return id, nil
	}
	return 0, fmt.Errorf("%s: response has no id: %v", method, reply["id"])
}
