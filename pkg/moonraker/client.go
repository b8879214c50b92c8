// Package moonraker is a client for the printer firmware's HTTP API:
// printer object queries and G-code script execution.
package moonraker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"axiscope-panel/pkg/errors"
	"axiscope-panel/pkg/log"
)

const (
	endpointQuery  = "objects_query"
	endpointScript = "gcode_script"
	endpointInfo   = "server_info"
)

// Object selects a printer object and, optionally, some of its attributes.
// No attributes means all of them.
type Object struct {
	Name  string
	Attrs []string
}

// Obj is shorthand for an Object.
func Obj(name string, attrs ...string) Object {
	return Object{Name: name, Attrs: attrs}
}

func (o Object) query() string {
	if len(o.Attrs) == 0 {
		return url.QueryEscape(o.Name)
	}
	return url.QueryEscape(o.Name) + "=" + url.QueryEscape(strings.Join(o.Attrs, ","))
}

// Status is the raw status of one printer object.
type Status map[string]any

// Observer receives one call per firmware request.
type Observer interface {
	ObserveFirmwareRequest(endpoint string, d time.Duration, err error)
}

// Client talks to one printer.
type Client struct {
	base          string
	http          *http.Client
	timeout       time.Duration
	scriptTimeout time.Duration
	logger        *log.Logger
	observer      Observer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds object queries and server info requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithScriptTimeout bounds G-code scripts. The firmware answers a script
// only after it has run, so this is usually much longer than WithTimeout.
func WithScriptTimeout(d time.Duration) Option {
	return func(c *Client) { c.scriptTimeout = d }
}

// WithLogger sets the client logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithObserver sets the request observer, usually the panel metrics.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient creates a client for the firmware API at baseURL,
// e.g. "http://192.168.1.50" or "http://voron.local:7125".
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, errors.InvalidInputError("printer url", baseURL)
	}
	c := &Client{
		base:          strings.TrimRight(u.String(), "/"),
		http:          &http.Client{},
		timeout:       5 * time.Second,
		scriptTimeout: 10 * time.Minute,
		logger:        log.GetLogger("moonraker"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the firmware API base.
func (c *Client) BaseURL() string {
	return c.base
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type queryResult struct {
	EventTime float64           `json:"eventtime"`
	Status    map[string]Status `json:"status"`
}

// get issues a GET and returns the "result" member of the response.
func (c *Client) get(ctx context.Context, endpoint, path, rawQuery string) (json.RawMessage, error) {
	target := c.base + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	timeout := c.timeout
	if endpoint == endpointScript {
		timeout = c.scriptTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := c.do(ctx, endpoint, target)
	if c.observer != nil {
		c.observer.ObserveFirmwareRequest(endpoint, time.Since(start), err)
	}
	if err != nil {
		c.logger.WithFields(log.Fields{"endpoint": path, "error": err}).Warn("firmware request failed")
		return nil, err
	}
	c.logger.WithFields(log.Fields{"endpoint": path, "elapsed": time.Since(start).Round(time.Millisecond)}).Debug("firmware request")
	return result, nil
}

func (c *Client) do(ctx context.Context, endpoint, target string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.FirmwareRequestError(endpoint, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.FirmwareRequestError(endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.FirmwareRequestError(endpoint, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		if decodeErr == nil && env.Error != nil {
			msg = env.Error.Message
		}
		return nil, errors.FirmwareStatusError(endpoint, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return nil, errors.FirmwareDecodeError(endpoint, decodeErr)
	}
	if env.Error != nil {
		return nil, errors.FirmwareStatusError(endpoint, resp.StatusCode, env.Error.Message)
	}
	return env.Result, nil
}

// QueryObjects queries the given printer objects. Objects the firmware
// does not know are absent from the result.
func (c *Client) QueryObjects(ctx context.Context, objects ...Object) (map[string]Status, error) {
	parts := make([]string, len(objects))
	for i, o := range objects {
		parts[i] = o.query()
	}
	raw, err := c.get(ctx, endpointQuery, "/printer/objects/query", strings.Join(parts, "&"))
	if err != nil {
		return nil, err
	}
	var qr queryResult
	if err := json.Unmarshal(raw, &qr); err != nil {
		return nil, errors.FirmwareDecodeError(endpointQuery, err)
	}
	if qr.Status == nil {
		qr.Status = map[string]Status{}
	}
	return qr.Status, nil
}

// RunScript executes G-code lines as one newline-joined script and waits
// for the firmware to acknowledge it.
func (c *Client) RunScript(ctx context.Context, lines ...string) error {
	if len(lines) == 0 {
		return nil
	}
	q := url.Values{"script": {strings.Join(lines, "\n")}}
	_, err := c.get(ctx, endpointScript, "/printer/gcode/script", q.Encode())
	return err
}

// ServerInfo returns the raw /server/info result.
func (c *Client) ServerInfo(ctx context.Context) (Status, error) {
	raw, err := c.get(ctx, endpointInfo, "/server/info", "")
	if err != nil {
		return nil, err
	}
	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, errors.FirmwareDecodeError(endpointInfo, err)
	}
	return st, nil
}

// Ping checks that the firmware API answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.ServerInfo(ctx); err != nil {
		return fmt.Errorf("printer %s: %w", c.base, err)
	}
	return nil
}
