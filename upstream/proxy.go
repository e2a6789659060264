package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tarik02/apiproxy/api"
	"github.com/tarik02/apiproxy/logging"
	"github.com/tarik02/apiproxy/util"
	"go.uber.org/zap"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxParallel = 4

	DefaultMaxResponseBytes = 32 << 20
)

var ErrInvalidTarget = errors.New("invalid upstream target")

type Target struct {
	BaseURL    string
	Timeout    time.Duration
	Token      string
	MinVersion string
}

type Call struct {
	Method  string
	Payload json.RawMessage
	Params  map[string]string
	Query   url.Values

	// Token overrides the target token for this call.
	Token string
}

type Option func(*Proxy)

func WithHTTPClient(client *http.Client) Option {
	return func(p *Proxy) {
		p.client = client
	}
}

// WithMaxResponseBytes caps upstream response bodies. Larger bodies fail with a
// format error instead of being truncated.
func WithMaxResponseBytes(n int64) Option {
	return func(p *Proxy) {
		if n > 0 {
			p.maxResponseBytes = n
		}
	}
}

func WithMaxParallel(n int) Option {
	return func(p *Proxy) {
		if n > 0 {
			p.maxParallel = n
		}
	}
}

// Proxy translates operation names into calls against one upstream and normalizes
// every outcome into an envelope. It is immutable once built.
type Proxy struct {
	target      Target
	baseURL     string
	ops         map[string]Operation
	client      *http.Client
	maxParallel int

	maxResponseBytes int64
}

func New(target Target, ops []Operation, opts ...Option) (*Proxy, error) {
	u, err := url.Parse(target.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: base url %q must be an absolute http(s) url", ErrInvalidTarget, target.BaseURL)
	}
	if target.Timeout <= 0 {
		target.Timeout = DefaultTimeout
	}

	p := &Proxy{
		target:      target,
		baseURL:     strings.TrimRight(u.String(), "/"),
		ops:         make(map[string]Operation, len(ops)),
		maxParallel: DefaultMaxParallel,

		maxResponseBytes: DefaultMaxResponseBytes,
	}

	for _, op := range ops {
		if err := op.normalize(); err != nil {
			return nil, err
		}
		if _, ok := p.ops[op.Name]; ok {
			return nil, fmt.Errorf("duplicate operation %q", op.Name)
		}
		p.ops[op.Name] = op
	}

	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = newHTTPClient()
	}

	return p, nil
}

func (p *Proxy) Target() Target {
	return p.target
}

func (p *Proxy) Operation(name string) (Operation, bool) {
	op, ok := p.ops[name]
	return op, ok
}

// Call performs one upstream request. It never panics and never returns an error:
// every failure is captured in the envelope.
func (p *Proxy) Call(ctx context.Context, name string, call Call) (env api.Envelope) {
	started := time.Now()
	log := logging.FromContext(ctx, zap.String("operation", name))

	op, known := p.ops[name]

	defer func() {
		if r := recover(); r != nil {
			log.Error("upstream call panicked", zap.Any("panic", r))
			env = api.Fail(api.KindRequest, 0, "internal proxy error")
		}

		label := name
		if !known {
			label = "unknown"
		}
		outcome := outcomeSuccess
		switch {
		case env.Fallback:
			outcome = outcomeFallback
		case !env.Success:
			outcome = string(env.Kind)
		}
		upstreamRequestsTotalMetric.WithLabelValues(label, outcome).Inc()
		upstreamRequestDurationMetric.WithLabelValues(label).Observe(time.Since(started).Seconds())
	}()

	if !known {
		return api.Fail(api.KindRequest, 0, fmt.Sprintf("unknown operation %q", name))
	}

	method, ok := op.resolveMethod(call.Method)
	if !ok {
		return api.Fail(api.KindRequest, 0, fmt.Sprintf("method %s is not allowed for %s", strings.ToUpper(call.Method), name))
	}

	path, err := op.expand(call.Params, call.Query)
	if err != nil {
		return api.Fail(api.KindRequest, 0, err.Error())
	}

	var body io.Reader = http.NoBody
	if method != http.MethodGet && len(call.Payload) > 0 {
		if !json.Valid(call.Payload) {
			return api.Fail(api.KindRequest, 0, "payload is not valid JSON")
		}
		body = bytes.NewReader(call.Payload)
	}

	ctx, cancel := context.WithTimeout(ctx, p.target.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return api.Fail(api.KindRequest, 0, err.Error())
	}

	rid := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(logging.RequestIDHeader, rid)
	if body != http.NoBody {
		req.Header.Set("Content-Type", "application/json")
	}
	token := call.Token
	if token == "" {
		token = p.target.Token
	}
	util.SetBearerAuth(req, token)

	log = log.With(zap.String("upstream_rid", rid), zap.String("method", method), zap.String("path", path))
	log.Debug("upstream request")

	resp, err := p.client.Do(req)
	if err != nil {
		log.Warn("upstream unreachable", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		return p.fallback(log, op, api.Fail(api.KindTransport, 0, api.MsgConnectionFailure))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, p.maxResponseBytes+1))
	if err != nil {
		// the response was cut short, so its status is not trusted
		log.Warn("upstream response read failed", zap.Int("status", resp.StatusCode), zap.Error(err))
		return p.fallback(log, op, api.Fail(api.KindTransport, 0, api.MsgConnectionFailure))
	}
	if int64(len(raw)) > p.maxResponseBytes {
		log.Warn("upstream response too large", zap.Int("status", resp.StatusCode), zap.Int64("limit", p.maxResponseBytes))
		return api.Fail(api.KindFormat, resp.StatusCode, fmt.Sprintf("%s: response exceeds %d bytes", api.MsgInvalidFormat, p.maxResponseBytes))
	}

	log.Debug("upstream response", zap.Int("status", resp.StatusCode), zap.Int("bytes", len(raw)), zap.Duration("elapsed", time.Since(started)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return p.fallback(log, op, api.Fail(api.KindProtocol, resp.StatusCode, statusMessage(resp.StatusCode, raw)))
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return api.OK(resp.StatusCode, nil)
	}

	if !json.Valid(raw) {
		return api.Fail(api.KindFormat, resp.StatusCode, api.MsgInvalidFormat)
	}

	return api.OK(resp.StatusCode, raw)
}

func (p *Proxy) fallback(log *zap.Logger, op Operation, env api.Envelope) api.Envelope {
	if len(op.Fallback) == 0 {
		return env
	}

	log.Warn("serving fallback data", zap.String("cause", env.ErrorMessage()), zap.Int("status", env.HTTPStatus))

	res := api.OK(env.HTTPStatus, op.Fallback)
	res.Fallback = true
	return res
}

func statusMessage(status int, body []byte) string {
	msg := fmt.Sprintf("upstream returned status %d", status)

	var detail struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &detail); err != nil {
		return msg
	}

	switch e := detail.Error.(type) {
	case string:
		if e != "" {
			return msg + ": " + e
		}
	case map[string]any:
		if m, ok := e["message"].(string); ok && m != "" {
			return msg + ": " + m
		}
	}
	if detail.Message != "" {
		return msg + ": " + detail.Message
	}
	return msg
}
