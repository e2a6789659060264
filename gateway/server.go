package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/tarik02/apiproxy/api"
	"github.com/tarik02/apiproxy/logging"
	"github.com/tarik02/apiproxy/upstream"
	"github.com/tarik02/apiproxy/util"
	"github.com/tarik02/apiproxy/validate"
	"go.uber.org/zap"
)

const maxAggregateOps = 16

// Server is the browser-facing side: it turns browser requests into upstream
// operation calls and always answers with an envelope.
type Server struct {
	proxy atomic.Pointer[upstream.Proxy]

	// ForwardAuth passes the browser's bearer token upstream.
	ForwardAuth bool
}

func New(p *upstream.Proxy) *Server {
	s := &Server{}
	s.proxy.Store(p)
	return s
}

func (s *Server) Proxy() *upstream.Proxy {
	return s.proxy.Load()
}

// SetProxy swaps the upstream proxy, e.g. after a config reload. Calls already in
// flight finish against the old one.
func (s *Server) SetProxy(p *upstream.Proxy) {
	s.proxy.Store(p)
}

func (s *Server) Register(r *gin.Engine) {
	r.SetHTMLTemplate(templates)

	r.POST("/api/proxy", s.proxyEnvelope)
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		r.Handle(method, "/api/op/:operation", s.operation)
	}
	r.GET("/api/aggregate", s.aggregate)
	r.GET("/api/health", s.health)
	r.GET("/gallery", s.gallery)
}

func statusFor(env api.Envelope) int {
	if env.Success {
		return http.StatusOK
	}
	switch env.Kind {
	case api.KindValidation:
		return http.StatusUnprocessableEntity
	case api.KindRequest:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func respond(c *gin.Context, env api.Envelope) {
	c.JSON(statusFor(env), env)
}

func (s *Server) proxyEnvelope(c *gin.Context) {
	var req api.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, api.Fail(api.KindRequest, 0, "invalid request envelope"))
		return
	}
	if req.Endpoint == "" {
		respond(c, api.Fail(api.KindRequest, 0, "endpoint is required"))
		return
	}

	call := upstream.Call{
		Method:  req.Method,
		Payload: req.Payload,
		Params:  req.Params,
	}

	schema, env, ok := s.schemaFor(req.Endpoint, req.Method)
	if !ok {
		respond(c, env)
		return
	}
	if schema != nil {
		fields, err := util.DecodeFields(req.Payload)
		if err != nil {
			respond(c, bodyError(err))
			return
		}
		if call.Payload, env, ok = checkFields(schema, fields); !ok {
			respond(c, env)
			return
		}
	}

	s.forward(c, req.Endpoint, call)
}

func (s *Server) operation(c *gin.Context) {
	name := c.Param("operation")
	method := c.Request.Method

	call := upstream.Call{
		Method: method,
		Params: make(map[string]string),
	}
	for k, vs := range c.Request.URL.Query() {
		if len(vs) > 0 {
			call.Params[k] = vs[0]
		}
	}

	if method == http.MethodPost || method == http.MethodPut {
		schema, env, ok := s.schemaFor(name, method)
		if !ok {
			respond(c, env)
			return
		}

		switch {
		case schema != nil:
			fields, err := util.ReadFields(c)
			if err != nil {
				respond(c, bodyError(err))
				return
			}
			if call.Payload, env, ok = checkFields(schema, fields); !ok {
				respond(c, env)
				return
			}

		case util.IsFormBody(c):
			fields, err := util.ReadFields(c)
			if err != nil {
				respond(c, bodyError(err))
				return
			}
			if call.Payload, err = json.Marshal(fields); err != nil {
				respond(c, api.Fail(api.KindRequest, 0, "payload is not serializable"))
				return
			}

		default:
			// forwarded as sent
			body, err := util.ReadBody(c)
			if err != nil {
				respond(c, bodyError(err))
				return
			}
			call.Payload = body
		}
	}

	s.forward(c, name, call)
}

// schemaFor returns the schema that applies to a call, or nil when the payload
// is forwarded untouched. Reads and deletes never carry a validated payload.
func (s *Server) schemaFor(name, method string) (*validate.Schema, api.Envelope, bool) {
	op, ok := s.Proxy().Operation(name)
	if !ok || op.Schema == "" {
		return nil, api.Envelope{}, true
	}

	method = strings.ToUpper(method)
	if method == "" {
		method = op.Method
	}
	if method == http.MethodGet || method == http.MethodDelete {
		return nil, api.Envelope{}, true
	}

	schema, ok := validate.Lookup(op.Schema)
	if !ok {
		return nil, api.Fail(api.KindRequest, 0, "unknown schema "+op.Schema), false
	}
	return schema, api.Envelope{}, true
}

func checkFields(schema *validate.Schema, fields map[string]any) (json.RawMessage, api.Envelope, bool) {
	if errs := schema.Validate(fields); len(errs) > 0 {
		return nil, api.Fail(api.KindValidation, 0, strings.Join(errs, "; ")), false
	}

	payload, err := json.Marshal(schema.Normalize(fields))
	if err != nil {
		return nil, api.Fail(api.KindRequest, 0, "payload is not serializable"), false
	}
	return payload, api.Envelope{}, true
}

func bodyError(err error) api.Envelope {
	if errors.Is(err, util.ErrNotObject) {
		return api.Fail(api.KindValidation, 0, err.Error())
	}
	return api.Fail(api.KindRequest, 0, err.Error())
}

func (s *Server) forward(c *gin.Context, name string, call upstream.Call) {
	if s.ForwardAuth {
		if ok, token := util.PullBearerToken(c.Request); ok {
			call.Token = token
		}
	}

	env := s.Proxy().Call(c.Request.Context(), name, call)
	if !env.Success {
		logging.FromContext(c.Request.Context()).Info("proxied call failed",
			zap.String("operation", name),
			zap.String("kind", string(env.Kind)),
			zap.Int("status", env.HTTPStatus),
			zap.String("error", env.ErrorMessage()),
		)
	}

	respond(c, env)
}

func (s *Server) aggregate(c *gin.Context) {
	ops := c.QueryArray("op")
	if len(ops) == 0 {
		respond(c, api.Fail(api.KindRequest, 0, "at least one op is required"))
		return
	}
	if len(ops) > maxAggregateOps {
		respond(c, api.Fail(api.KindRequest, 0, "too many operations"))
		return
	}

	c.JSON(http.StatusOK, s.Proxy().Aggregate(c.Request.Context(), ops))
}

func (s *Server) health(c *gin.Context) {
	respond(c, s.Proxy().Health(c.Request.Context()))
}
