package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarik02/apiproxy/api"
	"github.com/tarik02/apiproxy/entevents"
	"github.com/tarik02/apiproxy/recordapi"
	"github.com/tarik02/apiproxy/recordstore"
	"github.com/tarik02/apiproxy/upstream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRecordAPI(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := recordstore.OpenJSONFile(filepath.Join(t.TempDir(), "records.json"))
	require.NoError(t, err)

	events := entevents.New[api.Record](context.Background())
	t.Cleanup(func() { _ = events.Close() })

	r := gin.New()
	recordapi.New(store, events, "1.0.0").Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newGateway(t *testing.T, baseURL string, ops ...upstream.Operation) (*gin.Engine, *Server) {
	t.Helper()

	if len(ops) == 0 {
		ops = upstream.DefaultOperations()
	}
	p, err := upstream.New(upstream.Target{BaseURL: baseURL}, ops, upstream.WithHTTPClient(&http.Client{
		Transport: &http.Transport{DisableKeepAlives: true},
	}))
	require.NoError(t, err)

	s := New(p)
	r := gin.New()
	s.Register(r)
	return r, s
}

func serve(r http.Handler, method, path, contentType, body string) (*httptest.ResponseRecorder, api.Envelope) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env api.Envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestCreateRecordEndToEnd(t *testing.T) {
	r, _ := newGateway(t, newRecordAPI(t).URL)

	w, env := serve(r, http.MethodPost, "/api/op/records.create", "application/json",
		`{"fecha":"2024-01-01","calorias":2000,"peso":70,"edad":30,"altura":170,"actividad":"alta"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.True(t, env.Success)
	assert.Nil(t, env.Error)
	assert.Equal(t, http.StatusCreated, env.HTTPStatus)
	assert.JSONEq(t, `{"id":1}`, string(env.Data))

	w, env = serve(r, http.MethodGet, "/api/op/records.get?id=1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	rec, err := api.Decode[api.Record](env)
	require.NoError(t, err)
	assert.Equal(t, "alta", rec.Actividad)
	assert.Equal(t, 70.0, rec.Peso)
}

func TestFormPostIsNormalized(t *testing.T) {
	r, _ := newGateway(t, newRecordAPI(t).URL)

	form := url.Values{"calorias": {"1800"}, "edad": {"25"}, "altura": {"165"}, "actividad": {"moderada"}}
	w, env := serve(r, http.MethodPost, "/api/op/records.create", "application/x-www-form-urlencoded", form.Encode())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, env.Success)

	_, env = serve(r, http.MethodGet, "/api/op/records.list?actividad=moderada", "", "")
	records, err := api.Decode[[]api.Record](env)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1800.0, records[0].Calorias)
}

func TestValidationStopsBeforeUpstream(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	r, _ := newGateway(t, srv.URL)
	w, env := serve(r, http.MethodPost, "/api/op/records.create", "application/json",
		`{"calorias":300,"edad":30,"altura":170,"actividad":"alta"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.False(t, env.Success)
	assert.Nil(t, env.Data)
	assert.Equal(t, api.KindValidation, env.Kind)
	assert.Contains(t, env.ErrorMessage(), "calorias")
	assert.Zero(t, hits.Load())
}

func TestUnreachableUpstream(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	r, _ := newGateway(t, "http://"+addr)
	w, env := serve(r, http.MethodGet, "/api/op/records.list", "", "")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.False(t, env.Success)
	assert.Nil(t, env.Data)
	assert.Equal(t, api.MsgConnectionFailure, env.ErrorMessage())
}

func TestProxyEnvelopeEndpoint(t *testing.T) {
	r, _ := newGateway(t, newRecordAPI(t).URL)

	w, env := serve(r, http.MethodPost, "/api/proxy", "application/json",
		`{"endpoint":"records.create","method":"POST","payload":{"calorias":2000,"edad":30,"altura":170,"actividad":"moderada"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"id":1}`, string(env.Data))

	w, env = serve(r, http.MethodPost, "/api/proxy", "application/json",
		`{"endpoint":"records.delete","method":"DELETE","params":{"id":"1"}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, http.StatusNoContent, env.HTTPStatus)

	w, env = serve(r, http.MethodPost, "/api/proxy", "application/json",
		`{"endpoint":"records.get","params":{"id":"1"}}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, http.StatusNotFound, env.HTTPStatus)
	assert.Equal(t, "upstream returned status 404: record not found", env.ErrorMessage())

	w, env = serve(r, http.MethodPost, "/api/proxy", "application/json", `{"method":"GET"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, api.KindRequest, env.Kind)

	w, _ = serve(r, http.MethodPost, "/api/proxy", "application/json", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAggregateAndHealth(t *testing.T) {
	r, _ := newGateway(t, newRecordAPI(t).URL)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/aggregate?op=records.list&op=health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var res map[string]api.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res[upstream.OpRecordsList].Success)
	assert.True(t, res[upstream.OpHealth].Success)

	w, env := serve(r, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","version":"1.0.0"}`, string(env.Data))

	w, _ = serve(r, http.MethodGet, "/api/aggregate", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetProxySwapsUpstream(t *testing.T) {
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `"a"`)
	}))
	defer a.Close()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `"b"`)
	}))
	defer b.Close()

	r, s := newGateway(t, a.URL)
	_, env := serve(r, http.MethodGet, "/api/op/charts", "", "")
	assert.Equal(t, `"a"`, string(env.Data))

	p, err := upstream.New(upstream.Target{BaseURL: b.URL}, upstream.DefaultOperations())
	require.NoError(t, err)
	s.SetProxy(p)

	_, env = serve(r, http.MethodGet, "/api/op/charts", "", "")
	assert.Equal(t, `"b"`, string(env.Data))
}

func TestGallery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"charts":[
			{"title":"Calorías","description":"por día","image":"aaaa"},
			{"title":"Peso","image":"https://charts.local/peso.png"},
			{"title":"IMC","image":"cccc"}
		]}`)
	}))
	defer srv.Close()

	r, _ := newGateway(t, srv.URL)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gallery?i=2&key=ArrowRight", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<h1>Calorías</h1>")
	assert.Contains(t, w.Body.String(), "data:image/png;base64,aaaa")
	assert.Contains(t, w.Body.String(), "1 / 3")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gallery?i=-2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<h1>Peso</h1>")
	assert.Contains(t, w.Body.String(), "https://charts.local/peso.png")
}

func TestGalleryUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r, _ := newGateway(t, srv.URL)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gallery", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "upstream returned status 500")
	assert.Contains(t, w.Body.String(), "Reintentar")
}

type recordedCall struct {
	method string
	path   string
	body   string
}

func recordingUpstream(t *testing.T, reply string) (*httptest.Server, func() []recordedCall) {
	t.Helper()

	var (
		mu    sync.Mutex
		calls []recordedCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, recordedCall{method: r.Method, path: r.URL.Path, body: string(b)})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []recordedCall {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(calls)
	}
}

func TestAggregateNeverMutates(t *testing.T) {
	srv, calls := recordingUpstream(t, `[]`)
	r, _ := newGateway(t, srv.URL)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/aggregate?op=records.create&op=predict&op=records.list", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var res map[string]api.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, api.KindRequest, res[upstream.OpRecordsCreate].Kind)
	assert.Equal(t, api.KindRequest, res[upstream.OpPredict].Kind)
	assert.True(t, res[upstream.OpRecordsList].Success)

	assert.Equal(t, []recordedCall{{method: http.MethodGet, path: "/api/records"}}, calls())
}

func TestProxyEnvelopeValidatesNonObjectPayloads(t *testing.T) {
	srv, calls := recordingUpstream(t, `{"id":1}`)
	r, _ := newGateway(t, srv.URL)

	for name, tc := range map[string]struct {
		body string
		want string
	}{
		"null":    {body: `{"endpoint":"records.create","payload":null}`, want: "payload must be a JSON object"},
		"array":   {body: `{"endpoint":"records.create","payload":[{"calorias":1}]}`, want: "payload must be a JSON object"},
		"string":  {body: `{"endpoint":"records.create","payload":"x"}`, want: "payload must be a JSON object"},
		"missing": {body: `{"endpoint":"records.create"}`, want: "calorias is required"},
		"empty":   {body: `{"endpoint":"records.create","payload":{}}`, want: "actividad is required"},
	} {
		t.Run(name, func(t *testing.T) {
			w, env := serve(r, http.MethodPost, "/api/proxy", "application/json", tc.body)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
			assert.False(t, env.Success)
			assert.Equal(t, api.KindValidation, env.Kind)
			assert.Contains(t, env.ErrorMessage(), tc.want)
		})
	}

	w, env := serve(r, http.MethodPost, "/api/op/records.create", "application/json", `[{"calorias":1}]`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, api.KindValidation, env.Kind)

	assert.Empty(t, calls())
}

func TestPayloadWithoutSchemaIsForwardedVerbatim(t *testing.T) {
	srv, calls := recordingUpstream(t, `{"prediction":1}`)
	r, _ := newGateway(t, srv.URL)

	payload := `{"z":1,"seed":9007199254740993,"a":1.10}`

	w, env := serve(r, http.MethodPost, "/api/proxy", "application/json",
		`{"endpoint":"predict","payload":`+payload+`}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, env.Success)

	w, _ = serve(r, http.MethodPost, "/api/op/predict", "application/json", payload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = serve(r, http.MethodPost, "/api/op/predict", "application/json", `[[1,2],[3,4]]`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := calls()
	require.Len(t, got, 3)
	assert.Equal(t, payload, got[0].body)
	assert.Equal(t, payload, got[1].body)
	assert.Equal(t, `[[1,2],[3,4]]`, got[2].body)
}

func TestSchemaPayloadKeepsLargeIntegers(t *testing.T) {
	srv, calls := recordingUpstream(t, `{"id":1}`)
	r, _ := newGateway(t, srv.URL)

	w, _ := serve(r, http.MethodPost, "/api/op/records.create", "application/json",
		`{"calorias":2000,"edad":30,"altura":170.5,"actividad":"alta"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := calls()
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"calorias":2000,"edad":30,"altura":170.5,"actividad":"alta"}`, got[0].body)
}

func TestGalleryOnlyReads(t *testing.T) {
	srv, calls := recordingUpstream(t, `{"id":1}`)
	r, _ := newGateway(t, srv.URL)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gallery?op=records.create", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "method GET is not allowed")
	assert.Empty(t, calls())
}
