package upstream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

const (
	OpRecordsList   = "records.list"
	OpRecordsGet    = "records.get"
	OpRecordsCreate = "records.create"
	OpRecordsUpdate = "records.update"
	OpRecordsDelete = "records.delete"
	OpPredict       = "predict"
	OpCharts        = "charts"
	OpHealth        = "health"
)

var allowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}

var pathParamRe = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Operation maps a logical operation name to a fixed upstream path.
type Operation struct {
	Name    string
	Method  string
	Methods []string
	Path    string

	// Schema names the validator schema applied to payloads before forwarding.
	Schema string

	// Fallback is served instead of a transport or protocol failure when set.
	Fallback json.RawMessage
}

func DefaultOperations() []Operation {
	return []Operation{
		{Name: OpRecordsList, Method: http.MethodGet, Path: "/api/records"},
		{Name: OpRecordsGet, Method: http.MethodGet, Path: "/api/records/{id}"},
		{Name: OpRecordsCreate, Method: http.MethodPost, Path: "/api/records", Schema: "record"},
		{Name: OpRecordsUpdate, Method: http.MethodPut, Path: "/api/records/{id}", Schema: "record"},
		{Name: OpRecordsDelete, Method: http.MethodDelete, Path: "/api/records/{id}"},
		{Name: OpPredict, Method: http.MethodPost, Path: "/api/predict"},
		{Name: OpCharts, Method: http.MethodGet, Path: "/api/charts"},
		{Name: OpHealth, Method: http.MethodGet, Path: "/health"},
	}
}

func (o *Operation) normalize() error {
	if o.Name == "" {
		return fmt.Errorf("operation name is required")
	}
	if o.Method == "" {
		o.Method = http.MethodGet
	}
	o.Method = strings.ToUpper(o.Method)
	if !slices.Contains(allowedMethods, o.Method) {
		return fmt.Errorf("operation %s: invalid method %q", o.Name, o.Method)
	}
	for i, m := range o.Methods {
		o.Methods[i] = strings.ToUpper(m)
		if !slices.Contains(allowedMethods, o.Methods[i]) {
			return fmt.Errorf("operation %s: invalid method %q", o.Name, m)
		}
	}
	if !strings.HasPrefix(o.Path, "/") {
		return fmt.Errorf("operation %s: path must start with /", o.Name)
	}
	if len(o.Fallback) > 0 && !json.Valid(o.Fallback) {
		return fmt.Errorf("operation %s: fallback is not valid JSON", o.Name)
	}
	return nil
}

func (o *Operation) resolveMethod(method string) (string, bool) {
	if method == "" {
		return o.Method, true
	}
	method = strings.ToUpper(method)
	if method == o.Method || slices.Contains(o.Methods, method) {
		return method, true
	}
	return "", false
}

func (o *Operation) PathParams() []string {
	var res []string
	for _, m := range pathParamRe.FindAllStringSubmatch(o.Path, -1) {
		res = append(res, m[1])
	}
	return res
}

// expand substitutes {name} placeholders; params not consumed by the path become
// query parameters.
func (o *Operation) expand(params map[string]string, query url.Values) (string, error) {
	used := make(map[string]bool)
	var missing string

	path := pathParamRe.ReplaceAllStringFunc(o.Path, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := params[name]
		if !ok || v == "" {
			if missing == "" {
				missing = name
			}
			return m
		}
		used[name] = true
		return url.PathEscape(v)
	})
	if missing != "" {
		return "", fmt.Errorf("missing path parameter %q", missing)
	}

	q := url.Values{}
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	for k, v := range params {
		if !used[k] {
			q.Set(k, v)
		}
	}

	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return path, nil
}
