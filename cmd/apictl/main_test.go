package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarik02/apiproxy/logging"
	"go.uber.org/zap"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	fMethod, fData, fMinVersion = "", "", ""
	fFields = nil
	fParams = map[string]string{}
	fOutput = outputJSON

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)

	ctx := logging.WithLogger(context.Background(), zap.NewNop())
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", "calorias=2000", "edad=30", "altura=170", "actividad=moderada")
	require.NoError(t, err)

	var res struct {
		Valid  bool           `json:"valid"`
		Record map[string]any `json:"record"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Valid)
	assert.Equal(t, 2000.0, res.Record["calorias"])
	assert.Equal(t, 30.0, res.Record["edad"])
}

func TestValidateCommandReportsErrors(t *testing.T) {
	out, err := execute(t, "validate", "calorias=100", "edad=30", "altura=170", "actividad=alta")

	var verr validationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, []string(verr), "calorias must be between 500 and 5000")
	assert.Contains(t, out, `"valid": false`)
}

func TestValidateCommandRejectsMalformedPair(t *testing.T) {
	_, err := execute(t, "validate", "calorias")
	assert.ErrorContains(t, err, "expected key=value")
}

func TestCallCreate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/records", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":7}`))
	}))
	defer srv.Close()

	out, err := execute(t, "call", "records.create",
		"--endpoint", srv.URL,
		"--token", "secret",
		"-f", "calorias=2000",
		"-f", "edad=30",
		"-f", "altura=170",
		"-f", "actividad=moderada",
	)
	require.NoError(t, err)

	assert.JSONEq(t, `{"success":true,"data":{"id":7},"error":null,"httpStatus":201}`, out)
	assert.Equal(t, 2000.0, got["calorias"])
	assert.Equal(t, "moderada", got["actividad"])
}

func TestCallValidationStopsBeforeUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called")
	}))
	defer srv.Close()

	_, err := execute(t, "call", "records.create", "--endpoint", srv.URL, "-d", `{"calorias":100}`)

	var verr validationError
	assert.ErrorAs(t, err, &verr)
}

func TestCallForwardsDataVerbatimWithoutSchema(t *testing.T) {
	const payload = `{"z":1,"seed":9007199254740993,"a":1.10}`

	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"prediction":1}`))
	}))
	defer srv.Close()

	_, err := execute(t, "call", "predict", "--endpoint", srv.URL, "-d", payload)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = execute(t, "call", "predict", "--endpoint", srv.URL, "-d", `{"a":`)
	assert.ErrorContains(t, err, "must be valid JSON")
}

func TestCallRejectsNonObjectDataForSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called")
	}))
	defer srv.Close()

	_, err := execute(t, "call", "records.create", "--endpoint", srv.URL, "-d", `[{"calorias":2000}]`)
	assert.ErrorContains(t, err, "payload must be a JSON object")
}

func TestCallWithParamsAsYAML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/records/3", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":3,"calorias":2000}`))
	}))
	defer srv.Close()

	out, err := execute(t, "call", "records.get", "--endpoint", srv.URL, "-p", "id=3", "-o", "yaml")
	require.NoError(t, err)

	assert.Contains(t, out, "success: true")
	assert.Contains(t, out, "httpStatus: 200")
	assert.Contains(t, out, "calorias: 2000")
}

func TestCallConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out, err := execute(t, "call", "charts", "--endpoint", url)
	require.ErrorIs(t, err, errFailed)

	assert.JSONEq(t, `{"success":false,"data":null,"error":"connection failure","httpStatus":0,"kind":"transport"}`, out)
}

func TestWriteValueUnknownFormat(t *testing.T) {
	assert.Error(t, writeValue(io.Discard, "xml", 1))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}
