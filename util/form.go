package util

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

const maxBodyBytes = 1 << 20

var (
	ErrBadBody   = errors.New("bad request body")
	ErrNotObject = errors.New("payload must be a JSON object")
)

func IsFormBody(c *gin.Context) bool {
	ct := c.ContentType()
	return ct == binding.MIMEPOSTForm || ct == binding.MIMEMultipartPOSTForm
}

// ReadBody returns the raw request body, size-capped.
func ReadBody(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	b, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadBody, err)
	}
	return b, nil
}

// ReadFields decodes a flat JSON object or a form-encoded body into a field map.
// JSON numbers are kept as json.Number.
func ReadFields(c *gin.Context) (map[string]any, error) {
	if IsFormBody(c) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		if err := c.Request.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return nil, fmt.Errorf("%w: %w", ErrBadBody, err)
		}
		fields := make(map[string]any, len(c.Request.PostForm))
		for k, vs := range c.Request.PostForm {
			if len(vs) > 0 {
				fields[k] = vs[0]
			}
		}
		return fields, nil
	}

	b, err := ReadBody(c)
	if err != nil {
		return nil, err
	}
	return DecodeFields(b)
}

// DecodeFields decodes a JSON object into a field map. An empty body is an empty
// map; null, arrays and scalars are ErrNotObject.
func DecodeFields(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, ErrNotObject
		}
		return nil, fmt.Errorf("%w: %w", ErrBadBody, err)
	}
	if fields == nil {
		return nil, ErrNotObject
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrBadBody)
	}
	return fields, nil
}
