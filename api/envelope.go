package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindTransport  ErrorKind = "transport"
	KindProtocol   ErrorKind = "protocol"
	KindFormat     ErrorKind = "format"
	KindRequest    ErrorKind = "request"
	KindValidation ErrorKind = "validation"
)

const (
	MsgConnectionFailure = "connection failure"
	MsgInvalidFormat     = "invalid response format"
)

var ErrNotSuccess = errors.New("envelope is not a success")

type Request struct {
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method,omitempty"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

// Envelope is the normalized result of a proxied call. Build it with OK or Fail so
// that Data and Error are never both meaningful.
type Envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Error      *string         `json:"error"`
	HTTPStatus int             `json:"httpStatus"`
	Kind       ErrorKind       `json:"kind,omitempty"`
	Fallback   bool            `json:"fallback,omitempty"`
}

func OK(status int, data json.RawMessage) Envelope {
	if len(data) == 0 {
		data = nil
	}
	return Envelope{
		Success:    true,
		Data:       data,
		HTTPStatus: status,
	}
}

func Fail(kind ErrorKind, status int, msg string) Envelope {
	if msg == "" {
		msg = string(kind) + " error"
	}
	return Envelope{
		Error:      &msg,
		HTTPStatus: status,
		Kind:       kind,
	}
}

func (e Envelope) Err() error {
	if e.Success {
		return nil
	}
	if e.Error == nil {
		return ErrNotSuccess
	}
	return fmt.Errorf("%s: %s", e.Kind, *e.Error)
}

func (e Envelope) ErrorMessage() string {
	if e.Error == nil {
		return ""
	}
	return *e.Error
}

// Decode unmarshals the data of a success envelope into T.
func Decode[T any](e Envelope) (T, error) {
	var res T
	if err := e.Err(); err != nil {
		return res, err
	}
	if len(e.Data) == 0 {
		return res, nil
	}
	if err := json.Unmarshal(e.Data, &res); err != nil {
		return res, fmt.Errorf("decoding envelope data: %w", err)
	}
	return res, nil
}
