package types

import (
	"encoding/json"
	"fmt"
)

// ErrorKind classifies why a request did not succeed
type ErrorKind string

const (
	ErrKindTemplate         ErrorKind = "TemplateError"
	ErrKindDNS              ErrorKind = "DnsError"
	ErrKindConnect          ErrorKind = "ConnectError"
	ErrKindTLS              ErrorKind = "TlsError"
	ErrKindTransportTimeout ErrorKind = "TransportTimeout"
	ErrKindIO               ErrorKind = "IoError"
	ErrKindBodyRead         ErrorKind = "BodyReadError"
	ErrKindDependencyFailed ErrorKind = "DependencyFailed"
)

// Header is a single request header. Headers are kept as an ordered slice
// rather than a map so they are sent in the order they were declared.
type Header struct {
	Name  string
	Value string
}

// Part is one realized multipart form part. A part with a non-empty Path is
// streamed from the local filesystem; otherwise Value is sent as an inline
// form field.
type Part struct {
	Name  string
	Value string
	Path  string
}

// IsFile reports whether the part is backed by a local file
func (p Part) IsFile() bool {
	return p.Path != ""
}

// Request is a fully realized (post-interpolation) HTTP request ready to be
// handed to the client.
type Request struct {
	Method  string
	URL     string
	Headers []Header
	Body    string
	Parts   []Part
}

// Response is the result of one HTTP exchange that produced a status line.
// Transport-level failures are returned as *TransportError instead.
type Response struct {
	Status        int
	Headers       map[string]string
	Body          []byte
	BytesReceived int
}

// Outcome records the result of one attempted request. Status 0 means the
// step never produced a response; it is serialized as null.
type Outcome struct {
	TimestampMs   int64     `json:"timestamp_ms"`
	LatencyNs     int64     `json:"latency_ns"`
	Status        int       `json:"-"`
	BytesReceived int       `json:"bytes_received"`
	ErrorKind     ErrorKind `json:"-"`
	ErrorMessage  string    `json:"-"`
	Step          string    `json:"-"`
}

// Success reports whether the outcome counts as successful: a 2xx or 3xx
// status and no error kind. Both conditions are required.
func (o Outcome) Success() bool {
	return o.Status >= 200 && o.Status < 400 && o.ErrorKind == ""
}

// MarshalJSON emits null for the status of a step that never produced a
// response and for an empty error kind or message; an empty step name is
// omitted.
func (o Outcome) MarshalJSON() ([]byte, error) {
	type alias struct {
		TimestampMs   int64   `json:"timestamp_ms"`
		LatencyNs     int64   `json:"latency_ns"`
		Status        *int    `json:"status"`
		BytesReceived int     `json:"bytes_received"`
		ErrorKind     *string `json:"error_kind"`
		ErrorMessage  *string `json:"error_message"`
		Step          string  `json:"step_name,omitempty"`
	}
	a := alias{
		TimestampMs:   o.TimestampMs,
		LatencyNs:     o.LatencyNs,
		BytesReceived: o.BytesReceived,
		Step:          o.Step,
	}
	if o.Status != 0 {
		s := o.Status
		a.Status = &s
	}
	if o.ErrorKind != "" {
		k := string(o.ErrorKind)
		a.ErrorKind = &k
	}
	if o.ErrorMessage != "" {
		m := o.ErrorMessage
		a.ErrorMessage = &m
	}
	return json.Marshal(a)
}

// TemplateError reports an unresolved placeholder in a templated string. The
// placeholder text is preserved verbatim for the error message.
type TemplateError struct {
	Variable    string
	Placeholder string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("unresolved variable %s", e.Placeholder)
}

// TransportError wraps a network-level failure with its classification
type TransportError struct {
	Kind ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
