package rpcx

import "encoding/json"

// Version is the only JSON-RPC version this engine understands.
const Version = "2.0"

// Request is a JSON-RPC 2.0 request or notification. A notification is a
// Request whose ID is nil; the engine never sends a response for one.
//
//	{"jsonrpc":"2.0","id":1,"method":"wm_requestAccounts","params":{...}}
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether r carries no id and therefore expects no
// response (spec §4.2: notifications are fire-and-forget).
func (r *Request) IsNotification() bool { return r.ID == nil }

// Response is a JSON-RPC 2.0 response. Exactly one of Result/Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResultResponse builds a success Response carrying the JSON-encoded result.
func NewResultResponse(id *RequestID, result interface{}) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds a failure Response from a router Error.
func NewErrorResponse(id *RequestID, err *Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: err}
}

// Notification is a server-initiated, unsolicited message (no id), used for
// wallet events forwarded to a dApp session (spec §4.9 event forwarding).
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewNotification builds a Notification carrying the JSON-encoded params.
func NewNotification(method string, params interface{}) (*Notification, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Notification{JSONRPC: Version, Method: method, Params: raw}, nil
}

// RequestID is a JSON-RPC id, which the spec allows to be a string or a
// number. It marshals/unmarshals as whichever form it was given, matching
// client ids verbatim in responses (spec §4.2 id correlation).
type RequestID struct {
	str   string
	num   float64
	isStr bool
}

// NewStringID wraps a string request id.
func NewStringID(id string) *RequestID { return &RequestID{str: id, isStr: true} }

// NewNumberID wraps a numeric request id.
func NewNumberID(id float64) *RequestID { return &RequestID{num: id} }

// String returns a canonical string form, usable as an approval-queue or
// rate-limit map key regardless of the wire representation.
func (r *RequestID) String() string {
	if r == nil {
		return ""
	}
	if r.isStr {
		return r.str
	}
	return jsonNumberString(r.num)
}

func (r *RequestID) MarshalJSON() ([]byte, error) {
	if r.isStr {
		return json.Marshal(r.str)
	}
	return json.Marshal(r.num)
}

func (r *RequestID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.str, r.isStr = s, true
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	r.num, r.isStr = n, false
	return nil
}

func jsonNumberString(f float64) string {
	raw, _ := json.Marshal(f)
	return string(raw)
}
