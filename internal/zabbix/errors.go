package zabbix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrTimeout marks calls that hit the client timeout or a deadline.
	ErrTimeout = errors.New("zabbix: connection timed out")
	// ErrUnreachable marks calls whose upstream host could not be resolved.
	ErrUnreachable = errors.New("zabbix: host not found")
	// ErrNotFound marks a name lookup that matched nothing.
	ErrNotFound = errors.New("zabbix: not found")
)

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`

	// Method is the call that produced the error. Not part of the wire format.
	Method string `json:"-"`
}

// UnmarshalJSON accepts any JSON value for data. A string is kept as is and
// any other value is kept in its compact JSON form.
func (e *RPCError) UnmarshalJSON(b []byte) error {
	var wire struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	e.Code = wire.Code
	e.Message = wire.Message
	e.Data = dataText(wire.Data)
	return nil
}

func dataText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("zabbix: %s: %s %s", e.Method, e.Message, e.Data)
	}
	return fmt.Sprintf("zabbix: %s: %s", e.Method, e.Message)
}

// Text is the human readable reason, preferring data over message.
func (e *RPCError) Text() string {
	if e.Data != "" {
		return e.Data
	}
	return e.Message
}

// NotFoundError is returned when resolving a name to an id yields no rows.
type NotFoundError struct {
	Resource string
	Name     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("zabbix: %s %q not found", e.Resource, e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// IsMFAChallenge reports whether err is a login rejection asking for a
// second factor.
func IsMFAChallenge(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	text := strings.ToLower(rpcErr.Text())
	return strings.Contains(text, "mfa") || strings.Contains(text, "token")
}

func classify(err error) error {
	var netErr net.Error
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.As(err, &dnsErr):
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	default:
		return fmt.Errorf("zabbix: %w", err)
	}
}

func outcome(err error) string {
	var rpcErr *RPCError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rpcErr):
		return "rpc_error"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	default:
		return "error"
	}
}
