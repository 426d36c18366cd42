package zabbix

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"zabbixgateway/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcCall struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      int             `json:"id"`
	Auth    string          `json:"-"`
}

type stubReply struct {
	Result any
	Error  *RPCError
}

type stub struct {
	mu    sync.Mutex
	calls []rpcCall
}

func (s *stub) methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.Method)
	}
	return out
}

func (s *stub) call(i int) rpcCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}

func newStub(t *testing.T, reply func(rpcCall) stubReply) (*stub, *httptest.Server) {
	t.Helper()
	s := &stub{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c rpcCall
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.Auth = r.Header.Get("Authorization")
		s.mu.Lock()
		s.calls = append(s.calls, c)
		s.mu.Unlock()

		rep := reply(c)
		body := map[string]any{"jsonrpc": "2.0", "id": c.ID}
		if rep.Error != nil {
			body["error"] = rep.Error
		} else {
			body["result"] = rep.Result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestCallSendsJSONRPCEnvelope(t *testing.T) {
	s, srv := newStub(t, func(rpcCall) stubReply {
		return stubReply{Result: "7.0.0"}
	})
	c := NewClient(srv.URL)

	version, err := c.APIVersion(context.Background(), "tok123")
	require.NoError(t, err)
	assert.Equal(t, "7.0.0", version)

	got := s.call(0)
	assert.Equal(t, "2.0", got.JSONRPC)
	assert.Equal(t, "apiinfo.version", got.Method)
	assert.Equal(t, 1, got.ID)
	assert.Equal(t, "Bearer tok123", got.Auth)
	assert.Empty(t, got.Params, "nil params must be omitted")
}

func TestLoginOmitsAuthorizationAndEmptyMFA(t *testing.T) {
	s, srv := newStub(t, func(rpcCall) stubReply {
		return stubReply{Result: "tok123"}
	})
	c := NewClient(srv.URL)

	token, err := c.Login(context.Background(), Credentials{Username: "Admin", Password: "zabbix"})
	require.NoError(t, err)
	assert.Equal(t, "tok123", token)

	got := s.call(0)
	assert.Empty(t, got.Auth)
	var params map[string]any
	require.NoError(t, json.Unmarshal(got.Params, &params))
	assert.Equal(t, "Admin", params["username"])
	assert.Equal(t, "zabbix", params["password"])
	assert.NotContains(t, params, "mfa_token")
}

func TestLoginForwardsMFACode(t *testing.T) {
	s, srv := newStub(t, func(rpcCall) stubReply {
		return stubReply{Result: "tok123"}
	})
	c := NewClient(srv.URL)

	_, err := c.Login(context.Background(), Credentials{Username: "Admin", Password: "zabbix", MFACode: "123456"})
	require.NoError(t, err)

	var params map[string]any
	require.NoError(t, json.Unmarshal(s.call(0).Params, &params))
	assert.Equal(t, "123456", params["mfa_token"])
}

func TestCallReturnsRPCError(t *testing.T) {
	_, srv := newStub(t, func(rpcCall) stubReply {
		return stubReply{Error: &RPCError{Code: -32602, Message: "Invalid params.", Data: "Session terminated, re-login, please."}}
	})
	c := NewClient(srv.URL)

	_, err := c.HostGroups(context.Background(), "expired")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "hostgroup.get", rpcErr.Method)
	assert.Equal(t, "Session terminated, re-login, please.", rpcErr.Text())
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestCallRPCErrorWithStructuredData(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "object", data: `{"reason": "mfa required"}`, want: `{"reason":"mfa required"}`},
		{name: "number", data: `42`, want: "42"},
		{name: "null", data: `null`, want: "Invalid params."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid params.","data":` + tt.data + `},"id":1}`))
			}))
			t.Cleanup(srv.Close)
			c := NewClient(srv.URL)

			_, err := c.APIVersion(context.Background(), "tok")
			var rpcErr *RPCError
			require.ErrorAs(t, err, &rpcErr)
			assert.Equal(t, -32602, rpcErr.Code)
			assert.Equal(t, tt.want, rpcErr.Text())
			assert.Equal(t, tt.name == "object", IsMFAChallenge(err))
		})
	}
}

func TestHostGroupsNullResult(t *testing.T) {
	_, srv := newStub(t, func(rpcCall) stubReply {
		return stubReply{Result: nil}
	})
	c := NewClient(srv.URL)

	groups, err := c.HostGroups(context.Background(), "tok")
	require.NoError(t, err)
	assert.NotNil(t, groups)
	assert.Empty(t, groups)
}

func TestHostGroupsPassesRowsThrough(t *testing.T) {
	_, srv := newStub(t, func(rpcCall) stubReply {
		return stubReply{Result: []map[string]any{
			{"groupid": "2", "name": "Linux", "flags": "0", "uuid": "abc"},
			{"groupid": "4", "name": ""},
		}}
	})
	c := NewClient(srv.URL)

	groups, err := c.HostGroups(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.JSONEq(t, `{"groupid":"2","name":"Linux","flags":"0","uuid":"abc"}`, string(groups[0]))
	assert.JSONEq(t, `{"groupid":"4","name":""}`, string(groups[1]))
}

func TestCallHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL)

	_, err := c.APIVersion(context.Background(), "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrUnreachable))
}

func TestCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, WithTimeout(50*time.Millisecond))

	_, err := c.Login(context.Background(), Credentials{Username: "Admin", Password: "zabbix"})
	require.ErrorIs(t, err, ErrTimeout)
	assert.False(t, errors.Is(err, ErrUnreachable))
}

func TestCallUnreachable(t *testing.T) {
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: &net.DNSError{
			Err:        "no such host",
			Name:       r.URL.Hostname(),
			IsNotFound: true,
		}}
	})}
	c := NewClient("https://zabbix.invalid/api_jsonrpc.php", WithHTTPClient(hc))

	_, err := c.Login(context.Background(), Credentials{Username: "Admin", Password: "zabbix"})
	require.ErrorIs(t, err, ErrUnreachable)
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestCallContextDeadline(t *testing.T) {
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		<-r.Context().Done()
		return nil, r.Context().Err()
	})}
	c := NewClient("https://zabbix.example.com/api_jsonrpc.php", WithHTTPClient(hc))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.APIVersion(ctx, "tok")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestCallRecordsMetrics(t *testing.T) {
	_, srv := newStub(t, func(c rpcCall) stubReply {
		if c.Method == "user.login" {
			return stubReply{Error: &RPCError{Message: "Incorrect user name or password."}}
		}
		return stubReply{Result: "7.0.0"}
	})
	reg := metrics.New()
	c := NewClient(srv.URL, WithMetrics(reg))

	_, _ = c.Login(context.Background(), Credentials{Username: "Admin", Password: "bad"})
	_, _ = c.APIVersion(context.Background(), "tok")

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.UpstreamRequests.WithLabelValues("user.login", "rpc_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.UpstreamRequests.WithLabelValues("apiinfo.version", "ok")))
}

func TestIsMFAChallenge(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "mfa-in-data", err: &RPCError{Message: "Application error.", Data: "MFA verification required."}, want: true},
		{name: "token-in-message", err: &RPCError{Message: "Missing token"}, want: true},
		{name: "wrapped", err: errors.Join(errors.New("login"), &RPCError{Data: "Enter MFA code"}), want: true},
		{name: "bad-password", err: &RPCError{Message: "Invalid params.", Data: "Incorrect user name or password or account is temporarily blocked."}, want: false},
		{name: "not-rpc", err: errors.New("mfa"), want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMFAChallenge(tt.err))
		})
	}
}
