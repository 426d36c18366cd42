package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"zabbixgateway/internal/clientip"
	"zabbixgateway/internal/metrics"
	"zabbixgateway/internal/throttle"
	"zabbixgateway/internal/zabbix"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/phuslu/log"
)

const maxLoginBody = 16 << 10

const (
	msgUnauthorized   = "Unauthorized."
	msgInvalidToken   = "Invalid or expired token."
	msgMFARequired    = "MFA authentication required."
	msgTimeout        = "Connection to Zabbix timed out."
	msgUnreachable    = "Zabbix server not found."
	msgInvalidBody    = "Invalid request body."
	msgHostMissing    = "Host not provided."
	msgLoginThrottled = "Too many login attempts. Try again later."
)

// operation names an upstream action for logs and its generic failure text.
type operation struct {
	name    string
	failure string
}

var (
	opLogin    = operation{name: "login", failure: "Failed to connect to Zabbix. Check the URL and the SSL certificate."}
	opGroups   = operation{name: "group lookup", failure: "Failed to fetch groups."}
	opHosts    = operation{name: "host lookup", failure: "Failed to fetch hosts."}
	opGraphs   = operation{name: "graph lookup", failure: "Failed to fetch graphs."}
	opTestAuth = operation{name: "auth test", failure: "Failed to test authentication."}
)

var notFoundMessages = map[string]string{
	zabbix.GroupHosts.Resource: "Group not found.",
	zabbix.HostGraphs.Resource: "Host not found.",
}

type errorResponse struct {
	Error string `json:"error"`
}

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
	MFA      string `json:"mfa"`
}

type loginResponse struct {
	Auth        string `json:"auth,omitempty"`
	Error       string `json:"error,omitempty"`
	MFARequired bool   `json:"mfa_required,omitempty"`
}

type versionResponse struct {
	Version string `json:"version"`
}

type tokenInput struct {
	Token string `header:"x-zabbix-auth" doc:"Zabbix API token returned by /api/login"`
}

type hostsInput struct {
	Token string `header:"x-zabbix-auth" doc:"Zabbix API token returned by /api/login"`
	Group string `query:"group" doc:"Host group name"`
}

type graphsInput struct {
	Token string `header:"x-zabbix-auth" doc:"Zabbix API token returned by /api/login"`
	Host  string `query:"host" doc:"Technical host name"`
}

type apiHandlers struct {
	zabbix   *zabbix.Client
	throttle *throttle.Limiter
	metrics  *metrics.Registry
}

func (h *apiHandlers) login(_ context.Context, _ *struct{}) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{
		Body: func(ctx huma.Context) {
			req, w := humachi.Unwrap(ctx)

			ip := clientip.Get(req.Context())
			if !h.throttle.Allow(ip) {
				h.metrics.ObserveThrottled()
				log.Warn().Str("client_ip", ip).Msg("login throttled")
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: msgLoginThrottled})
				return
			}

			var body loginRequest
			if err := json.NewDecoder(io.LimitReader(req.Body, maxLoginBody)).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidBody})
				return
			}

			log.Info().Str("user", body.User).Bool("mfa", body.MFA != "").Str("client_ip", ip).Msg("login attempt")

			token, err := h.zabbix.Login(req.Context(), zabbix.Credentials{
				Username: body.User,
				Password: body.Password,
				MFACode:  strings.TrimSpace(body.MFA),
			})
			if err != nil {
				var rpcErr *zabbix.RPCError
				switch {
				case zabbix.IsMFAChallenge(err):
					log.Info().Str("user", body.User).Msg("login requires MFA")
					writeJSON(w, http.StatusOK, loginResponse{Error: msgMFARequired, MFARequired: true})
				case errors.As(err, &rpcErr):
					log.Info().Str("user", body.User).Str("reason", rpcErr.Text()).Msg("login rejected")
					writeJSON(w, http.StatusOK, loginResponse{Error: rpcErr.Text()})
				default:
					upstreamFailure(w, err, opLogin)
				}
				return
			}

			log.Info().Str("user", body.User).Msg("login succeeded")
			writeJSON(w, http.StatusOK, loginResponse{Auth: token})
		},
	}, nil
}

func (h *apiHandlers) hostGroups(_ context.Context, in *tokenInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{
		Body: func(ctx huma.Context) {
			req, w := humachi.Unwrap(ctx)

			groups, err := h.zabbix.HostGroups(req.Context(), strings.TrimSpace(in.Token))
			if err != nil {
				upstreamFailure(w, err, opGroups)
				return
			}
			writeJSON(w, http.StatusOK, groups)
		},
	}, nil
}

func (h *apiHandlers) hosts(_ context.Context, in *hostsInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{
		Body: func(ctx huma.Context) {
			req, w := humachi.Unwrap(ctx)

			group := strings.TrimSpace(in.Group)
			if group == "" {
				writeJSON(w, http.StatusOK, []zabbix.Row{})
				return
			}

			hosts, err := h.zabbix.HostsInGroup(req.Context(), strings.TrimSpace(in.Token), group)
			if err != nil {
				upstreamFailure(w, err, opHosts)
				return
			}
			writeJSON(w, http.StatusOK, hosts)
		},
	}, nil
}

func (h *apiHandlers) graphs(_ context.Context, in *graphsInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{
		Body: func(ctx huma.Context) {
			req, w := humachi.Unwrap(ctx)

			host := strings.TrimSpace(in.Host)
			if host == "" {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgHostMissing})
				return
			}

			graphs, err := h.zabbix.GraphsForHost(req.Context(), strings.TrimSpace(in.Token), host)
			if err != nil {
				upstreamFailure(w, err, opGraphs)
				return
			}
			writeJSON(w, http.StatusOK, graphs)
		},
	}, nil
}

func (h *apiHandlers) testAuth(_ context.Context, in *tokenInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{
		Body: func(ctx huma.Context) {
			req, w := humachi.Unwrap(ctx)

			version, err := h.zabbix.APIVersion(req.Context(), strings.TrimSpace(in.Token))
			if err != nil {
				upstreamFailure(w, err, opTestAuth)
				return
			}
			writeJSON(w, http.StatusOK, versionResponse{Version: version})
		},
	}, nil
}

// upstreamFailure maps a failed Zabbix call to the JSON error shape.
func upstreamFailure(w http.ResponseWriter, err error, op operation) {
	var (
		notFound *zabbix.NotFoundError
		rpcErr   *zabbix.RPCError
		status   = http.StatusInternalServerError
		message  = op.failure
	)
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
		message = notFoundMessages[notFound.Resource]
		if message == "" {
			message = "Not found."
		}
	case errors.As(err, &rpcErr):
		status = http.StatusUnauthorized
		message = msgInvalidToken
	case errors.Is(err, zabbix.ErrTimeout):
		message = msgTimeout
	case errors.Is(err, zabbix.ErrUnreachable):
		message = msgUnreachable
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op.name).Msg("zabbix request failed")
	} else {
		log.Info().Err(err).Str("op", op.name).Int("status", status).Msg("zabbix request rejected")
	}
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		log.Error().Err(err).Msg("write json response")
	}
}
