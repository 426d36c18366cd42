package main

import (
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
)

// tokenHeader carries the browser held Zabbix token. It is distinct from the
// Authorization header the gateway builds for upstream calls.
const tokenHeader = "x-zabbix-auth"

// tokenMiddleware rejects requests without a token before any upstream call.
// The token itself is only checked by Zabbix.
func tokenMiddleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if strings.TrimSpace(ctx.Header(tokenHeader)) == "" {
			_, w := humachi.Unwrap(ctx)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msgUnauthorized})
			return
		}
		next(ctx)
	}
}
