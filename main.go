package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zabbixgateway/internal/clientip"
	"zabbixgateway/internal/config"
	"zabbixgateway/internal/logging"
	"zabbixgateway/internal/metrics"
	"zabbixgateway/internal/throttle"
	"zabbixgateway/internal/tlscert"
	"zabbixgateway/internal/zabbix"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phuslu/log"
)

/*
   ---------------------------
   Request logging
   ---------------------------
*/

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// logRequests logs every request and counts responses per route pattern.
// It must run inside the chi router so the matched pattern is known.
func logRequests(reg *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			reg.ObserveResponse(route, rec.status)

			log.Info().
				Int("status", rec.status).
				Int("bytes", rec.bytes).
				Dur("dur", time.Since(start).Truncate(time.Millisecond)).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", route).
				Str("remote", r.RemoteAddr).
				Str("client_ip", clientip.Get(r.Context())).
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("ua", r.UserAgent()).
				Msg("request")
		})
	}
}

/*
   ---------------------------
   Router
   ---------------------------
*/

func getZabbixGatewayRouter(cfg *config.Config, client *zabbix.Client, reg *metrics.Registry) http.Handler {
	resolver, err := clientip.NewResolver(cfg.TrustedProxies)
	if err != nil {
		panic(err)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(resolver.EnrichContext)
	router.Use(logRequests(reg))
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", tokenHeader},
		MaxAge:         300,
	}))

	router.HandleFunc("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok\n")); err != nil {
			log.Error().Err(err).Msg("failed to write health response")
		}
	})

	if cfg.MetricsEnabled && reg != nil {
		router.Handle("/metrics", reg.Handler())
	}

	apiCfg := huma.DefaultConfig("ZabbixGateway", "1.0.0")
	apiCfg.OpenAPIPath = ""
	apiCfg.DocsPath = ""
	apiCfg.SchemasPath = ""
	api := humachi.New(router, apiCfg)
	registerAPI(api, &apiHandlers{
		zabbix:   client,
		throttle: throttle.New(cfg.LoginRateLimit, cfg.LoginRateBurst),
		metrics:  reg,
	})

	webRoot, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	router.Handle("/*", noCache(http.FileServer(http.FS(webRoot))))

	return router
}

func registerAPI(api huma.API, h *apiHandlers) {
	hidden := func(op *huma.Operation) {
		op.Hidden = true
	}

	public := huma.NewGroup(api, "/api")
	huma.Post(public, "/login", h.login, hidden)

	group := huma.NewGroup(api, "/api")
	group.UseMiddleware(tokenMiddleware())
	huma.Get(group, "/hostgroups", h.hostGroups, hidden)
	huma.Get(group, "/hosts", h.hosts, hidden)
	huma.Get(group, "/graphs", h.graphs, hidden)
	huma.Get(group, "/test-auth", h.testAuth, hidden)
}

/*
   ---------------------------
   Main
   ---------------------------
*/

func newZabbixClient(cfg *config.Config, reg *metrics.Registry) *zabbix.Client {
	return zabbix.NewClient(cfg.ZabbixURL,
		zabbix.WithTimeout(cfg.ZabbixTimeout),
		zabbix.WithInsecureSkipVerify(cfg.ZabbixSkipTLS),
		zabbix.WithRateLimit(cfg.ZabbixRateLimit),
		zabbix.WithMetrics(reg),
	)
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler,

		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// A route makes at most two sequential upstream calls.
		WriteTimeout: 2*cfg.ZabbixTimeout + 10*time.Second,
		IdleTimeout:  2 * time.Minute,
	}
}

func serve(srv *http.Server, cfg *config.Config) error {
	if !cfg.TLSEnabled {
		return srv.ListenAndServe()
	}
	if err := tlscert.Ensure(cfg.TLSCert, cfg.TLSKey); err != nil {
		return fmt.Errorf("ensure TLS certs: %w", err)
	}
	return srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
}

func main() {
	settings := config.NewSettingType(false)
	if settings.IsTrue(config.PRINT_SETTINGS) {
		settings.Print(os.Stdout)
	}

	cfg, err := config.Load(settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel)

	reg := metrics.New()
	srv := newServer(cfg, getZabbixGatewayRouter(cfg, newZabbixClient(cfg, reg), reg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(srv, cfg)
	}()

	log.Info().
		Str("addr", cfg.ListenAddr).
		Bool("tls", cfg.TLSEnabled).
		Str("zabbix_url", cfg.ZabbixURL).
		Bool("zabbix_skip_tls_verify", cfg.ZabbixSkipTLS).
		Msg("Starting Zabbix gateway")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}
}
