package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the typed view of the settings, built once at startup and
// handed to the server and the Zabbix client.
type Config struct {
	ListenAddr         string        `validate:"required"`
	ZabbixURL          string        `validate:"required,url"`
	ZabbixSkipTLS      bool
	ZabbixTimeout      time.Duration `validate:"gt=0"`
	ZabbixRateLimit    float64       `validate:"gte=0"`
	LoginRateLimit     int           `validate:"gte=0"`
	LoginRateBurst     int           `validate:"gte=1"`
	CORSAllowedOrigins []string      `validate:"dive,required"`
	TrustedProxies     []string      `validate:"dive,cidr|ip"`
	MetricsEnabled     bool
	TLSEnabled         bool
	TLSCert            string `validate:"required_if=TLSEnabled true"`
	TLSKey             string `validate:"required_if=TLSEnabled true"`
	LogLevel           string `validate:"oneof=debug info warn error"`
}

var validate = validator.New()

// Load builds a Config from the environment backed settings.
func Load(s *SettingsType) (*Config, error) {
	timeout, err := time.ParseDuration(s.Get(ZABBIX_TIMEOUT))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ZABBIX_TIMEOUT, err)
	}
	zabbixRate, err := strconv.ParseFloat(s.Get(ZABBIX_RATE_LIMIT), 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ZABBIX_RATE_LIMIT, err)
	}
	loginRate, err := strconv.Atoi(s.Get(LOGIN_RATE_LIMIT))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", LOGIN_RATE_LIMIT, err)
	}
	loginBurst, err := strconv.Atoi(s.Get(LOGIN_RATE_BURST))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", LOGIN_RATE_BURST, err)
	}

	cfg := &Config{
		ListenAddr:         s.Get(LISTEN_ADDR),
		ZabbixURL:          strings.TrimSpace(s.Get(ZABBIX_URL)),
		ZabbixSkipTLS:      parseBool(s.Get(ZABBIX_SKIP_TLS_VERIFY)),
		ZabbixTimeout:      timeout,
		ZabbixRateLimit:    zabbixRate,
		LoginRateLimit:     loginRate,
		LoginRateBurst:     loginBurst,
		CORSAllowedOrigins: splitList(s.Get(CORS_ALLOWED_ORIGINS)),
		TrustedProxies:     splitList(s.Get(TRUSTED_PROXIES)),
		MetricsEnabled:     parseBool(s.Get(METRICS_ENABLED)),
		TLSEnabled:         parseBool(s.Get(TLS_ENABLED)),
		TLSCert:            s.Get(TLS_CERT),
		TLSKey:             s.Get(TLS_KEY),
		LogLevel:           strings.ToLower(strings.TrimSpace(s.Get(LOG_LEVEL))),
	}
	if s.Has(PORT) {
		cfg.ListenAddr = withPort(cfg.ListenAddr, s.Get(PORT))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// withPort replaces the port of addr, keeping its host part.
func withPort(addr, port string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = ""
	}
	return net.JoinHostPort(host, strings.TrimSpace(port))
}

func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "1" || v == "true" || v == "yes"
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
