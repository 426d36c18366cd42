package config

import (
	"io"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
)

type SettingsType struct {
	m map[string]SettingType
}

type SettingType struct {
	Description string
	Value       string
}

func NewSettingType(print bool) *SettingsType {
	s := &SettingsType{m: make(map[string]SettingType)}

	s.Set(LISTEN_ADDR, "Server listen address", ":3200")
	s.Set(PORT, "Listen port, overrides the port of LISTEN_ADDR", "")
	s.Set(ZABBIX_URL, "Zabbix JSON-RPC endpoint", "https://zbx-poc-psql.duckdns.org/zabbix/api_jsonrpc.php")
	s.Set(ZABBIX_SKIP_TLS_VERIFY, "Skip TLS verification when calling Zabbix", "true")
	s.Set(ZABBIX_TIMEOUT, "Timeout for a single Zabbix call", "30s")
	s.Set(ZABBIX_RATE_LIMIT, "Outbound Zabbix requests per second, 0 disables", "0")
	s.Set(LOGIN_RATE_LIMIT, "Login attempts per minute per client, 0 disables", "10")
	s.Set(LOGIN_RATE_BURST, "Login attempt burst per client", "5")
	s.Set(CORS_ALLOWED_ORIGINS, "Comma separated CORS origins", "*")
	s.Set(TRUSTED_PROXIES, "Comma separated proxy addresses or CIDRs allowed to set X-Forwarded-For", "")
	s.Set(METRICS_ENABLED, "Expose prometheus metrics on /metrics", "true")
	s.Set(TLS_ENABLED, "Serve HTTPS with TLS_CERT and TLS_KEY", "false")
	s.Set(TLS_CERT, "TLS certificate path, generated when missing", "certs/server.crt")
	s.Set(TLS_KEY, "TLS key path, generated when missing", "certs/server.key")
	s.Set(LOG_LEVEL, "Log level (debug, info, warn, error)", "info")
	s.Set(PRINT_SETTINGS, "Print this table at startup", "false")

	if print {
		s.Print(os.Stdout)
	}
	return s
}

// Print renders the settings as a table, sorted by key.
func (s *SettingsType) Print(w io.Writer) {
	keys := make([]string, 0, len(s.m))
	for key := range s.m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(w)
	table.Header("KEY", "Description", "value")
	for _, key := range keys {
		setting := s.m[key]
		table.Append([]string{key, setting.Description, setting.Value})
	}
	table.Render()
}

func (s *SettingsType) Get(id string) string {
	return s.m[id].Value
}

func (s *SettingsType) Has(id string) bool {
	return len(s.m[id].Value) > 0
}

func (s *SettingsType) IsTrue(id string) bool {
	return s.m[id].Value == "true"
}

func (s *SettingsType) Set(id string, description string, defaultValue string) {
	if value, ok := os.LookupEnv(id); ok {
		s.m[id] = SettingType{Description: description, Value: value}
	} else {
		s.m[id] = SettingType{Description: description, Value: defaultValue}
	}
}

const (
	LISTEN_ADDR            = "LISTEN_ADDR"
	PORT                   = "PORT"
	ZABBIX_URL             = "ZABBIX_URL"
	ZABBIX_SKIP_TLS_VERIFY = "ZABBIX_SKIP_TLS_VERIFY"
	ZABBIX_TIMEOUT         = "ZABBIX_TIMEOUT"
	ZABBIX_RATE_LIMIT      = "ZABBIX_RATE_LIMIT"
	LOGIN_RATE_LIMIT       = "LOGIN_RATE_LIMIT"
	LOGIN_RATE_BURST       = "LOGIN_RATE_BURST"
	CORS_ALLOWED_ORIGINS   = "CORS_ALLOWED_ORIGINS"
	TRUSTED_PROXIES        = "TRUSTED_PROXIES"
	METRICS_ENABLED        = "METRICS_ENABLED"
	TLS_ENABLED            = "TLS_ENABLED"
	TLS_CERT               = "TLS_CERT"
	TLS_KEY                = "TLS_KEY"
	LOG_LEVEL              = "LOG_LEVEL"
	PRINT_SETTINGS         = "PRINT_SETTINGS"
)
