// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Config holds the service configuration.
type Config struct {
	// Mode is the operating mode: strict or dev.
	Mode string `toml:"mode"`

	// ListenAddr is the address the admin HTTP server listens on.
	// Example: ":8080"
	ListenAddr string `toml:"listen_addr"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`

	// OutboundHTTP configuration shared by all collaborator clients
	OutboundHTTP OutboundHTTPConfig `toml:"outbound_http"`

	// Identity provider configuration
	Identity IdentityConfig `toml:"identity"`

	// Chat platform configuration, including the credential pool accounts
	Chat ChatConfig `toml:"chat"`

	// Scheduling service configuration (feature flagged)
	Scheduling SchedulingConfig `toml:"scheduling"`

	// Tenant collaborator and multitenancy settings
	Tenant TenantConfig `toml:"tenant"`

	// Store configuration for local consultant records
	Store StoreConfig `toml:"store"`

	// Cache configuration
	Cache CacheConfig `toml:"cache"`

	// Admin API settings
	Admin AdminConfig `toml:"admin"`

	// Consultant defaults applied during provisioning
	Consultant ConsultantConfig `toml:"consultant"`

	// HTTP holds per-service HTTP configuration (Reva-style).
	HTTP HTTPConfig `toml:"http"`
}

// HTTPConfig holds per-service HTTP configuration.
// Services are configured under [http.services.<svcname>].
type HTTPConfig struct {
	// Services maps service names to their raw config maps.
	// Each service decodes its own config via cfg.Decode() with Setter interface.
	Services map[string]map[string]any `toml:"services"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info in strict mode, debug in dev mode.
	Level string `toml:"level"`

	// AllowSensitive permits logging of sensitive values (tokens, passwords).
	// Default: false. Use only for debugging.
	AllowSensitive bool `toml:"allow_sensitive"`
}

// OutboundHTTPConfig holds settings for outbound HTTP requests.
type OutboundHTTPConfig struct {
	// TimeoutMS is the overall request timeout in milliseconds
	TimeoutMS int `toml:"timeout_ms"`

	// ConnectTimeoutMS is the connection timeout in milliseconds
	ConnectTimeoutMS int `toml:"connect_timeout_ms"`

	// MaxRedirects is the maximum number of redirects to follow
	MaxRedirects int `toml:"max_redirects"`

	// MaxResponseBytes is the maximum response body size
	MaxResponseBytes int64 `toml:"max_response_bytes"`

	// InsecureSkipVerify disables TLS verification (dev-only)
	InsecureSkipVerify bool `toml:"insecure_skip_verify"`
}

// IdentityConfig holds identity provider settings.
type IdentityConfig struct {
	// Driver is "keycloak" (admin REST API) or "memory" (in-process, dev only).
	Driver string `toml:"driver"`

	// BaseURL is the identity provider root, e.g. "https://auth.example.org/auth".
	BaseURL string `toml:"base_url"`

	// Realm holds the consultant accounts.
	Realm string `toml:"realm"`

	// AdminRealm issues the admin client token. Defaults to Realm.
	AdminRealm string `toml:"admin_realm"`

	// ClientID of the admin client (client credentials grant).
	ClientID string `toml:"client_id"`

	// ClientSecret of the admin client. Prefer USERSERVICE_IDENTITY_CLIENT_SECRET.
	ClientSecret string `toml:"client_secret"`

	// ConsultantRole is granted to every consultant.
	ConsultantRole string `toml:"consultant_role"`

	// GroupChatRole is granted to group chat consultants.
	GroupChatRole string `toml:"group_chat_role"`
}

// ChatConfig holds chat platform and credential pool settings.
type ChatConfig struct {
	// BaseURL is the chat REST API root, e.g. "https://chat.example.org/api/v1".
	BaseURL string `toml:"base_url"`

	// TechnicalUsername and TechnicalPassword log in the technical role.
	TechnicalUsername string `toml:"technical_username"`
	TechnicalPassword string `toml:"technical_password"`

	// SystemUsername and SystemPassword log in the system role.
	SystemUsername string `toml:"system_username"`
	SystemPassword string `toml:"system_password"`

	// RotationIntervalSeconds is the credential rotation period. Default: 3600.
	RotationIntervalSeconds int `toml:"rotation_interval_seconds"`
}

// RotationInterval returns the rotation period as a duration.
func (c ChatConfig) RotationInterval() time.Duration {
	return time.Duration(c.RotationIntervalSeconds) * time.Second
}

// SchedulingConfig holds the scheduling service integration settings.
type SchedulingConfig struct {
	// Enabled turns on the scheduling registration step. Default: false.
	Enabled bool `toml:"enabled"`

	// BaseURL is the scheduling service API root.
	BaseURL string `toml:"base_url"`

	// APIKey is sent as X-Api-Key. Prefer USERSERVICE_SCHEDULING_API_KEY.
	APIKey string `toml:"api_key"`
}

// TenantConfig holds multitenancy settings.
type TenantConfig struct {
	// Multitenancy enables the tenant checks and the seat gate. Default: false.
	Multitenancy bool `toml:"multitenancy"`

	// BaseURL is the tenant service API root. Required when multitenancy is on.
	BaseURL string `toml:"base_url"`

	// SeatCacheTTLSeconds is how long allowed-seat counts are cached. Default: 300.
	SeatCacheTTLSeconds int `toml:"seat_cache_ttl_seconds"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `toml:"driver"`

	// DataDir holds the sqlite database file.
	DataDir string `toml:"data_dir"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	// Driver is the cache driver name: "memory" (default) or "redis".
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration (Reva-style).
	// Example: [cache.drivers.redis] addr = "localhost:6379"
	Drivers map[string]any `toml:"drivers"`
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	// APIToken is the bearer token required on admin endpoints.
	// Prefer USERSERVICE_ADMIN_API_TOKEN. Empty rejects every protected request.
	APIToken string `toml:"api_token"`
}

// ConsultantConfig holds provisioning defaults.
type ConsultantConfig struct {
	// DefaultLocale is used when a request carries no locale. Default: "de".
	DefaultLocale string `toml:"default_locale"`
}

// BuildServiceConfig returns the raw service config map for a given service name.
// Returns nil if the service is not configured in [http.services.<name>].
func (c *Config) BuildServiceConfig(serviceName string) map[string]any {
	if c.HTTP.Services == nil {
		return nil
	}
	svcCfg, ok := c.HTTP.Services[serviceName]
	if !ok {
		return nil
	}
	result := make(map[string]any, len(svcCfg))
	for k, v := range svcCfg {
		result[k] = v
	}
	return result
}

// Redacted returns a string representation of the config with secrets redacted.
func (c *Config) Redacted() string {
	var sb strings.Builder
	sb.WriteString("Config{\n")
	sb.WriteString(fmt.Sprintf("  Mode: %q,\n", c.Mode))
	sb.WriteString(fmt.Sprintf("  ListenAddr: %q,\n", c.ListenAddr))
	sb.WriteString("  Logging: {\n")
	sb.WriteString(fmt.Sprintf("    Level: %q,\n", c.Logging.Level))
	sb.WriteString(fmt.Sprintf("    AllowSensitive: %v,\n", c.Logging.AllowSensitive))
	sb.WriteString("  },\n")
	sb.WriteString("  OutboundHTTP: {\n")
	sb.WriteString(fmt.Sprintf("    TimeoutMS: %d,\n", c.OutboundHTTP.TimeoutMS))
	sb.WriteString(fmt.Sprintf("    ConnectTimeoutMS: %d,\n", c.OutboundHTTP.ConnectTimeoutMS))
	sb.WriteString(fmt.Sprintf("    MaxRedirects: %d,\n", c.OutboundHTTP.MaxRedirects))
	sb.WriteString(fmt.Sprintf("    MaxResponseBytes: %d,\n", c.OutboundHTTP.MaxResponseBytes))
	sb.WriteString(fmt.Sprintf("    InsecureSkipVerify: %v,\n", c.OutboundHTTP.InsecureSkipVerify))
	sb.WriteString("  },\n")
	sb.WriteString("  Identity: {\n")
	sb.WriteString(fmt.Sprintf("    Driver: %q,\n", c.Identity.Driver))
	sb.WriteString(fmt.Sprintf("    BaseURL: %q,\n", c.Identity.BaseURL))
	sb.WriteString(fmt.Sprintf("    Realm: %q,\n", c.Identity.Realm))
	sb.WriteString(fmt.Sprintf("    AdminRealm: %q,\n", c.Identity.AdminRealm))
	sb.WriteString(fmt.Sprintf("    ClientID: %q,\n", c.Identity.ClientID))
	sb.WriteString(fmt.Sprintf("    ClientSecret: %s,\n", redact(c.Identity.ClientSecret)))
	sb.WriteString(fmt.Sprintf("    ConsultantRole: %q,\n", c.Identity.ConsultantRole))
	sb.WriteString(fmt.Sprintf("    GroupChatRole: %q,\n", c.Identity.GroupChatRole))
	sb.WriteString("  },\n")
	sb.WriteString("  Chat: {\n")
	sb.WriteString(fmt.Sprintf("    BaseURL: %q,\n", c.Chat.BaseURL))
	sb.WriteString(fmt.Sprintf("    TechnicalUsername: %q,\n", c.Chat.TechnicalUsername))
	sb.WriteString(fmt.Sprintf("    TechnicalPassword: %s,\n", redact(c.Chat.TechnicalPassword)))
	sb.WriteString(fmt.Sprintf("    SystemUsername: %q,\n", c.Chat.SystemUsername))
	sb.WriteString(fmt.Sprintf("    SystemPassword: %s,\n", redact(c.Chat.SystemPassword)))
	sb.WriteString(fmt.Sprintf("    RotationIntervalSeconds: %d,\n", c.Chat.RotationIntervalSeconds))
	sb.WriteString("  },\n")
	sb.WriteString("  Scheduling: {\n")
	sb.WriteString(fmt.Sprintf("    Enabled: %v,\n", c.Scheduling.Enabled))
	sb.WriteString(fmt.Sprintf("    BaseURL: %q,\n", c.Scheduling.BaseURL))
	sb.WriteString(fmt.Sprintf("    APIKey: %s,\n", redact(c.Scheduling.APIKey)))
	sb.WriteString("  },\n")
	sb.WriteString("  Tenant: {\n")
	sb.WriteString(fmt.Sprintf("    Multitenancy: %v,\n", c.Tenant.Multitenancy))
	sb.WriteString(fmt.Sprintf("    BaseURL: %q,\n", c.Tenant.BaseURL))
	sb.WriteString(fmt.Sprintf("    SeatCacheTTLSeconds: %d,\n", c.Tenant.SeatCacheTTLSeconds))
	sb.WriteString("  },\n")
	sb.WriteString("  Store: {\n")
	sb.WriteString(fmt.Sprintf("    Driver: %q,\n", c.Store.Driver))
	sb.WriteString(fmt.Sprintf("    DataDir: %q,\n", c.Store.DataDir))
	sb.WriteString("  },\n")
	sb.WriteString("  Cache: {\n")
	sb.WriteString(fmt.Sprintf("    Driver: %q,\n", c.Cache.Driver))
	sb.WriteString(fmt.Sprintf("    DriversCount: %d,\n", len(c.Cache.Drivers)))
	sb.WriteString("  },\n")
	sb.WriteString("  Admin: {\n")
	sb.WriteString(fmt.Sprintf("    APIToken: %s,\n", redact(c.Admin.APIToken)))
	sb.WriteString("  },\n")
	sb.WriteString("  Consultant: {\n")
	sb.WriteString(fmt.Sprintf("    DefaultLocale: %q,\n", c.Consultant.DefaultLocale))
	sb.WriteString("  },\n")
	sb.WriteString("  HTTP: {\n")
	sb.WriteString(fmt.Sprintf("    ServicesCount: %d,\n", len(c.HTTP.Services)))
	if len(c.HTTP.Services) > 0 {
		names := make([]string, 0, len(c.HTTP.Services))
		for name := range c.HTTP.Services {
			names = append(names, fmt.Sprintf("%q", name))
		}
		sort.Strings(names)
		sb.WriteString(fmt.Sprintf("    Services: [%s],\n", strings.Join(names, ", ")))
	}
	sb.WriteString("  },\n")
	sb.WriteString("}")
	return sb.String()
}

func redact(secret string) string {
	if secret == "" {
		return "<unset>"
	}
	return "[REDACTED]"
}
