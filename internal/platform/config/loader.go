package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Mode represents the service operating mode.
type Mode string

const (
	ModeStrict Mode = "strict"
	ModeDev    Mode = "dev"
)

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "":
		return ModeStrict, nil
	case "dev":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of strict, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// ModeFlag is the --mode flag value (overrides config file mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Environ replaces the process environment for secret lookup.
	// Nil reads os.Environ.
	Environ map[string]string

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr              *string
	LoggingLevel            *string
	LoggingAllowSensitive   *string // "true", "false", or "" (unset)
	IdentityDriver          *string
	StoreDriver             *string
	StoreDataDir            *string
	SchedulingEnabled       *string // "true", "false", or "" (unset)
	Multitenancy            *string // "true", "false", or "" (unset)
	RotationIntervalSeconds *string
}

// envSecrets are read from the environment after the TOML overlay.
type envSecrets struct {
	IdentityClientSecret  string `env:"USERSERVICE_IDENTITY_CLIENT_SECRET"`
	ChatTechnicalPassword string `env:"USERSERVICE_CHAT_TECHNICAL_PASSWORD"`
	ChatSystemPassword    string `env:"USERSERVICE_CHAT_SYSTEM_PASSWORD"`
	SchedulingAPIKey      string `env:"USERSERVICE_SCHEDULING_API_KEY"`
	AdminAPIToken         string `env:"USERSERVICE_ADMIN_API_TOKEN"`
}

// fileConfig mirrors Config but with pointer fields to detect presence.
type fileConfig struct {
	Mode       string `toml:"mode"`
	ListenAddr string `toml:"listen_addr"`

	Logging      *loggingConfig      `toml:"logging"`
	OutboundHTTP *OutboundHTTPConfig `toml:"outbound_http"`
	Identity     *IdentityConfig     `toml:"identity"`
	Chat         *ChatConfig         `toml:"chat"`
	Scheduling   *schedulingConfig   `toml:"scheduling"`
	Tenant       *tenantConfig       `toml:"tenant"`
	Store        *StoreConfig        `toml:"store"`
	Cache        *cacheConfig        `toml:"cache"`
	Admin        *AdminConfig        `toml:"admin"`
	Consultant   *ConsultantConfig   `toml:"consultant"`
	HTTP         *httpFileConfig     `toml:"http"`
}

type loggingConfig struct {
	Level          string `toml:"level"`
	AllowSensitive bool   `toml:"allow_sensitive"`
}

type schedulingConfig struct {
	Enabled *bool  `toml:"enabled"`
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

type tenantConfig struct {
	Multitenancy        *bool  `toml:"multitenancy"`
	BaseURL             string `toml:"base_url"`
	SeatCacheTTLSeconds int    `toml:"seat_cache_ttl_seconds"`
}

type cacheConfig struct {
	Driver  string         `toml:"driver"`
	Drivers map[string]any `toml:"drivers"`
}

type httpFileConfig struct {
	Services map[string]map[string]any `toml:"services"`
}

// Load loads configuration with the following precedence:
//  1. Determine effective mode: --mode flag > mode in config file > default (strict)
//  2. Start from mode preset defaults
//  3. Overlay TOML config file values
//  4. Overlay secrets from the environment
//  5. Overlay CLI flags
//  6. Validate
//
// If ConfigPath is provided but the file is missing, unreadable, or invalid TOML,
// Load returns an error (fail fast). Unknown/undecoded TOML keys produce a warning
// but do not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var fc fileConfig

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}
	}

	modeStr := "strict"
	if fc.Mode != "" {
		modeStr = fc.Mode
	}
	if opts.ModeFlag != "" {
		modeStr = opts.ModeFlag
	}

	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}

	cfg := presetForMode(mode)

	if opts.ConfigPath != "" {
		overlayFileConfig(cfg, &fc)
	}

	if err := overlayEnv(cfg, opts.Environ); err != nil {
		return nil, err
	}

	if err := overlayFlags(cfg, opts.FlagOverrides); err != nil {
		return nil, err
	}

	if cfg.Identity.AdminRealm == "" {
		cfg.Identity.AdminRealm = cfg.Identity.Realm
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// presetForMode returns the base config for a given mode.
func presetForMode(mode Mode) *Config {
	if mode == ModeDev {
		return DevConfig()
	}
	return StrictConfig()
}

// StrictConfig returns production-safe strict defaults.
// Collaborator URLs and the admin token have no defaults and must be configured.
func StrictConfig() *Config {
	return &Config{
		Mode:       string(ModeStrict),
		ListenAddr: ":8080",
		Logging: LoggingConfig{
			Level:          "info",
			AllowSensitive: false,
		},
		OutboundHTTP: OutboundHTTPConfig{
			TimeoutMS:          10000,
			ConnectTimeoutMS:   2000,
			MaxRedirects:       1,
			MaxResponseBytes:   1048576,
			InsecureSkipVerify: false,
		},
		Identity: IdentityConfig{
			Driver:         "keycloak",
			Realm:          "online-beratung",
			ClientID:       "userservice-admin",
			ConsultantRole: "consultant",
			GroupChatRole:  "group-chat-consultant",
		},
		Chat: ChatConfig{
			TechnicalUsername:       "rocket-chat-technical-user",
			SystemUsername:          "rocket-chat-system-user",
			RotationIntervalSeconds: 3600,
		},
		Tenant: TenantConfig{
			SeatCacheTTLSeconds: 300,
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: ".userservice/data",
		},
		Cache: CacheConfig{
			Driver: "memory",
		},
		Consultant: ConsultantConfig{
			DefaultLocale: "de",
		},
	}
}

// DevConfig returns development mode defaults.
func DevConfig() *Config {
	cfg := StrictConfig()
	cfg.Mode = string(ModeDev)
	cfg.Logging.Level = "debug"
	cfg.OutboundHTTP.MaxRedirects = 3
	cfg.OutboundHTTP.InsecureSkipVerify = true
	cfg.Identity.Driver = "memory"
	cfg.Chat.BaseURL = "http://localhost:3000/api/v1"
	cfg.Chat.RotationIntervalSeconds = 300
	cfg.Store.Driver = "memory"
	cfg.Admin.APIToken = "dev-admin-token"
	return cfg
}

// overlayFileConfig applies TOML file values onto cfg.
func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}

	if fc.Logging != nil {
		if fc.Logging.Level != "" {
			cfg.Logging.Level = fc.Logging.Level
		}
		// AllowSensitive is a bool, overlay when section present
		cfg.Logging.AllowSensitive = fc.Logging.AllowSensitive
	}

	if fc.OutboundHTTP != nil {
		if fc.OutboundHTTP.TimeoutMS != 0 {
			cfg.OutboundHTTP.TimeoutMS = fc.OutboundHTTP.TimeoutMS
		}
		if fc.OutboundHTTP.ConnectTimeoutMS != 0 {
			cfg.OutboundHTTP.ConnectTimeoutMS = fc.OutboundHTTP.ConnectTimeoutMS
		}
		if fc.OutboundHTTP.MaxRedirects != 0 {
			cfg.OutboundHTTP.MaxRedirects = fc.OutboundHTTP.MaxRedirects
		}
		if fc.OutboundHTTP.MaxResponseBytes != 0 {
			cfg.OutboundHTTP.MaxResponseBytes = fc.OutboundHTTP.MaxResponseBytes
		}
		// InsecureSkipVerify is a bool, overlay always when section present
		cfg.OutboundHTTP.InsecureSkipVerify = fc.OutboundHTTP.InsecureSkipVerify
	}

	if fc.Identity != nil {
		overlayString(&cfg.Identity.Driver, fc.Identity.Driver)
		overlayString(&cfg.Identity.BaseURL, fc.Identity.BaseURL)
		overlayString(&cfg.Identity.Realm, fc.Identity.Realm)
		overlayString(&cfg.Identity.AdminRealm, fc.Identity.AdminRealm)
		overlayString(&cfg.Identity.ClientID, fc.Identity.ClientID)
		overlayString(&cfg.Identity.ClientSecret, fc.Identity.ClientSecret)
		overlayString(&cfg.Identity.ConsultantRole, fc.Identity.ConsultantRole)
		overlayString(&cfg.Identity.GroupChatRole, fc.Identity.GroupChatRole)
	}

	if fc.Chat != nil {
		overlayString(&cfg.Chat.BaseURL, fc.Chat.BaseURL)
		overlayString(&cfg.Chat.TechnicalUsername, fc.Chat.TechnicalUsername)
		overlayString(&cfg.Chat.TechnicalPassword, fc.Chat.TechnicalPassword)
		overlayString(&cfg.Chat.SystemUsername, fc.Chat.SystemUsername)
		overlayString(&cfg.Chat.SystemPassword, fc.Chat.SystemPassword)
		if fc.Chat.RotationIntervalSeconds != 0 {
			cfg.Chat.RotationIntervalSeconds = fc.Chat.RotationIntervalSeconds
		}
	}

	if fc.Scheduling != nil {
		if fc.Scheduling.Enabled != nil {
			cfg.Scheduling.Enabled = *fc.Scheduling.Enabled
		}
		overlayString(&cfg.Scheduling.BaseURL, fc.Scheduling.BaseURL)
		overlayString(&cfg.Scheduling.APIKey, fc.Scheduling.APIKey)
	}

	if fc.Tenant != nil {
		if fc.Tenant.Multitenancy != nil {
			cfg.Tenant.Multitenancy = *fc.Tenant.Multitenancy
		}
		overlayString(&cfg.Tenant.BaseURL, fc.Tenant.BaseURL)
		if fc.Tenant.SeatCacheTTLSeconds > 0 {
			cfg.Tenant.SeatCacheTTLSeconds = fc.Tenant.SeatCacheTTLSeconds
		}
	}

	if fc.Store != nil {
		overlayString(&cfg.Store.Driver, fc.Store.Driver)
		overlayString(&cfg.Store.DataDir, fc.Store.DataDir)
	}

	if fc.Cache != nil {
		overlayString(&cfg.Cache.Driver, fc.Cache.Driver)
		if len(fc.Cache.Drivers) > 0 {
			cfg.Cache.Drivers = fc.Cache.Drivers
		}
	}

	if fc.Admin != nil {
		overlayString(&cfg.Admin.APIToken, fc.Admin.APIToken)
	}

	if fc.Consultant != nil {
		overlayString(&cfg.Consultant.DefaultLocale, fc.Consultant.DefaultLocale)
	}

	if fc.HTTP != nil && len(fc.HTTP.Services) > 0 {
		if cfg.HTTP.Services == nil {
			cfg.HTTP.Services = make(map[string]map[string]any)
		}
		for name, svcCfg := range fc.HTTP.Services {
			cfg.HTTP.Services[name] = svcCfg
		}
	}
}

func overlayString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// overlayEnv applies secrets from the environment onto cfg.
func overlayEnv(cfg *Config, environ map[string]string) error {
	var s envSecrets
	if err := env.ParseWithOptions(&s, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	overlayString(&cfg.Identity.ClientSecret, s.IdentityClientSecret)
	overlayString(&cfg.Chat.TechnicalPassword, s.ChatTechnicalPassword)
	overlayString(&cfg.Chat.SystemPassword, s.ChatSystemPassword)
	overlayString(&cfg.Scheduling.APIKey, s.SchedulingAPIKey)
	overlayString(&cfg.Admin.APIToken, s.AdminAPIToken)
	return nil
}

// overlayFlags applies CLI flag values onto cfg.
func overlayFlags(cfg *Config, f FlagOverrides) error {
	if f.ListenAddr != nil && *f.ListenAddr != "" {
		cfg.ListenAddr = *f.ListenAddr
	}
	if f.LoggingLevel != nil && *f.LoggingLevel != "" {
		cfg.Logging.Level = *f.LoggingLevel
	}
	if f.LoggingAllowSensitive != nil && *f.LoggingAllowSensitive != "" {
		cfg.Logging.AllowSensitive = *f.LoggingAllowSensitive == "true"
	}
	if f.IdentityDriver != nil && *f.IdentityDriver != "" {
		cfg.Identity.Driver = *f.IdentityDriver
	}
	if f.StoreDriver != nil && *f.StoreDriver != "" {
		cfg.Store.Driver = *f.StoreDriver
	}
	if f.StoreDataDir != nil && *f.StoreDataDir != "" {
		cfg.Store.DataDir = *f.StoreDataDir
	}
	if f.SchedulingEnabled != nil && *f.SchedulingEnabled != "" {
		cfg.Scheduling.Enabled = *f.SchedulingEnabled == "true"
	}
	if f.Multitenancy != nil && *f.Multitenancy != "" {
		cfg.Tenant.Multitenancy = *f.Multitenancy == "true"
	}
	if f.RotationIntervalSeconds != nil && *f.RotationIntervalSeconds != "" {
		secs, err := strconv.Atoi(*f.RotationIntervalSeconds)
		if err != nil {
			return fmt.Errorf("invalid rotation interval %q: %w", *f.RotationIntervalSeconds, err)
		}
		cfg.Chat.RotationIntervalSeconds = secs
	}
	return nil
}

// validate checks enum fields, collaborator URLs and mode-specific requirements.
func validate(cfg *Config) error {
	switch cfg.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q: must be one of trace, debug, info, warn, error", cfg.Logging.Level)
	}

	switch cfg.Identity.Driver {
	case "keycloak":
		if err := validateBaseURL("identity.base_url", cfg.Identity.BaseURL); err != nil {
			return err
		}
		if cfg.Identity.Realm == "" {
			return fmt.Errorf("identity.realm must be set for the keycloak driver")
		}
	case "memory":
		if cfg.Mode == string(ModeStrict) {
			return fmt.Errorf("identity.driver %q is only allowed in dev mode", cfg.Identity.Driver)
		}
	default:
		return fmt.Errorf("invalid identity.driver %q: must be one of keycloak, memory", cfg.Identity.Driver)
	}
	if cfg.Identity.ConsultantRole == "" {
		return fmt.Errorf("identity.consultant_role must not be empty")
	}

	if err := validateBaseURL("chat.base_url", cfg.Chat.BaseURL); err != nil {
		return err
	}
	if cfg.Chat.TechnicalUsername == "" || cfg.Chat.SystemUsername == "" {
		return fmt.Errorf("chat.technical_username and chat.system_username must be set")
	}
	if cfg.Chat.RotationIntervalSeconds <= 0 {
		return fmt.Errorf("invalid chat.rotation_interval_seconds %d: must be positive", cfg.Chat.RotationIntervalSeconds)
	}

	if cfg.Scheduling.Enabled {
		if err := validateBaseURL("scheduling.base_url", cfg.Scheduling.BaseURL); err != nil {
			return err
		}
	}

	if cfg.Tenant.Multitenancy {
		if err := validateBaseURL("tenant.base_url", cfg.Tenant.BaseURL); err != nil {
			return err
		}
	}

	switch cfg.Store.Driver {
	case "sqlite":
		if cfg.Store.DataDir == "" {
			return fmt.Errorf("store.data_dir must be set for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid store.driver %q: must be one of sqlite, memory", cfg.Store.Driver)
	}

	// cache.driver (empty defaults to memory)
	switch cfg.Cache.Driver {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("invalid cache.driver %q: must be one of memory or redis", cfg.Cache.Driver)
	}

	if cfg.Mode == string(ModeStrict) {
		if cfg.Admin.APIToken == "" {
			return fmt.Errorf("admin.api_token must be set in strict mode (USERSERVICE_ADMIN_API_TOKEN)")
		}
		if cfg.OutboundHTTP.InsecureSkipVerify {
			return fmt.Errorf("outbound_http.insecure_skip_verify is only allowed in dev mode")
		}
	}

	return nil
}

// validateBaseURL requires an absolute http(s) URL without query or fragment.
func validateBaseURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s must be set", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s %q: scheme must be http or https", key, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid %s %q: must include a host", key, raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("invalid %s %q: must not include a query string or fragment", key, raw)
	}
	return nil
}
