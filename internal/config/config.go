package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server   ServerConfig           `yaml:"server"`
	Database DatabaseConfig         `yaml:"database"`
	NATS     NATSConfig             `yaml:"nats"`
	Auth     AuthConfig             `yaml:"auth"`
	Relay    RelayConfig            `yaml:"relay"`
	GasTank  GasTankConfig          `yaml:"gasTank"`
	CORS     CORSConfig             `yaml:"cors"`
	Chains   map[string]ChainConfig `yaml:"chains"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig NATS message server configuration. Publishing is disabled when
// URL is empty.
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"`
	ReconnectWait int    `yaml:"reconnect_wait"`
	MaxReconnects int    `yaml:"max_reconnects"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// AuthConfig API authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	// RequestSigningSecret enables the optional HMAC check over
	// (timestamp + raw body) when non-empty.
	RequestSigningSecret string `yaml:"requestSigningSecret"`
	// RequestSigningWindowSeconds bounds the accepted timestamp skew.
	RequestSigningWindowSeconds int `yaml:"requestSigningWindowSeconds"`
	// AdminTOTPSecret gates the admin credit endpoint.
	AdminTOTPSecret string `yaml:"adminTotpSecret"`
}

// RelayConfig relay provider polling and submission configuration
type RelayConfig struct {
	PollIntervalSeconds int    `yaml:"pollIntervalSeconds"`
	WaitTimeoutSeconds  int    `yaml:"waitTimeoutSeconds"`
	GasFallback         uint64 `yaml:"gasFallback"`
}

// GasTankConfig ledger tuning, keyed by support mode name. A mode listed
// here overrides the default compiled into the models package; absent modes
// keep the default.
type GasTankConfig struct {
	StartingCreditMicros map[string]int64 `yaml:"startingCreditMicros"`
	FloorMicros          map[string]int64 `yaml:"floorMicros"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// ChainConfig per-chain endpoints and account-initialization parameters
type ChainConfig struct {
	ChainID         uint64   `yaml:"chainId"`
	Name            string   `yaml:"name"`
	RPCEndpoints    []string `yaml:"rpcEndpoints"`
	RelayURL        string   `yaml:"relayUrl"`
	DelegateAddress string   `yaml:"delegateAddress"`
	Enabled         bool     `yaml:"enabled"`
}

var AppConfig *Config

// LoadConfig loads the configuration file and applies environment overrides.
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&config)
	applyDefaults(&config)

	AppConfig = &config
	return nil
}

func applyDefaults(config *Config) {
	if config.Relay.PollIntervalSeconds <= 0 {
		config.Relay.PollIntervalSeconds = 2
	}
	if config.Relay.WaitTimeoutSeconds <= 0 {
		config.Relay.WaitTimeoutSeconds = 120
	}
	if config.Relay.GasFallback == 0 {
		// Signature-gated execute paths trip generic estimators, so the
		// fallback has to cover a worst-case bundle.
		config.Relay.GasFallback = 1_000_000
	}
	if config.Auth.RequestSigningWindowSeconds <= 0 {
		config.Auth.RequestSigningWindowSeconds = 300
	}
}

// overrideFromEnv applies environment variable overrides.
// Priority: environment > yaml > default.
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if secret := os.Getenv("REQUEST_SIGNING_SECRET"); secret != "" {
		config.Auth.RequestSigningSecret = secret
	}
	if secret := os.Getenv("ADMIN_TOTP_SECRET"); secret != "" {
		config.Auth.AdminTOTPSecret = secret
	}

	for chainName, chainConfig := range config.Chains {
		envRPC := fmt.Sprintf("%s_RPC_ENDPOINTS", strings.ToUpper(chainName))
		if rpcEndpoints := os.Getenv(envRPC); rpcEndpoints != "" {
			chainConfig.RPCEndpoints = strings.Split(rpcEndpoints, ",")
		}

		envRelay := fmt.Sprintf("%s_RELAY_URL", strings.ToUpper(chainName))
		if relayURL := os.Getenv(envRelay); relayURL != "" {
			chainConfig.RelayURL = relayURL
		}

		if delegate := os.Getenv("DELEGATE_ADDRESS"); delegate != "" {
			chainConfig.DelegateAddress = delegate
		}

		config.Chains[chainName] = chainConfig
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		origins := strings.Split(corsOrigins, ",")
		config.CORS.AllowedOrigins = make([]string, 0, len(origins))
		for _, origin := range origins {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				config.CORS.AllowedOrigins = append(config.CORS.AllowedOrigins, trimmed)
			}
		}
	}
}

// GetChainConfig returns the named chain configuration.
func GetChainConfig(chainName string) (*ChainConfig, error) {
	if AppConfig == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	chain, exists := AppConfig.Chains[chainName]
	if !exists {
		return nil, fmt.Errorf("chain %s not found in config", chainName)
	}

	if !chain.Enabled {
		return nil, fmt.Errorf("chain %s is disabled", chainName)
	}

	return &chain, nil
}

// GetChainConfigByID returns the chain configuration for a chain id.
func GetChainConfigByID(chainID uint64) (*ChainConfig, error) {
	if AppConfig == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	for _, chain := range AppConfig.Chains {
		if chain.ChainID == chainID && chain.Enabled {
			return &chain, nil
		}
	}

	return nil, fmt.Errorf("chain with chainID %d not found or disabled", chainID)
}
