package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the daemon-level configuration, loaded from TOML. Sale semantics
// (rounds, prices, limits) live in the separate YAML sale plan so operators
// can review economic parameters independently of service plumbing.
type Config struct {
	RPCAddress       string `toml:"RPCAddress"`
	DataDir          string `toml:"DataDir"`
	NetworkName      string `toml:"NetworkName"`
	ChainID          uint64 `toml:"ChainID"`
	InstanceAddress  string `toml:"InstanceAddress"`
	SalePlanFile     string `toml:"SalePlanFile"`
	AuthTokenSecret  string `toml:"AuthTokenSecret,omitempty"`
	AuthTokenEnv     string `toml:"AuthTokenEnv"`
	RateLimitPerMin  int    `toml:"RateLimitPerMin"`
	RateBurst        int    `toml:"RateBurst"`
	LogEnvironment   string `toml:"LogEnvironment"`
	MetricsNamespace string `toml:"MetricsNamespace,omitempty"`
}

// Load reads the configuration at path, creating a commented default file on
// first run.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./crowdsale-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "iec-local"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1887
	}
	if strings.TrimSpace(cfg.SalePlanFile) == "" {
		cfg.SalePlanFile = defaultPlanPath("")
	}
	if strings.TrimSpace(cfg.AuthTokenEnv) == "" {
		cfg.AuthTokenEnv = "CROWDSALE_RPC_TOKEN_SECRET"
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 600
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 50
	}
}

// Validate checks the daemon configuration for internally consistent values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress must be set")
	}
	if strings.TrimSpace(c.InstanceAddress) == "" {
		return fmt.Errorf("config: InstanceAddress must be set")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("config: ChainID must be non-zero")
	}
	if c.RateLimitPerMin <= 0 || c.RateBurst <= 0 {
		return fmt.Errorf("config: rate limit values must be positive")
	}
	return nil
}

// TokenSecret resolves the shared HMAC secret for RPC bearer tokens, favouring
// the environment over the config file so secrets stay out of committed TOML.
func (c *Config) TokenSecret() (string, error) {
	if env := strings.TrimSpace(c.AuthTokenEnv); env != "" {
		if secret := strings.TrimSpace(os.Getenv(env)); secret != "" {
			return secret, nil
		}
	}
	if secret := strings.TrimSpace(c.AuthTokenSecret); secret != "" {
		return secret, nil
	}
	return "", fmt.Errorf("config: no RPC token secret in %s or AuthTokenSecret", c.AuthTokenEnv)
}

// createDefault creates and saves a default configuration file. The instance
// address is left empty intentionally so the daemon refuses to start until the
// operator fills it in.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.SalePlanFile = defaultPlanPath(path)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func defaultPlanPath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "sale-plan.yaml")
}
