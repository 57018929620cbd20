package bridge

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Credentials are the optional SIP2 service login for a branch.
type Credentials struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// VendorProfile tunes per-vendor protocol quirks.
type VendorProfile struct {
	Name string `yaml:"name,omitempty"`
	// ChecksumRequired rejects inbound frames failing checksum verification
	// instead of tolerating them with a warning.
	ChecksumRequired bool `yaml:"checksumRequired"`
	// PostLoginSCStatus performs an SC Status round-trip after login, which
	// some vendors require before accepting circulation traffic.
	PostLoginSCStatus bool `yaml:"postLoginSCStatus"`
}

// BranchConfig is the static configuration for one LMS endpoint.
type BranchConfig struct {
	ID            string         `yaml:"id"`
	Host          string         `yaml:"host"`
	Port          int            `yaml:"port"`
	TimeoutMS     int            `yaml:"timeoutMs"`
	Institution   string         `yaml:"institutionId"`
	TLS           bool           `yaml:"tls"`
	TLSSkipVerify bool           `yaml:"tlsSkipVerify"`
	Credentials   *Credentials   `yaml:"credentials,omitempty"`
	Profile       *VendorProfile `yaml:"profile,omitempty"`
}

// Timeout returns the configured connect/request timeout, defaulting to ten
// seconds.
func (b BranchConfig) Timeout() time.Duration {
	if b.TimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(b.TimeoutMS) * time.Millisecond
}

func (b BranchConfig) validate() error {
	if b.ID == "" {
		return fmt.Errorf("bridge: branch with empty id")
	}
	if b.Host == "" {
		return fmt.Errorf("bridge: branch %q: empty host", b.ID)
	}
	if b.Port < 1 || b.Port > 65535 {
		return fmt.Errorf("bridge: branch %q: port %d out of range", b.ID, b.Port)
	}
	return nil
}

// Config is the gateway-wide configuration file layout.
type Config struct {
	// Listen is the HTTP bind address for the REST shim.
	Listen string `yaml:"listen"`
	// LocationCode is the CP field sent in every Login request.
	LocationCode string `yaml:"locationCode"`
	// LogFile, when set, adds the rotating JSON file sink for structured
	// logs; the gateway keeps console output on stdout alongside it.
	LogFile  string         `yaml:"logFile,omitempty"`
	Branches []BranchConfig `yaml:"branches"`
}

// LoadConfig reads a YAML config file, expands ${ENV} references, and
// validates every branch.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bridge: read config %q: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("bridge: invalid YAML in %s: %w", path, err)
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	seen := make(map[string]bool)
	for _, b := range cfg.Branches {
		if err := b.validate(); err != nil {
			return nil, err
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("bridge: duplicate branch id %q", b.ID)
		}
		seen[b.ID] = true
	}
	return &cfg, nil
}
