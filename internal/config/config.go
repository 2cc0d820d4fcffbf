// Package config handles configuration loading for the AS2 server.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows sensitive values
// like database credentials to be injected at runtime.
//
// # Configuration Sections
//
//   - server: HTTP server settings (port, inbound path, TLS, admin API key)
//   - identity: the local AS2 station and its key pair
//   - partners: trading partners and their certificates
//   - storage: payload delivery (inbox directory or MongoDB/GridFS)
//   - logging: log level
//   - observability: Prometheus metrics endpoint
//
// # Example Configuration
//
//	server:
//	  port: 8080
//	  path: /as2
//
//	identity:
//	  name: BOB
//	  domain: bob.example.com
//	  url: https://bob.example.com/as2
//	  certFile: /etc/as2/bob.crt
//	  keyFile: /etc/as2/bob.key
//
//	partners:
//	  - name: ALICE
//	    url: https://alice.example.com/as2
//	    certFile: /etc/as2/partners/alice.crt
//	    micAlgorithm: sha256
//
//	storage:
//	  mongodb:
//	    uri: ${MONGODB_URI}
//	    database: as2
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sirosfoundation/go-as2/pkg/codec"
	"github.com/sirosfoundation/go-as2/pkg/mic"
	"github.com/sirosfoundation/go-as2/pkg/security"
)

// Signature failure strategies
const (
	SignatureFailureReject = "reject"
	SignatureFailureAccept = "accept"
)

// Config is the root configuration structure
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Identity IdentityConfig  `yaml:"identity"`
	Partners []PartnerConfig `yaml:"partners"`
	Storage  StorageConfig   `yaml:"storage"`
	Logging  LoggingConfig   `yaml:"logging"`
	Metrics  MetricsConfig   `yaml:"observability"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port int `yaml:"port"`
	// Path is where inbound AS2 messages are posted
	Path         string        `yaml:"path"`
	MaxBodySize  int64         `yaml:"maxBodySize"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	// SignatureFailure is "reject" or "accept". Accepted messages are
	// logged and processed.
	SignatureFailure string `yaml:"signatureFailure"`
	// DuplicateWindow is how long delivered message ids are remembered.
	// Retransmissions within the window are acknowledged without delivery.
	DuplicateWindow time.Duration `yaml:"duplicateWindow"`
	// AdminKey enables the message API. Requests must carry it in X-Admin-Key.
	AdminKey string `yaml:"adminKey"`
	TLS      struct {
		Enabled  bool   `yaml:"enabled"`
		CertFile string `yaml:"certFile"`
		KeyFile  string `yaml:"keyFile"`
	} `yaml:"tls"`
}

// IdentityConfig describes the local AS2 station
type IdentityConfig struct {
	Name     string `yaml:"name"`
	Domain   string `yaml:"domain"`
	URL      string `yaml:"url"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

// PartnerConfig describes a trading partner
type PartnerConfig struct {
	Name                string `yaml:"name"`
	URL                 string `yaml:"url"`
	CertFile            string `yaml:"certFile"`
	OutboundFormat      string `yaml:"outboundFormat"`
	MICAlgorithm        string `yaml:"micAlgorithm"`
	EncryptionAlgorithm string `yaml:"encryptionAlgorithm"`
}

// StorageConfig holds payload delivery settings. Without a MongoDB URI,
// message records and payloads are kept in memory.
type StorageConfig struct {
	// Inbox is a directory received payloads are written to
	Inbox   string        `yaml:"inbox"`
	MongoDB MongoDBConfig `yaml:"mongodb"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
	GridFS   struct {
		BucketName     string `yaml:"bucketName"`
		ChunkSizeBytes int    `yaml:"chunkSizeBytes"`
	} `yaml:"gridfs"`
}

// Enabled reports whether MongoDB persistence is configured
func (c MongoDBConfig) Enabled() bool {
	return c.URI != ""
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel returns the configured level
func (c LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MetricsConfig holds observability settings
type MetricsConfig struct {
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML data
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Path == "" {
		c.Server.Path = "/as2"
	}
	if c.Server.MaxBodySize == 0 {
		c.Server.MaxBodySize = 100 << 20
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 60 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.DuplicateWindow == 0 {
		c.Server.DuplicateWindow = 24 * time.Hour
	}
	if c.Server.SignatureFailure == "" {
		c.Server.SignatureFailure = SignatureFailureReject
	}
	if c.Identity.Domain == "" {
		c.Identity.Domain = "localhost"
	}
	if c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "as2"
	}
	if c.Storage.MongoDB.GridFS.BucketName == "" {
		c.Storage.MongoDB.GridFS.BucketName = "payloads"
	}
	if c.Storage.MongoDB.GridFS.ChunkSizeBytes == 0 {
		c.Storage.MongoDB.GridFS.ChunkSizeBytes = 261120 // 255KB
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Metrics.Path == "" {
		c.Metrics.Metrics.Path = "/metrics"
	}
}

func (c *Config) validate() error {
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with '/', got '%s'", c.Server.Path)
	}

	switch c.Server.SignatureFailure {
	case SignatureFailureReject, SignatureFailureAccept:
	default:
		return fmt.Errorf("server.signatureFailure must be 'reject' or 'accept', got '%s'", c.Server.SignatureFailure)
	}

	if c.Server.DuplicateWindow < 0 {
		return fmt.Errorf("server.duplicateWindow must not be negative")
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls.certFile and server.tls.keyFile are required when TLS is enabled")
	}

	if c.Identity.Name == "" {
		return fmt.Errorf("identity.name is required")
	}
	if c.Identity.CertFile == "" || c.Identity.KeyFile == "" {
		return fmt.Errorf("identity.certFile and identity.keyFile are required")
	}

	if len(c.Partners) == 0 {
		return fmt.Errorf("at least one partner is required")
	}
	seen := make(map[string]bool, len(c.Partners))
	for i, p := range c.Partners {
		if p.Name == "" {
			return fmt.Errorf("partners[%d].name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate partner '%s'", p.Name)
		}
		seen[p.Name] = true

		if p.CertFile == "" {
			return fmt.Errorf("partner '%s': certFile is required", p.Name)
		}
		switch p.OutboundFormat {
		case "", codec.SchemeRFC2045, codec.SchemeRFC4648:
		default:
			return fmt.Errorf("partner '%s': outboundFormat must be '%s' or '%s', got '%s'",
				p.Name, codec.SchemeRFC2045, codec.SchemeRFC4648, p.OutboundFormat)
		}
		if p.MICAlgorithm != "" && !mic.Supported(p.MICAlgorithm) {
			return fmt.Errorf("partner '%s': unsupported micAlgorithm '%s'", p.Name, p.MICAlgorithm)
		}
		if err := security.ValidateCipher(p.EncryptionAlgorithm); err != nil {
			return fmt.Errorf("partner '%s': %w", p.Name, err)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got '%s'", c.Logging.Level)
	}

	return nil
}
