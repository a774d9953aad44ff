// Package config holds the runtime configuration of pqtls-bench.
//
// Values are resolved in three layers: compiled defaults, an optional YAML
// file, then PQTLS_ prefixed environment variables. Command-line flags are
// applied last by the CLI.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pzverkov/pqtls-bench/internal/constants"
	qerrors "github.com/pzverkov/pqtls-bench/internal/errors"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "PQTLS_"

// Config is the complete configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Client        ClientConfig        `yaml:"client"`
	Log           LogConfig           `yaml:"log"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the listener.
type ServerConfig struct {
	Port               int     `yaml:"port"`
	CertificateFile    string  `yaml:"certificate_file"`
	PrivateKeyFile     string  `yaml:"private_key_file"`
	Groups             string  `yaml:"groups"`
	SigAlgs            string  `yaml:"sigalgs"`
	MaxSessions        int64   `yaml:"max_sessions"`
	MaxSessionsPerPeer int     `yaml:"max_sessions_per_peer"`
	HandshakeRate      float64 `yaml:"handshake_rate"`
	HandshakeBurst     int     `yaml:"handshake_burst"`
}

// ClientConfig configures the load harness.
type ClientConfig struct {
	ServerHost     string        `yaml:"server_host"`
	ServerPort     int           `yaml:"server_port"`
	Concurrency    int           `yaml:"concurrent_user"`
	Group          string        `yaml:"tls_group"`
	SigAlgs        string        `yaml:"sigalgs"`
	PayloadSize    int           `yaml:"data_length"`
	Rate           float64       `yaml:"rate"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// LogConfig configures operational logging and the latency log directory.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
}

// ObservabilityConfig configures the metrics/health server and tracing.
type ObservabilityConfig struct {
	Addr    string `yaml:"addr"`
	Tracing bool   `yaml:"tracing"`
	// MaxHeap is a size such as "512MB". When set, /health reports down while
	// the Go heap exceeds it.
	MaxHeap string `yaml:"max_heap"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Groups:  constants.SupportedGroupsList,
			SigAlgs: constants.SupportedSigAlgsList,
		},
		Client: ClientConfig{
			ServerHost:     "127.0.0.1",
			Concurrency:    constants.DefaultConcurrency,
			SigAlgs:        constants.SupportedSigAlgsList,
			PayloadSize:    constants.DefaultPayloadSize,
			ReportInterval: constants.DefaultReportInterval,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Dir:    ".",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path or a
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("read config file: %w", err))
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("parse config file: %w", err))
	}
	return cfg, nil
}

// ApplyEnv overrides fields from PQTLS_ prefixed environment variables.
// Unparseable values are ignored.
func (c *Config) ApplyEnv() {
	c.Server.Port = getEnvInt("SERVER_PORT", c.Server.Port)
	c.Server.CertificateFile = getEnv("CERTIFICATE_FILE", c.Server.CertificateFile)
	c.Server.PrivateKeyFile = getEnv("PRIVATE_KEY_FILE", c.Server.PrivateKeyFile)
	c.Server.Groups = getEnv("SERVER_GROUPS", c.Server.Groups)
	c.Server.SigAlgs = getEnv("SERVER_SIGALGS", c.Server.SigAlgs)
	c.Server.MaxSessions = int64(getEnvInt("MAX_SESSIONS", int(c.Server.MaxSessions)))
	c.Server.MaxSessionsPerPeer = getEnvInt("MAX_SESSIONS_PER_PEER", c.Server.MaxSessionsPerPeer)
	c.Server.HandshakeRate = getEnvFloat("HANDSHAKE_RATE", c.Server.HandshakeRate)
	c.Server.HandshakeBurst = getEnvInt("HANDSHAKE_BURST", c.Server.HandshakeBurst)

	c.Client.ServerHost = getEnv("SERVER_HOST", c.Client.ServerHost)
	c.Client.ServerPort = getEnvInt("CLIENT_SERVER_PORT", c.Client.ServerPort)
	c.Client.Concurrency = getEnvInt("CONCURRENT_USER", c.Client.Concurrency)
	c.Client.Group = getEnv("TLS_GROUP", c.Client.Group)
	c.Client.PayloadSize = getEnvInt("DATA_LENGTH", c.Client.PayloadSize)
	c.Client.Rate = getEnvFloat("RATE", c.Client.Rate)
	c.Client.ReportInterval = getEnvDuration("REPORT_INTERVAL", c.Client.ReportInterval)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.Dir = getEnv("LOG_DIR", c.Log.Dir)

	c.Observability.Addr = getEnv("OBS_ADDR", c.Observability.Addr)
	c.Observability.Tracing = getEnvBool("TRACING", c.Observability.Tracing)
	c.Observability.MaxHeap = getEnv("MAX_HEAP", c.Observability.MaxHeap)
}

// ValidateServer checks the fields the listener needs.
func (c *Config) ValidateServer() error {
	s := c.Server
	switch {
	case s.Port < 1 || s.Port > 65535:
		return invalid("server port %d out of range", s.Port)
	case s.CertificateFile == "" || s.PrivateKeyFile == "":
		return invalid("certificate and private key files are required")
	case s.Groups == "" || s.SigAlgs == "":
		return invalid("server group and signature lists must not be empty")
	case s.MaxSessions < 0 || s.MaxSessionsPerPeer < 0:
		return invalid("session limits must not be negative")
	case s.HandshakeRate < 0 || s.HandshakeBurst < 0:
		return invalid("handshake rate and burst must not be negative")
	}
	return nil
}

// ValidateClient checks the fields the load harness needs.
func (c *Config) ValidateClient() error {
	cl := c.Client
	switch {
	case cl.ServerHost == "":
		return invalid("server host is required")
	case cl.ServerPort < 1 || cl.ServerPort > 65535:
		return invalid("server port %d out of range", cl.ServerPort)
	case cl.Concurrency < 1:
		return invalid("concurrent users must be positive, got %d", cl.Concurrency)
	case cl.Group == "":
		return invalid("a tls group is required")
	case cl.PayloadSize < 1:
		return invalid("data length must be positive, got %d", cl.PayloadSize)
	case cl.Rate < 0:
		return invalid("rate must not be negative")
	case cl.ReportInterval <= 0:
		return invalid("report interval must be positive")
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return qerrors.Setup(qerrors.PhaseSetup,
		fmt.Errorf("%w: %s", qerrors.ErrInvalidConfig, fmt.Sprintf(format, args...)))
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
