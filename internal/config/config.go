package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/yungtweek/mock-openai/internal/mock"
)

// envPrefix namespaces every environment variable read by LoadConfig.
const envPrefix = "MOCK_OPENAI_"

type Config struct {
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"` // 0 disables the gRPC listener
	Profile  string `yaml:"profile"`
	Preset   string `yaml:"preset"` // none|openai|vllm|hybrid
	Verbose  bool   `yaml:"verbose"`

	// Content pool
	PregenCount     int     `yaml:"pregen_count"`
	TokenMean       float64 `yaml:"token_mean"`
	TokenStddev     float64 `yaml:"token_stddev"`
	TokenHardCap    int     `yaml:"token_hard_cap"`   // 0 means mean + 6*stddev
	SelectionPolicy string  `yaml:"selection_policy"` // random|round_robin

	// Stream pacing
	EventTokensMin  int  `yaml:"event_tokens_min"`
	EventTokensMax  int  `yaml:"event_tokens_max"`
	ResponseDelayMs int  `yaml:"response_delay_ms"`
	DelayFirstEvent bool `yaml:"delay_first_event"`

	// Error injection
	ErrorRate float64 `yaml:"error_rate"`
	ErrorMode string  `yaml:"error_mode"` // mixed|429|500

	ModelID      string `yaml:"model_id"`
	EmbeddingDim int    `yaml:"embedding_dim"`

	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
}

func Default() Config {
	return Config{
		Port:            3000,
		GRPCPort:        50051,
		Profile:         "default",
		Preset:          "none",
		PregenCount:     mock.DefaultPoolSize,
		TokenMean:       256,
		TokenStddev:     64,
		SelectionPolicy: string(mock.SelectRandom),
		EventTokensMin:  1,
		EventTokensMax:  8,
		DelayFirstEvent: true,
		ErrorMode:       "mixed",
		ModelID:         "gpt-4-mock",
		EmbeddingDim:    128,
	}
}

func getEnv(k string) string {
	return os.Getenv(envPrefix + k)
}

func getEnvInt(k string, def int) int {
	if v := getEnv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(k string, def float64) float64 {
	if v := getEnv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvStr(k string, def string) string {
	if v := getEnv(k); v != "" {
		return v
	}
	return def
}

func getBool(k string, def bool) bool {
	if v := getEnv(k); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

// RegisterFlags adds the command-line flags LoadConfig reads from fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP("config", "c", "", "path to a YAML config file")
	fs.IntP("port", "p", d.Port, "HTTP listen port")
	fs.Int("grpc-port", d.GRPCPort, "gRPC listen port, 0 disables it")
	fs.String("preset", d.Preset, "latency preset: none, openai, vllm or hybrid")
	fs.Int("pregen-count", d.PregenCount, "number of articles generated at startup")
	fs.Float64("token-mean", d.TokenMean, "mean completion length in tokens")
	fs.Float64("token-stddev", d.TokenStddev, "standard deviation of the completion length")
	fs.Int("token-hard-cap", d.TokenHardCap, "upper bound on completion tokens, 0 means mean + 6*stddev")
	fs.Int("event-tokens-min", d.EventTokensMin, "minimum tokens per stream event")
	fs.Int("event-tokens-max", d.EventTokensMax, "maximum tokens per stream event")
	fs.Int("response-delay-ms", d.ResponseDelayMs, "delay between stream events in milliseconds")
	fs.Float64("error-rate", d.ErrorRate, "fraction of requests answered with an injected error")
	fs.BoolP("verbose", "v", d.Verbose, "enable debug logging")
}

// applyFlags copies every flag the user set explicitly onto cfg.
func applyFlags(fs *pflag.FlagSet, cfg *Config) error {
	ints := map[string]*int{
		"port":              &cfg.Port,
		"grpc-port":         &cfg.GRPCPort,
		"pregen-count":      &cfg.PregenCount,
		"token-hard-cap":    &cfg.TokenHardCap,
		"event-tokens-min":  &cfg.EventTokensMin,
		"event-tokens-max":  &cfg.EventTokensMax,
		"response-delay-ms": &cfg.ResponseDelayMs,
	}
	floats := map[string]*float64{
		"token-mean":   &cfg.TokenMean,
		"token-stddev": &cfg.TokenStddev,
		"error-rate":   &cfg.ErrorRate,
	}

	var errs []error
	for name, dst := range ints {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetInt(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*dst = v
	}
	for name, dst := range floats {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetFloat64(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*dst = v
	}
	if fs.Changed("preset") {
		v, err := fs.GetString("preset")
		errs = append(errs, err)
		cfg.Preset = v
	}
	if fs.Changed("verbose") {
		v, err := fs.GetBool("verbose")
		errs = append(errs, err)
		cfg.Verbose = v
	}
	return errors.Join(errs...)
}

// LoadConfig layers defaults, the optional YAML file, flags set on fs and
// MOCK_OPENAI_* environment variables, in that order. The file is named by
// MOCK_OPENAI_CONFIG_FILE or, failing that, --config. fs may be nil. Env values
// that fail to parse keep the previous layer's value.
func LoadConfig(fs *pflag.FlagSet) (Config, error) {
	cfg := Default()

	path := getEnv("CONFIG_FILE")
	if path == "" && fs != nil {
		path, _ = fs.GetString("config")
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if fs != nil {
		if err := applyFlags(fs, &cfg); err != nil {
			return cfg, fmt.Errorf("read flags: %w", err)
		}
	}

	return Config{
		Port:     getEnvInt("PORT", cfg.Port),
		GRPCPort: getEnvInt("GRPC_PORT", cfg.GRPCPort),
		Profile:  getEnvStr("PROFILE", cfg.Profile),
		Preset:   strings.ToLower(getEnvStr("PRESET", cfg.Preset)),
		Verbose:  getBool("VERBOSE", cfg.Verbose),

		// PREG_COUNT is the older spelling of the same key.
		PregenCount:     getEnvInt("PREGEN_COUNT", getEnvInt("PREG_COUNT", cfg.PregenCount)),
		TokenMean:       getEnvFloat("TOKEN_MEAN", cfg.TokenMean),
		TokenStddev:     getEnvFloat("TOKEN_STDDEV", cfg.TokenStddev),
		TokenHardCap:    getEnvInt("TOKEN_HARD_CAP", cfg.TokenHardCap),
		SelectionPolicy: strings.ToLower(getEnvStr("SELECTION_POLICY", cfg.SelectionPolicy)),

		EventTokensMin:  getEnvInt("EVENT_TOKENS_MIN", cfg.EventTokensMin),
		EventTokensMax:  getEnvInt("EVENT_TOKENS_MAX", cfg.EventTokensMax),
		ResponseDelayMs: getEnvInt("RESPONSE_DELAY_MS", cfg.ResponseDelayMs),
		DelayFirstEvent: getBool("DELAY_FIRST_EVENT", cfg.DelayFirstEvent),

		ErrorRate: getEnvFloat("ERROR_RATE", cfg.ErrorRate),
		ErrorMode: strings.ToLower(getEnvStr("ERROR_MODE", cfg.ErrorMode)),

		ModelID:      getEnvStr("MODEL_ID", cfg.ModelID),
		EmbeddingDim: getEnvInt("EMBEDDING_DIM", cfg.EmbeddingDim),

		TLSCertFile: getEnvStr("TLS_CERT_FILE", cfg.TLSCertFile),
		TLSKeyFile:  getEnvStr("TLS_KEY_FILE", cfg.TLSKeyFile),
	}, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate reports every setting that would make the server unable to generate output.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("grpc port out of range: %d", c.GRPCPort))
	}
	if err := c.PoolConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Settings().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.ErrorRate < 0 || c.ErrorRate > 1 {
		errs = append(errs, fmt.Errorf("error rate must be within [0, 1]: %v", c.ErrorRate))
	}
	if c.EmbeddingDim <= 0 {
		errs = append(errs, fmt.Errorf("embedding dim must be positive: %d", c.EmbeddingDim))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("tls cert and key must be set together"))
	}
	return errors.Join(errs...)
}

// PoolConfig returns the content pool parameters.
func (c Config) PoolConfig() mock.PoolConfig {
	return mock.PoolConfig{
		Count:   c.PregenCount,
		Mean:    c.TokenMean,
		Stddev:  c.TokenStddev,
		HardCap: c.TokenHardCap,
		Policy:  mock.SelectionPolicy(c.SelectionPolicy),
	}
}

// Settings returns the generation parameters shared by every request.
func (c Config) Settings() mock.Settings {
	return mock.Settings{
		Mean:       c.TokenMean,
		Stddev:     c.TokenStddev,
		HardCap:    c.TokenHardCap,
		Events:     mock.EventRange{Min: c.EventTokensMin, Max: c.EventTokensMax},
		Delay:      time.Duration(c.ResponseDelayMs) * time.Millisecond,
		DelayFirst: c.DelayFirstEvent,
	}
}

// TLSEnabled reports whether the HTTP listener should serve TLS.
func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}
