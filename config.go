package apmz

import (
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the agent settings. Every field can be set from the
// environment; LoadConfigFile additionally reads yaml, json, toml or env files.
type Config struct {
	ServiceName         string `yaml:"serviceName" env:"APM_SERVICE_NAME" env-default:"unknown-service" env-description:"Name of the instrumented service"`
	ServiceVersion      string `yaml:"serviceVersion" env:"APM_SERVICE_VERSION" env-description:"Version of the instrumented service"`
	Environment         string `yaml:"environment" env:"APM_ENVIRONMENT" env-description:"Deployment environment"`
	LogLevel            string `yaml:"logLevel" env:"APM_LOG_LEVEL" env-default:"info" env-description:"Agent log level"`
	RethrowCaptured     bool   `yaml:"rethrowCaptured" env:"APM_CAPTURE_RETHROW" env-default:"false" env-description:"Return errors captured by CaptureSpan to the caller"`
	StackTraceLimit     int    `yaml:"stackTraceLimit" env:"APM_STACK_TRACE_LIMIT" env-default:"50" env-description:"Maximum frames per stack trace, 0 for no limit"`
	CollectorBufferSize int    `yaml:"collectorBufferSize" env:"APM_COLLECTOR_BUFFER_SIZE" env-default:"1024" env-description:"Records buffered by a collector before dropping"`
	IDPoolSize          int    `yaml:"idPoolSize" env:"APM_ID_POOL_SIZE" env-default:"0" env-description:"Pre-generated IDs per pool, 0 to size from CPU count"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		ServiceName:         "unknown-service",
		LogLevel:            "info",
		StackTraceLimit:     50,
		CollectorBufferSize: 1024,
	}
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "reading apm config from environment")
	}
	return cfg, cfg.Validate()
}

// LoadConfigFile reads the configuration from path, then applies
// environment overrides.
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "reading apm config %s", path)
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var err error
	if c.ServiceName == "" {
		err = multierr.Append(err, errors.New("service name must not be empty"))
	}
	if _, lerr := zapcore.ParseLevel(c.LogLevel); lerr != nil {
		err = multierr.Append(err, errors.Wrap(lerr, "log level"))
	}
	if c.StackTraceLimit < 0 {
		err = multierr.Append(err, errors.New("stack trace limit must be >= 0"))
	}
	if c.CollectorBufferSize <= 0 {
		err = multierr.Append(err, errors.New("collector buffer size must be > 0"))
	}
	if c.IDPoolSize < 0 {
		err = multierr.Append(err, errors.New("id pool size must be >= 0"))
	}
	return err
}

// Logger builds a production zap logger at the configured level.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "parsing log level")
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build(zap.Fields(zap.String("service", c.ServiceName)))
}
