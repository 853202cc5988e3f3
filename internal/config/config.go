package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Pool     PoolConfig
	Broker   BrokerConfig
	Metrics  MetricsConfig
	Auth     AuthConfig
	LogLevel string
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RateLimitRPS int
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PoolConfig holds the worker pool sizing and lifecycle knobs.
type PoolConfig struct {
	MinWorkers        int
	MaxWorkers        int
	ScaledownWait     time.Duration
	ScaledownInterval time.Duration
	WorkerStopWait    time.Duration
	WorkerRemovalWait time.Duration
	ShutdownTimeout   time.Duration
	WorkerCommand     []string // argv used to spawn worker subprocesses
}

type BrokerConfig struct {
	Channels     []string
	PollInterval time.Duration // delayed-message scheduler poll
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   []string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/dispatcher")

	setDefaults()

	viper.SetEnvPrefix("DISPATCHER")
	viper.AutomaticEnv()

	// Config file is optional
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.idletimeout", 120*time.Second)
	viper.SetDefault("server.ratelimitrps", 1000)

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolsize", 100)
	viper.SetDefault("redis.minidleconns", 10)
	viper.SetDefault("redis.maxretries", 3)
	viper.SetDefault("redis.dialtimeout", 5*time.Second)
	viper.SetDefault("redis.readtimeout", 3*time.Second)
	viper.SetDefault("redis.writetimeout", 3*time.Second)

	// Pool defaults
	viper.SetDefault("pool.minworkers", 1)
	viper.SetDefault("pool.maxworkers", 4)
	viper.SetDefault("pool.scaledownwait", 15*time.Second)
	viper.SetDefault("pool.scaledowninterval", 15*time.Second)
	viper.SetDefault("pool.workerstopwait", 30*time.Second)
	viper.SetDefault("pool.workerremovalwait", 30*time.Second)
	viper.SetDefault("pool.shutdowntimeout", 3*time.Second)
	viper.SetDefault("pool.workercommand", []string{"taskworker"})

	// Broker defaults
	viper.SetDefault("broker.channels", []string{"dispatcher:tasks"})
	viper.SetDefault("broker.pollinterval", time.Second)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Auth defaults
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.apikeys", []string{})

	// Logging defaults
	viper.SetDefault("loglevel", "info")
}
