package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Claimant  ClaimantConfig
	Queue     QueueConfig
	Resolver  ResolverConfig
	Metrics   MetricsConfig
	LogLevel  string
}

type ServerConfig struct {
	Host         string
	Port         int
	AdminPort    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
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

// ClaimantConfig configures the claim simulator (internal test/dev
// tooling, not a worker-facing surface), kept from the teacher's
// WorkerConfig shape.
type ClaimantConfig struct {
	ID                string
	Concurrency       int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ShutdownTimeout   time.Duration
	VanishProbability float64
	ClaimDuration     time.Duration
	RunDuration       time.Duration
	BlockTimeout      time.Duration
}

type QueueConfig struct {
	StreamPrefix      string
	ConsumerGroup     string
	MaxQueueSize      int64
	BlockTimeout      time.Duration
	ClaimMinIdle      time.Duration
	TaskRetentionDays int
	ArchiveStreamName string
	ArchiveSetName    string
}

// ResolverConfig configures the claim expiration resolver's iteration
// driver, poll fan-out, and claim-expiry queue wiring.
type ResolverConfig struct {
	PollingDelay     time.Duration
	Parallelism      int
	BatchSize        int64
	MaxFailures      int
	MaxIterationTime time.Duration
	ClaimStreamName  string
	ClaimSetName     string
	ConsumerGroup    string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/taskqueue")

	setDefaults()

	viper.SetEnvPrefix("TASKQUEUE")
	viper.AutomaticEnv()

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
	viper.SetDefault("server.adminport", 8081)
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.idletimeout", 120*time.Second)

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

	// Claimant defaults
	viper.SetDefault("claimant.id", "")
	viper.SetDefault("claimant.concurrency", 10)
	viper.SetDefault("claimant.heartbeatinterval", 5*time.Second)
	viper.SetDefault("claimant.heartbeattimeout", 15*time.Second)
	viper.SetDefault("claimant.shutdowntimeout", 30*time.Second)
	viper.SetDefault("claimant.vanishprobability", 0.1)
	viper.SetDefault("claimant.claimduration", 2*time.Minute)
	viper.SetDefault("claimant.runduration", 500*time.Millisecond)
	viper.SetDefault("claimant.blocktimeout", 5*time.Second)

	// Queue defaults
	viper.SetDefault("queue.streamprefix", "tasks")
	viper.SetDefault("queue.consumergroup", "workers")
	viper.SetDefault("queue.maxqueuesize", 1000000)
	viper.SetDefault("queue.blocktimeout", 5*time.Second)
	viper.SetDefault("queue.claimminidle", 30*time.Second)
	viper.SetDefault("queue.taskretentiondays", 7)
	viper.SetDefault("queue.archivestreamname", "exceptions:archive")
	viper.SetDefault("queue.archivesetname", "exceptions:archive:set")

	// Resolver defaults
	viper.SetDefault("resolver.pollingdelay", 5*time.Second)
	viper.SetDefault("resolver.parallelism", 4)
	viper.SetDefault("resolver.batchsize", 32)
	viper.SetDefault("resolver.maxfailures", 10)
	viper.SetDefault("resolver.maxiterationtime", 10*time.Minute)
	viper.SetDefault("resolver.claimstreamname", "claims:expiry")
	viper.SetDefault("resolver.claimsetname", "claims:pending")
	viper.SetDefault("resolver.consumergroup", "resolvers")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("loglevel", "info")
}
