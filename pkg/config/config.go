package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Milvus    MilvusConfig
	Kafka     KafkaConfig
	NLU       NLUConfig
	Learning  LearningConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled           bool
	Host              string
	Port              int
	Password          string
	DB                int
	SearchCacheTTLSec int
	CycleLockTTLSec   int
}

type LLMConfig struct {
	Enabled        bool
	APIKey         string
	EmbeddingModel string
	TimeoutSec     int
}

type MilvusConfig struct {
	Enabled    bool
	Endpoint   string
	Collection string
	VectorDim  int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type NLUConfig struct {
	// RulesPath overrides the embedded rule tables when set.
	RulesPath   string
	SeedCatalog bool
}

type LearningConfig struct {
	LookbackDays            int
	CurationRatingThreshold float64
	MinRating               int
	MaxExamples             int
	KeepLast                int
	SlowResponseMs          int
	LowIntentRating         float64
	StaleTurnMin            int
	ScheduleIntervalMin     int
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/unishop")

	v.SetEnvPrefix("UNISHOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Learning.KeepLast <= 0 {
		return fmt.Errorf("learning.keepLast must be positive, got %d", c.Learning.KeepLast)
	}
	if c.Learning.MinRating < 1 || c.Learning.MinRating > 5 {
		return fmt.Errorf("learning.minRating must be between 1 and 5, got %d", c.Learning.MinRating)
	}
	if c.Learning.MaxExamples <= 0 {
		return fmt.Errorf("learning.maxExamples must be positive, got %d", c.Learning.MaxExamples)
	}
	if c.Learning.LookbackDays <= 0 {
		return fmt.Errorf("learning.lookbackDays must be positive, got %d", c.Learning.LookbackDays)
	}
	if c.Milvus.Enabled && !c.LLM.Enabled {
		return errors.New("milvus.enabled requires llm.enabled for embeddings")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)

	v.SetDefault("sqlite.path", "./data/unishop.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.searchCacheTTLSec", 300)
	v.SetDefault("redis.cycleLockTTLSec", 1800)

	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.timeoutSec", 15)

	v.SetDefault("milvus.enabled", false)
	v.SetDefault("milvus.endpoint", "localhost:19530")
	v.SetDefault("milvus.collection", "unishop_knowledge")
	v.SetDefault("milvus.vectorDim", 1536)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "unishop.assistant.events")

	v.SetDefault("nlu.rulesPath", "")
	v.SetDefault("nlu.seedCatalog", true)

	v.SetDefault("learning.lookbackDays", 7)
	v.SetDefault("learning.curationRatingThreshold", 3.5)
	v.SetDefault("learning.minRating", 4)
	v.SetDefault("learning.maxExamples", 20)
	v.SetDefault("learning.keepLast", 1000)
	v.SetDefault("learning.slowResponseMs", 5000)
	v.SetDefault("learning.lowIntentRating", 3.0)
	v.SetDefault("learning.staleTurnMin", 10)
	v.SetDefault("learning.scheduleIntervalMin", 1440)

	v.SetDefault("rateLimit.requestsPerMinute", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
