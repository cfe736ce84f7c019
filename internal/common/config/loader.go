// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"underwriting-workers/internal/common/validation"
)

// Load reads configuration from files and environment variables
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath("../../configs")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error merging environment config: %w", err)
		}
	}

	expandEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads .env from the usual run locations
func loadEnvFile() {
	envPaths := []string{".env", "../.env", "../../.env"}

	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// expandEnvVars replaces ${VAR} placeholders in string settings
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if strings.Contains(value, "${") {
			expanded := os.ExpandEnv(value)
			v.Set(key, expanded)
		}
	}
}

// applyDefaults sets sensible defaults for missing configuration
func applyDefaults(config *Config) {
	if config.App.Name == "" {
		config.App.Name = "underwriting-workers"
	}
	if config.App.Environment == "" {
		config.App.Environment = "development"
	}

	if config.Camunda.MaxJobsActive == 0 {
		config.Camunda.MaxJobsActive = 10
	}
	if config.Camunda.Timeout == 0 {
		config.Camunda.Timeout = 30000
	}
	if config.Camunda.RequestTimeout == 0 {
		config.Camunda.RequestTimeout = 30000
	}

	if config.Database.Postgres.Port == 0 {
		config.Database.Postgres.Port = 5432
	}
	if config.Database.Postgres.MaxConnections == 0 {
		config.Database.Postgres.MaxConnections = 25
	}
	if config.Database.Postgres.MaxIdle == 0 {
		config.Database.Postgres.MaxIdle = 5
	}
	if config.Database.Postgres.SSLMode == "" {
		config.Database.Postgres.SSLMode = "disable"
	}

	if config.Engine.ParallelProductLimit == 0 {
		config.Engine.ParallelProductLimit = 10
	}
	if config.Engine.PremiumGuardrailMonthly == 0 {
		config.Engine.PremiumGuardrailMonthly = 100000
	}
	if config.Engine.FlatExtraMode == "" {
		config.Engine.FlatExtraMode = "sum"
	}
	if config.Engine.AlternativeQuoteCount == 0 {
		config.Engine.AlternativeQuoteCount = 2
	}
	if config.Engine.RuleCacheTTL == 0 {
		config.Engine.RuleCacheTTL = 300000
	}
	if config.Engine.EvaluationTimeout == 0 {
		config.Engine.EvaluationTimeout = 30000
	}

	if config.Audit.Index == "" {
		config.Audit.Index = "underwriting-decisions"
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "json"
	}
	if config.Logging.Output == "" {
		config.Logging.Output = "stdout"
	}

	if config.Workers == nil {
		config.Workers = make(map[string]WorkerConfig)
	}
	for name, worker := range config.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		config.Workers[name] = worker
	}
}

// validateConfig validates required configuration
func validateConfig(config *Config) error {
	if config.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}

	if config.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if config.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if config.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if config.Audit.Enabled && config.Database.Elasticsearch.GetURL() == "" {
		return fmt.Errorf("database.elasticsearch.addresses or url is required when audit is enabled")
	}

	if config.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	switch config.Engine.FlatExtraMode {
	case "sum", "max", "worst_only":
	default:
		return fmt.Errorf("engine.flat_extra_mode must be sum, max or worst_only")
	}

	if config.Notifications.Email.Enabled {
		if !validation.ValidateEmail(config.Notifications.Email.FromEmail) {
			return fmt.Errorf("notifications.email.from_email is not a valid address")
		}
		if !validation.ValidateEmail(config.Notifications.Email.ToEmail) {
			return fmt.Errorf("notifications.email.to_email is not a valid address")
		}
	}

	return nil
}

// GetDuration converts milliseconds to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig returns config for a specific worker
func (c *Config) GetWorkerConfig(workerName string) WorkerConfig {
	if worker, exists := c.Workers[workerName]; exists {
		return worker
	}

	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a worker is enabled
func (c *Config) IsWorkerEnabled(workerName string) bool {
	return c.GetWorkerConfig(workerName).Enabled
}

// LoadFromFile loads config from a specific file path, mainly for tests
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyDefaults(&config)
	return &config, nil
}
