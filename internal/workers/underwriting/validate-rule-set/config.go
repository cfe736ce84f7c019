// internal/workers/underwriting/validate-rule-set/config.go
package validateruleset

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 10 * time.Second,
	}
}
