// internal/workers/underwriting/notify-referral/config.go
package notifyreferral

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 15 * time.Second,
	}
}
