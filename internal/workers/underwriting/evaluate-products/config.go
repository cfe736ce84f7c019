// internal/workers/underwriting/evaluate-products/config.go
package evaluateproducts

import "time"

type Config struct {
	Timeout time.Duration

	// AuditEnabled controls the fire-and-forget Elasticsearch decision
	// record.
	AuditEnabled bool
}

func LoadConfig() *Config {
	return &Config{
		Timeout:      30 * time.Second,
		AuditEnabled: true,
	}
}
