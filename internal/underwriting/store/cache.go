package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"underwriting-workers/internal/common/logger"
	"underwriting-workers/internal/common/metrics"
	"underwriting-workers/internal/underwriting/dsl"
)

// RuleSetSource is the loader the cache falls back to.
type RuleSetSource interface {
	GetRuleSetsForCarrier(ctx context.Context, carrierID string) ([]*dsl.UnderwritingRuleSet, error)
}

// CachedRuleSetStore is a read-through Redis cache in front of the
// PostgreSQL rule set store. Cache failures degrade to direct loads.
type CachedRuleSetStore struct {
	source RuleSetSource
	rdb    *redis.Client
	ttl    time.Duration
	log    logger.Logger
}

func NewCachedRuleSetStore(source RuleSetSource, rdb *redis.Client, ttl time.Duration, log logger.Logger) *CachedRuleSetStore {
	return &CachedRuleSetStore{
		source: source,
		rdb:    rdb,
		ttl:    ttl,
		log:    log,
	}
}

func ruleSetCacheKey(carrierID string) string {
	return fmt.Sprintf("uw:rulesets:%s", carrierID)
}

func (c *CachedRuleSetStore) GetRuleSetsForCarrier(ctx context.Context, carrierID string) ([]*dsl.UnderwritingRuleSet, error) {
	key := ruleSetCacheKey(carrierID)

	if cached, err := c.rdb.Get(ctx, key).Result(); err == nil {
		var ruleSets []*dsl.UnderwritingRuleSet
		if err := json.Unmarshal([]byte(cached), &ruleSets); err == nil {
			metrics.RuleSetCacheHits.WithLabelValues("hit").Inc()
			return ruleSets, nil
		}
		// Corrupt entry, treat as a miss and refresh.
		c.log.Warn("Discarding corrupt rule set cache entry", map[string]interface{}{
			"key": key,
		})
		c.rdb.Del(ctx, key)
	} else if err != redis.Nil {
		metrics.RuleSetCacheHits.WithLabelValues("error").Inc()
		c.log.Warn("Rule set cache unavailable, loading from database", map[string]interface{}{
			"carrierId": carrierID,
			"error":     err.Error(),
		})
	} else {
		metrics.RuleSetCacheHits.WithLabelValues("miss").Inc()
	}

	ruleSets, err := c.source.GetRuleSetsForCarrier(ctx, carrierID)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(ruleSets); err == nil {
		if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.log.Warn("Failed to populate rule set cache", map[string]interface{}{
				"carrierId": carrierID,
				"error":     err.Error(),
			})
		}
	}

	return ruleSets, nil
}

// Invalidate removes a carrier's cached rule sets, used after authoring
// changes land.
func (c *CachedRuleSetStore) Invalidate(ctx context.Context, carrierID string) error {
	return c.rdb.Del(ctx, ruleSetCacheKey(carrierID)).Err()
}
