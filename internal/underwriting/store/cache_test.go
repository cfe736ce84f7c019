package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"underwriting-workers/internal/common/logger"
	"underwriting-workers/internal/underwriting/dsl"
)

// ==========================
// Test Helper Functions
// ==========================

type MockRuleSetSource struct {
	GetRuleSetsForCarrierFunc func(ctx context.Context, carrierID string) ([]*dsl.UnderwritingRuleSet, error)
	calls                     int
}

func (m *MockRuleSetSource) GetRuleSetsForCarrier(ctx context.Context, carrierID string) ([]*dsl.UnderwritingRuleSet, error) {
	m.calls++
	if m.GetRuleSetsForCarrierFunc != nil {
		return m.GetRuleSetsForCarrierFunc(ctx, carrierID)
	}
	return nil, nil
}

func createTestRuleSets() []*dsl.UnderwritingRuleSet {
	return []*dsl.UnderwritingRuleSet{{
		ID: "rs-1", CarrierID: "carrier-a", Scope: dsl.ScopeCondition,
		ConditionCode: "diabetes_type_2", Name: "Diabetes rules",
		IsActive: true, Version: 2,
	}}
}

func newTestCache(t *testing.T, source RuleSetSource) (*CachedRuleSetStore, redismock.ClientMock) {
	rdb, mock := redismock.NewClientMock()
	cache := NewCachedRuleSetStore(source, rdb, 5*time.Minute, logger.NewZapAdapter(zaptest.NewLogger(t)))
	return cache, mock
}

// ==========================
// Read-Through Behavior
// ==========================

func TestCachedRuleSetStore_Hit(t *testing.T) {
	source := &MockRuleSetSource{}
	cache, mock := newTestCache(t, source)

	payload, err := json.Marshal(createTestRuleSets())
	require.NoError(t, err)
	mock.ExpectGet("uw:rulesets:carrier-a").SetVal(string(payload))

	ruleSets, err := cache.GetRuleSetsForCarrier(context.Background(), "carrier-a")
	require.NoError(t, err)
	require.Len(t, ruleSets, 1)
	assert.Equal(t, "rs-1", ruleSets[0].ID)
	assert.Zero(t, source.calls, "a hit never touches the database")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedRuleSetStore_MissLoadsAndPopulates(t *testing.T) {
	expected := createTestRuleSets()
	source := &MockRuleSetSource{
		GetRuleSetsForCarrierFunc: func(ctx context.Context, carrierID string) ([]*dsl.UnderwritingRuleSet, error) {
			return expected, nil
		},
	}
	cache, mock := newTestCache(t, source)

	payload, err := json.Marshal(expected)
	require.NoError(t, err)
	mock.ExpectGet("uw:rulesets:carrier-a").RedisNil()
	mock.ExpectSet("uw:rulesets:carrier-a", payload, 5*time.Minute).SetVal("OK")

	ruleSets, err := cache.GetRuleSetsForCarrier(context.Background(), "carrier-a")
	require.NoError(t, err)
	require.Len(t, ruleSets, 1)
	assert.Equal(t, 1, source.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedRuleSetStore_RedisDownDegradesToDirectLoad(t *testing.T) {
	source := &MockRuleSetSource{
		GetRuleSetsForCarrierFunc: func(ctx context.Context, carrierID string) ([]*dsl.UnderwritingRuleSet, error) {
			return createTestRuleSets(), nil
		},
	}
	cache, mock := newTestCache(t, source)

	mock.ExpectGet("uw:rulesets:carrier-a").SetErr(errors.New("connection refused"))
	payload, _ := json.Marshal(createTestRuleSets())
	mock.ExpectSet("uw:rulesets:carrier-a", payload, 5*time.Minute).SetErr(errors.New("connection refused"))

	ruleSets, err := cache.GetRuleSetsForCarrier(context.Background(), "carrier-a")
	require.NoError(t, err, "cache failures never fail the read")
	require.Len(t, ruleSets, 1)
	assert.Equal(t, 1, source.calls)
}

func TestCachedRuleSetStore_CorruptEntryRefreshed(t *testing.T) {
	source := &MockRuleSetSource{
		GetRuleSetsForCarrierFunc: func(ctx context.Context, carrierID string) ([]*dsl.UnderwritingRuleSet, error) {
			return createTestRuleSets(), nil
		},
	}
	cache, mock := newTestCache(t, source)

	mock.ExpectGet("uw:rulesets:carrier-a").SetVal("not json at all")
	mock.ExpectDel("uw:rulesets:carrier-a").SetVal(1)
	payload, _ := json.Marshal(createTestRuleSets())
	mock.ExpectSet("uw:rulesets:carrier-a", payload, 5*time.Minute).SetVal("OK")

	ruleSets, err := cache.GetRuleSetsForCarrier(context.Background(), "carrier-a")
	require.NoError(t, err)
	require.Len(t, ruleSets, 1)
	assert.Equal(t, 1, source.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedRuleSetStore_SourceErrorPropagates(t *testing.T) {
	source := &MockRuleSetSource{
		GetRuleSetsForCarrierFunc: func(ctx context.Context, carrierID string) ([]*dsl.UnderwritingRuleSet, error) {
			return nil, errors.New("database offline")
		},
	}
	cache, mock := newTestCache(t, source)
	mock.ExpectGet("uw:rulesets:carrier-a").RedisNil()

	_, err := cache.GetRuleSetsForCarrier(context.Background(), "carrier-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database offline")
}

// ==========================
// Expiry Round Trip
// ==========================

func TestCachedRuleSetStore_EntryExpires(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})

	source := &MockRuleSetSource{
		GetRuleSetsForCarrierFunc: func(ctx context.Context, carrierID string) ([]*dsl.UnderwritingRuleSet, error) {
			return createTestRuleSets(), nil
		},
	}
	cache := NewCachedRuleSetStore(source, rdb, time.Minute, logger.NewZapAdapter(zaptest.NewLogger(t)))

	_, err := cache.GetRuleSetsForCarrier(context.Background(), "carrier-a")
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)

	// Still cached, the source is not consulted again.
	_, err = cache.GetRuleSetsForCarrier(context.Background(), "carrier-a")
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)

	srv.FastForward(2 * time.Minute)

	_, err = cache.GetRuleSetsForCarrier(context.Background(), "carrier-a")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

// ==========================
// Invalidation
// ==========================

func TestCachedRuleSetStore_Invalidate(t *testing.T) {
	cache, mock := newTestCache(t, &MockRuleSetSource{})
	mock.ExpectDel("uw:rulesets:carrier-a").SetVal(1)

	require.NoError(t, cache.Invalidate(context.Background(), "carrier-a"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
