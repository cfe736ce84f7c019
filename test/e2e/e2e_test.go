// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"underwriting-workers/internal/common/logger"
	"underwriting-workers/internal/models"
	"underwriting-workers/internal/underwriting/aggregate"
	"underwriting-workers/internal/underwriting/dsl"
	"underwriting-workers/internal/underwriting/notify"
	"underwriting-workers/internal/underwriting/premium"
	"underwriting-workers/internal/underwriting/product"

	evaluateproducts "underwriting-workers/internal/workers/underwriting/evaluate-products"
	notifyreferral "underwriting-workers/internal/workers/underwriting/notify-referral"
	quickquote "underwriting-workers/internal/workers/underwriting/quick-quote"
	validateruleset "underwriting-workers/internal/workers/underwriting/validate-rule-set"
)

// ==========================
// In-Memory Reference Data
// ==========================

// memoryRefData backs the engine with fixture data so the whole pipeline
// runs in process, the way a deployed workflow would drive it.
type memoryRefData struct {
	products []models.ProductCandidate
	ruleSets []*dsl.UnderwritingRuleSet
	matrices map[string][]models.PremiumMatrixRow
}

func (m *memoryRefData) GetProducts(ctx context.Context, productType string) ([]models.ProductCandidate, error) {
	if productType == "" {
		return m.products, nil
	}
	var out []models.ProductCandidate
	for _, p := range m.products {
		if p.ProductType == productType {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryRefData) GetRuleSetsForCarrier(ctx context.Context, carrierID string) ([]*dsl.UnderwritingRuleSet, error) {
	var out []*dsl.UnderwritingRuleSet
	for _, rs := range m.ruleSets {
		if rs.CarrierID == carrierID {
			out = append(out, rs)
		}
	}
	return out, nil
}

func (m *memoryRefData) BatchGetPremiumMatrices(ctx context.Context, productIDs []string) (map[string][]models.PremiumMatrixRow, error) {
	out := map[string][]models.PremiumMatrixRow{}
	for _, id := range productIDs {
		if rows, ok := m.matrices[id]; ok {
			out[id] = rows
		}
	}
	return out, nil
}

func (m *memoryRefData) BatchGetBuildCharts(ctx context.Context, chartIDs []string) (map[string][]models.BuildChartRow, error) {
	return map[string][]models.BuildChartRow{}, nil
}

func (m *memoryRefData) GetCarrierConfig(ctx context.Context, carrierID string) (aggregate.CarrierConfig, error) {
	return aggregate.DefaultCarrierConfig(), nil
}

// recordingSender captures referral deliveries instead of hitting SES/SNS.
type recordingSender struct {
	referrals []*notify.Referral
}

func (r *recordingSender) Send(ctx context.Context, referral *notify.Referral) ([]string, error) {
	r.referrals = append(r.referrals, referral)
	return []string{"email"}, nil
}

// ==========================
// Fixtures
// ==========================

const diabetesRuleSetDocument = `{
	"id": "rs-acme-diabetes",
	"carrier_id": "carrier-acme",
	"scope": "condition",
	"condition_code": "diabetes_type_2",
	"name": "Acme diabetes type 2",
	"is_active": true,
	"version": 1,
	"review_status": "approved",
	"default_outcome": {
		"eligibility": "refer",
		"health_class": "refer",
		"reason": "Diabetes profile needs underwriter review"
	},
	"rules": [
		{
			"id": "r-controlled",
			"rule_set_id": "rs-acme-diabetes",
			"priority": 10,
			"name": "Well controlled A1C",
			"predicate": {
				"version": 2,
				"root": {
					"all": [
						{"type": "numeric", "field": "diabetes_type_2.a1c", "operator": "lte", "value": 7.0}
					]
				}
			},
			"outcome": {
				"eligibility": "eligible",
				"health_class": "standard",
				"table_rating": "none",
				"reason": "A1C at or below 7"
			}
		}
	]
}`

func termYears(y int) *int { return &y }

func fixtureProducts() []models.ProductCandidate {
	return []models.ProductCandidate{
		{
			ID:             "prod-acme-term",
			CarrierID:      "carrier-acme",
			CarrierName:    "Acme Life",
			Name:           "Acme Term",
			ProductType:    models.ProductTypeTerm,
			MinIssueAge:    18,
			MaxIssueAge:    70,
			MinFaceAmount:  50000,
			MaxFaceAmount:  1000000,
			AvailableTerms: []int{10, 20, 30},
		},
		{
			ID:                 "prod-acme-wl",
			CarrierID:          "carrier-acme",
			CarrierName:        "Acme Life",
			Name:               "Acme Whole Life",
			ProductType:        models.ProductTypeWholeLife,
			MinIssueAge:        18,
			MaxIssueAge:        80,
			MinFaceAmount:      25000,
			MaxFaceAmount:      500000,
			KnockoutConditions: []string{"diabetes_type_2"},
		},
	}
}

func fixtureMatrices() map[string][]models.PremiumMatrixRow {
	row := func(age int, face, monthly float64) models.PremiumMatrixRow {
		return models.PremiumMatrixRow{
			ProductID:      "prod-acme-term",
			Age:            age,
			FaceAmount:     face,
			TermYears:      termYears(20),
			Gender:         "male",
			TobaccoClass:   models.TobaccoClassNone,
			HealthClass:    dsl.HealthStandard,
			MonthlyPremium: monthly,
		}
	}
	return map[string][]models.PremiumMatrixRow{
		"prod-acme-term": {
			row(40, 100000, 30.00),
			row(40, 250000, 70.00),
			row(50, 100000, 42.00),
			row(50, 250000, 95.00),
		},
	}
}

func fixtureClient() models.ClientProfile {
	return models.ClientProfile{
		Age:     45,
		Gender:  "male",
		Tobacco: false,
		Conditions: []models.ClientCondition{
			{Code: "diabetes_type_2", Responses: map[string]any{"a1c": 6.5}},
		},
	}
}

// ==========================
// Pipeline E2E
// ==========================

// TestUnderwritingPipeline drives the four workers in workflow order:
// rule set validation, product evaluation, a standalone quick quote, and
// the referral notification for the excluded candidate.
func TestUnderwritingPipeline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	log := logger.NewZapAdapter(zaptest.NewLogger(t))

	// Stage 1: validate the authored rule set before activation.
	validateHandler := validateruleset.NewHandler(&validateruleset.Config{Timeout: 10 * time.Second}, log)
	validateOut, err := validateHandler.Execute(ctx, &validateruleset.Input{
		RuleSet: json.RawMessage(diabetesRuleSetDocument),
	})
	require.NoError(t, err)
	require.True(t, validateOut.Valid, "fixture rule set must validate: %v", validateOut.Errors)
	assert.Equal(t, "rs-acme-diabetes", validateOut.RuleSetID)
	assert.Equal(t, 1, validateOut.RuleCount)

	ruleSet, err := dsl.ParseRuleSet([]byte(diabetesRuleSetDocument))
	require.NoError(t, err)

	refData := &memoryRefData{
		products: fixtureProducts(),
		ruleSets: []*dsl.UnderwritingRuleSet{ruleSet},
		matrices: fixtureMatrices(),
	}
	premiums := premium.NewService(log, 0)
	engine := product.NewEngine(refData, premiums, log, product.Options{
		AlternativeQuoteCount: 1,
	})

	// Stage 2: full evaluation. The term product should rank and price,
	// the whole life product falls to its diabetes knockout.
	evaluateHandler := evaluateproducts.NewHandler(
		&evaluateproducts.Config{Timeout: 30 * time.Second},
		engine, nil, log,
	)
	client := fixtureClient()
	evalOut, err := evaluateHandler.Execute(ctx, &evaluateproducts.Input{
		Client: client,
		Coverage: models.CoverageRequest{
			FaceAmount: 250000,
			TermYears:  termYears(20),
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, evalOut.EvaluationID)
	require.NotEmpty(t, evalOut.InputHash)

	require.Len(t, evalOut.Recommendations, 1)
	top := evalOut.Recommendations[0]
	assert.Equal(t, 1, top.Rank)
	assert.Equal(t, models.ReasonBestValue, top.Reason)
	assert.Equal(t, "prod-acme-term", top.Product.Product.ID)
	assert.Equal(t, dsl.EligibilityEligible, top.Product.Eligibility)
	assert.Equal(t, dsl.HealthStandard, top.Product.HealthClass)

	require.NotNil(t, top.Product.Quote)
	// Age 45 sits between the 40 and 50 grid rows: (70 + 95) / 2.
	assert.InDelta(t, 82.50, top.Product.Quote.MonthlyPremium, 0.001)
	assert.True(t, top.Product.Quote.Interpolated)
	assert.NotEmpty(t, top.Product.AlternativeQuotes)

	require.Len(t, evalOut.Excluded, 1)
	excluded := evalOut.Excluded[0]
	assert.Equal(t, "prod-acme-wl", excluded.ProductID)
	assert.Equal(t, "eligibility", excluded.Stage)
	assert.Equal(t, "knockout_condition", excluded.Code)

	assert.Equal(t, 2, evalOut.Stats.TotalProducts)
	assert.Equal(t, 1, evalOut.Stats.PassedEligibility)
	assert.Equal(t, 1, evalOut.Stats.Ineligible)
	assert.Equal(t, 1, evalOut.Stats.WithPremium)

	// Stage 3: quick quote against the same matrix, standalone path.
	quoteHandler := quickquote.NewHandler(
		&quickquote.Config{Timeout: 15 * time.Second},
		refData, premiums, log,
	)
	quoteOut, err := quoteHandler.Execute(ctx, &quickquote.Input{
		ProductID:  "prod-acme-term",
		Age:        45,
		Gender:     "male",
		FaceAmount: 250000,
		TermYears:  termYears(20),
	})
	require.NoError(t, err)
	assert.InDelta(t, top.Product.Quote.MonthlyPremium, quoteOut.MonthlyPremium, 0.001)
	assert.Equal(t, string(dsl.HealthStandard), quoteOut.HealthClassUsed)

	// Stage 4: referral notification for the knocked-out candidate.
	sender := &recordingSender{}
	notifyHandler := notifyreferral.NewHandler(
		&notifyreferral.Config{Timeout: 15 * time.Second},
		sender, log,
	)
	notifyOut, err := notifyHandler.Execute(ctx, &notifyreferral.Input{
		EvaluationID: evalOut.EvaluationID,
		CarrierName:  excluded.CarrierName,
		ProductName:  excluded.ProductName,
		Eligibility:  string(dsl.EligibilityRefer),
		Reasons:      []string{excluded.Reason},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, notifyOut.NotificationID)
	assert.Equal(t, []string{"email"}, notifyOut.Channels)

	require.Len(t, sender.referrals, 1)
	assert.Equal(t, evalOut.EvaluationID, sender.referrals[0].EvaluationID)
	assert.Equal(t, "Acme Life", sender.referrals[0].CarrierName)
}

// TestUnderwritingPipeline_MissingData parks a candidate when a declared
// condition is missing the answers its rules read.
func TestUnderwritingPipeline_MissingData(t *testing.T) {
	ctx := context.Background()
	log := logger.NewZapAdapter(zaptest.NewLogger(t))

	ruleSet, err := dsl.ParseRuleSet([]byte(diabetesRuleSetDocument))
	require.NoError(t, err)

	refData := &memoryRefData{
		products: fixtureProducts()[:1],
		ruleSets: []*dsl.UnderwritingRuleSet{ruleSet},
		matrices: fixtureMatrices(),
	}
	engine := product.NewEngine(refData, premium.NewService(log, 0), log, product.Options{})

	handler := evaluateproducts.NewHandler(
		&evaluateproducts.Config{Timeout: 30 * time.Second},
		engine, nil, log,
	)

	// Condition declared without the a1c answer the rule set needs.
	out, err := handler.Execute(ctx, &evaluateproducts.Input{
		Client: models.ClientProfile{
			Age:    45,
			Gender: "male",
			Conditions: []models.ClientCondition{
				{Code: "diabetes_type_2"},
			},
		},
		Coverage: models.CoverageRequest{
			FaceAmount: 250000,
			TermYears:  termYears(20),
		},
	})
	require.NoError(t, err)

	assert.Empty(t, out.Recommendations)
	require.Len(t, out.NeedsMoreInfo, 1)
	entry := out.NeedsMoreInfo[0]
	assert.Equal(t, "prod-acme-term", entry.Product.ID)
	require.NotEmpty(t, entry.MissingFields)
	assert.Equal(t, "diabetes_type_2.a1c", entry.MissingFields[0].Field)
	assert.Equal(t, 1, out.Stats.UnknownEligibility)
}
