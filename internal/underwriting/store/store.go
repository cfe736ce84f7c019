// Package store loads underwriting reference data from PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	commonerrors "underwriting-workers/internal/common/errors"
	"underwriting-workers/internal/common/logger"
	"underwriting-workers/internal/models"
	"underwriting-workers/internal/underwriting/aggregate"
	"underwriting-workers/internal/underwriting/dsl"
)

// Store is the PostgreSQL-backed reference data store.
type Store struct {
	db  *sql.DB
	log logger.Logger
}

func New(db *sql.DB, log logger.Logger) *Store {
	return &Store{db: db, log: log}
}

// GetProducts returns active product candidates, optionally filtered by
// product type. An empty productType returns all active products.
func (s *Store) GetProducts(ctx context.Context, productType string) ([]models.ProductCandidate, error) {
	query := `
		SELECT id, carrier_id, carrier_name, name, product_type,
		       min_issue_age, max_issue_age, min_face_amount, max_face_amount,
		       available_terms, state_availability, knockout_conditions,
		       build_chart_id, allow_single_point_scaling, carrier_priority
		FROM products
		WHERE is_active = true`
	args := []interface{}{}
	if productType != "" {
		query += ` AND product_type = $1`
		args = append(args, productType)
	}
	query += ` ORDER BY carrier_priority DESC, name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("products", err)
	}
	defer rows.Close()

	var products []models.ProductCandidate
	for rows.Next() {
		var p models.ProductCandidate
		var terms pq.Int64Array
		var states, knockouts pq.StringArray
		var buildChartID sql.NullString

		if err := rows.Scan(
			&p.ID, &p.CarrierID, &p.CarrierName, &p.Name, &p.ProductType,
			&p.MinIssueAge, &p.MaxIssueAge, &p.MinFaceAmount, &p.MaxFaceAmount,
			&terms, &states, &knockouts,
			&buildChartID, &p.AllowSinglePointScaling, &p.CarrierPriority,
		); err != nil {
			return nil, commonerrors.NewQueryExecutionFailedError("products", err)
		}

		p.AvailableTerms = make([]int, len(terms))
		for i, t := range terms {
			p.AvailableTerms[i] = int(t)
		}
		p.StateAvailability = states
		p.KnockoutConditions = knockouts
		p.BuildChartID = buildChartID.String

		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("products", err)
	}

	return products, nil
}

// GetRuleSetsForCarrier loads the approved, active rule sets for a carrier,
// including their rules. Rule sets that fail validation are skipped and
// logged rather than failing the whole load.
func (s *Store) GetRuleSetsForCarrier(ctx context.Context, carrierID string) ([]*dsl.UnderwritingRuleSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, carrier_id, product_id, scope, condition_code, name,
		       is_active, version, default_outcome, review_status
		FROM underwriting_rule_sets
		WHERE carrier_id = $1 AND is_active = true AND review_status = 'approved'
		ORDER BY scope, condition_code, version DESC`, carrierID)
	if err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("rule_sets", err)
	}
	defer rows.Close()

	var ruleSets []*dsl.UnderwritingRuleSet
	byID := map[string]*dsl.UnderwritingRuleSet{}
	for rows.Next() {
		var rs dsl.UnderwritingRuleSet
		var productID, conditionCode sql.NullString
		var defaultOutcome []byte

		if err := rows.Scan(
			&rs.ID, &rs.CarrierID, &productID, &rs.Scope, &conditionCode, &rs.Name,
			&rs.IsActive, &rs.Version, &defaultOutcome, &rs.ReviewStatus,
		); err != nil {
			return nil, commonerrors.NewQueryExecutionFailedError("rule_sets", err)
		}

		rs.ProductID = productID.String
		rs.ConditionCode = conditionCode.String
		if len(defaultOutcome) > 0 {
			var outcome dsl.RuleOutcome
			if err := json.Unmarshal(defaultOutcome, &outcome); err != nil {
				s.log.Warn("Skipping rule set with malformed default outcome", map[string]interface{}{
					"ruleSetId": rs.ID,
					"error":     err.Error(),
				})
				continue
			}
			rs.DefaultOutcome = &outcome
		}

		copied := rs
		ruleSets = append(ruleSets, &copied)
		byID[rs.ID] = ruleSets[len(ruleSets)-1]
	}
	if err := rows.Err(); err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("rule_sets", err)
	}

	if len(ruleSets) == 0 {
		return ruleSets, nil
	}

	if err := s.loadRules(ctx, byID); err != nil {
		return nil, err
	}

	// Validate after rules are attached; drop sets that do not hold up.
	valid := ruleSets[:0]
	for _, rs := range ruleSets {
		if err := dsl.ValidateRuleSet(rs); err != nil {
			s.log.Warn("Skipping invalid rule set", map[string]interface{}{
				"ruleSetId": rs.ID,
				"carrierId": rs.CarrierID,
				"error":     err.Error(),
			})
			continue
		}
		valid = append(valid, rs)
	}

	return valid, nil
}

func (s *Store) loadRules(ctx context.Context, ruleSets map[string]*dsl.UnderwritingRuleSet) error {
	ids := make([]string, 0, len(ruleSets))
	for id := range ruleSets {
		ids = append(ids, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_set_id, priority, name, age_band_min, age_band_max,
		       gender, predicate, outcome
		FROM underwriting_rules
		WHERE rule_set_id = ANY($1)
		ORDER BY rule_set_id, priority ASC`, pq.Array(ids))
	if err != nil {
		return commonerrors.NewQueryExecutionFailedError("rules", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r dsl.UnderwritingRule
		var ageMin, ageMax sql.NullInt64
		var gender sql.NullString
		var predicate, outcome []byte

		if err := rows.Scan(
			&r.ID, &r.RuleSetID, &r.Priority, &r.Name, &ageMin, &ageMax,
			&gender, &predicate, &outcome,
		); err != nil {
			return commonerrors.NewQueryExecutionFailedError("rules", err)
		}

		if ageMin.Valid {
			v := int(ageMin.Int64)
			r.AgeBandMin = &v
		}
		if ageMax.Valid {
			v := int(ageMax.Int64)
			r.AgeBandMax = &v
		}
		r.Gender = gender.String

		parsed, err := dsl.ParsePredicate(predicate)
		if err != nil {
			s.log.Warn("Skipping rule with unparseable predicate", map[string]interface{}{
				"ruleId": r.ID,
				"error":  err.Error(),
			})
			continue
		}
		r.Predicate = *parsed

		if err := json.Unmarshal(outcome, &r.Outcome); err != nil {
			s.log.Warn("Skipping rule with malformed outcome", map[string]interface{}{
				"ruleId": r.ID,
				"error":  err.Error(),
			})
			continue
		}

		rs, ok := ruleSets[r.RuleSetID]
		if !ok {
			continue
		}
		rs.Rules = append(rs.Rules, r)
	}
	return rows.Err()
}

// BatchGetPremiumMatrices loads matrix rows for all requested products in
// one query, grouped by product ID.
func (s *Store) BatchGetPremiumMatrices(ctx context.Context, productIDs []string) (map[string][]models.PremiumMatrixRow, error) {
	result := make(map[string][]models.PremiumMatrixRow, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, age, face_amount, term_years, gender,
		       tobacco_class, health_class, monthly_premium
		FROM premium_matrix
		WHERE product_id = ANY($1)
		ORDER BY product_id, age, face_amount`, pq.Array(productIDs))
	if err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("premium_matrix", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.PremiumMatrixRow
		var term sql.NullInt64

		if err := rows.Scan(
			&r.ProductID, &r.Age, &r.FaceAmount, &term, &r.Gender,
			&r.TobaccoClass, &r.HealthClass, &r.MonthlyPremium,
		); err != nil {
			return nil, commonerrors.NewQueryExecutionFailedError("premium_matrix", err)
		}

		if term.Valid {
			v := int(term.Int64)
			r.TermYears = &v
		}
		result[r.ProductID] = append(result[r.ProductID], r)
	}
	if err := rows.Err(); err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("premium_matrix", err)
	}

	return result, nil
}

// BatchGetBuildCharts loads build chart rows for all requested charts in
// one query, grouped by chart ID.
func (s *Store) BatchGetBuildCharts(ctx context.Context, chartIDs []string) (map[string][]models.BuildChartRow, error) {
	result := make(map[string][]models.BuildChartRow, len(chartIDs))
	if len(chartIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chart_id, height_inches, weight_min_lbs, weight_max_lbs,
		       health_class, table_rating
		FROM build_charts
		WHERE chart_id = ANY($1)
		ORDER BY chart_id, height_inches, weight_min_lbs`, pq.Array(chartIDs))
	if err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("build_charts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.BuildChartRow
		if err := rows.Scan(
			&r.ChartID, &r.HeightInches, &r.WeightMinLbs, &r.WeightMaxLbs,
			&r.HealthClass, &r.TableRating,
		); err != nil {
			return nil, commonerrors.NewQueryExecutionFailedError("build_charts", err)
		}
		result[r.ChartID] = append(result[r.ChartID], r)
	}
	if err := rows.Err(); err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("build_charts", err)
	}

	return result, nil
}

// GetCarrierConfig returns the flat extra composition config for a carrier.
// Carriers without a stored config get the default.
func (s *Store) GetCarrierConfig(ctx context.Context, carrierID string) (aggregate.CarrierConfig, error) {
	var mode string
	err := s.db.QueryRowContext(ctx, `
		SELECT flat_extra_mode FROM carrier_configs WHERE carrier_id = $1`, carrierID,
	).Scan(&mode)
	if err == sql.ErrNoRows {
		return aggregate.DefaultCarrierConfig(), nil
	}
	if err != nil {
		return aggregate.CarrierConfig{}, commonerrors.NewQueryExecutionFailedError("carrier_configs", err)
	}

	switch aggregate.FlatExtraMode(mode) {
	case aggregate.FlatExtraSum, aggregate.FlatExtraMax, aggregate.FlatExtraWorstOnly:
		return aggregate.CarrierConfig{FlatExtraMode: aggregate.FlatExtraMode(mode)}, nil
	default:
		return aggregate.CarrierConfig{}, commonerrors.NewInvalidInputError(
			fmt.Sprintf("carrier %s has unknown flat_extra_mode %q", carrierID, mode))
	}
}
