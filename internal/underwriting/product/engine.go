// Package product orchestrates the full evaluation pipeline: candidate
// fetch, the three per-product stages under bounded concurrency, and
// the final scoring and ranking.
package product

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	commonerrors "underwriting-workers/internal/common/errors"
	"underwriting-workers/internal/common/logger"
	"underwriting-workers/internal/common/metrics"
	"underwriting-workers/internal/common/observability"
	"underwriting-workers/internal/models"
	"underwriting-workers/internal/underwriting/acceptance"
	"underwriting-workers/internal/underwriting/aggregate"
	"underwriting-workers/internal/underwriting/approval"
	"underwriting-workers/internal/underwriting/dsl"
	"underwriting-workers/internal/underwriting/eligibility"
	"underwriting-workers/internal/underwriting/evaluator"
	"underwriting-workers/internal/underwriting/facts"
	"underwriting-workers/internal/underwriting/premium"
)

// ReferenceData is the read-only store surface the engine evaluates
// against. Everything is fetched up front per run and treated as
// immutable afterwards.
type ReferenceData interface {
	GetProducts(ctx context.Context, productType string) ([]models.ProductCandidate, error)
	GetRuleSetsForCarrier(ctx context.Context, carrierID string) ([]*dsl.UnderwritingRuleSet, error)
	BatchGetPremiumMatrices(ctx context.Context, productIDs []string) (map[string][]models.PremiumMatrixRow, error)
	BatchGetBuildCharts(ctx context.Context, chartIDs []string) (map[string][]models.BuildChartRow, error)
	GetCarrierConfig(ctx context.Context, carrierID string) (aggregate.CarrierConfig, error)
}

// Options are the per-engine evaluation knobs.
type Options struct {
	// ParallelProductLimit caps in-flight candidate evaluations.
	ParallelProductLimit int
	// AllowSinglePointScaling is the engine-wide opt-in; individual
	// products must also opt in.
	AllowSinglePointScaling bool
	// AlternativeQuoteCount is how many top-ranked candidates get
	// alternative quotes. Zero disables them.
	AlternativeQuoteCount int
}

const defaultParallelLimit = 10

// Engine is the Stage 4 orchestrator.
type Engine struct {
	data     ReferenceData
	premiums *premium.Service
	eval     *evaluator.Evaluator
	resolver *acceptance.Resolver
	scorer   *approval.Scorer
	log      logger.Logger
	tracing  *observability.Tracing
	opts     Options
}

func NewEngine(data ReferenceData, premiums *premium.Service, log logger.Logger, opts Options) *Engine {
	if opts.ParallelProductLimit <= 0 {
		opts.ParallelProductLimit = defaultParallelLimit
	}

	eval := evaluator.New(log)
	resolver := acceptance.NewResolver(eval, log)

	return &Engine{
		data:     data,
		premiums: premiums,
		eval:     eval,
		resolver: resolver,
		scorer:   approval.NewScorer(resolver, log),
		log:      log,
		opts:     opts,
	}
}

// WithTracing enables span emission around evaluation runs. A nil
// Tracing leaves the engine untraced.
func (e *Engine) WithTracing(t *observability.Tracing) *Engine {
	e.tracing = t
	return e
}

// Exclusion stages recorded on diagnostics entries.
const (
	StageEligibility = "eligibility"
	StageApproval    = "approval"
	StagePremium     = "premium"
)

// candidateOutcome is the terminal state of one candidate's pipeline run.
// The stage flags feed the run stats: a candidate excluded at pricing
// still passed eligibility and acceptance.
type candidateOutcome struct {
	evaluated *models.EvaluatedProduct
	needsInfo *models.NeedsMoreInfoEntry
	excluded  *models.ExcludedCandidate

	passedEligibility bool
	passedAcceptance  bool
}

// Evaluate runs every candidate product through the three stages and
// returns a complete ranked result. The run is all-or-nothing: a
// cancelled context returns an error, never a partial list.
func (e *Engine) Evaluate(ctx context.Context, client *models.ClientProfile, request *models.CoverageRequest) (*models.EvaluationResult, error) {
	if client == nil || request == nil {
		return nil, commonerrors.NewInvalidInputError("client profile and coverage request are required")
	}
	if client.Age <= 0 {
		return nil, commonerrors.NewInvalidInputError("client age must be positive")
	}
	if request.FaceAmount <= 0 {
		return nil, commonerrors.NewInvalidInputError("face amount must be positive")
	}

	ctx, span := e.tracing.StartSpan(ctx, "engine.Evaluate")
	defer span.End()

	started := time.Now()
	defer func() {
		metrics.EvaluationDuration.Observe(time.Since(started).Seconds())
	}()

	f := facts.Build(client)
	result := &models.EvaluationResult{
		EvaluationID: uuid.NewString(),
		InputHash:    facts.InputHash(f, request),
	}

	products, err := e.data.GetProducts(ctx, request.ProductType)
	if err != nil {
		return nil, err
	}
	result.Stats.TotalProducts = len(products)
	if len(products) == 0 {
		return result, nil
	}

	ref, err := e.prefetch(ctx, products)
	if err != nil {
		return nil, err
	}

	outcomes := make([]candidateOutcome, len(products))
	sem := make(chan struct{}, e.opts.ParallelProductLimit)
	var wg sync.WaitGroup

	for i := range products {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, fmt.Errorf("evaluation cancelled: %w", ctx.Err())
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = e.evaluateCandidate(ctx, &products[i], client, request, f, ref)
		}(i)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("evaluation cancelled: %w", ctx.Err())
	}

	var evaluated []*models.EvaluatedProduct
	for _, o := range outcomes {
		if o.passedEligibility {
			result.Stats.PassedEligibility++
		}
		if o.passedAcceptance {
			result.Stats.PassedAcceptance++
		}
		switch {
		case o.evaluated != nil:
			result.Stats.WithPremium++
			evaluated = append(evaluated, o.evaluated)
			metrics.ProductsEvaluated.WithLabelValues("ranked").Inc()
		case o.needsInfo != nil:
			result.Stats.UnknownEligibility++
			result.NeedsMoreInfo = append(result.NeedsMoreInfo, *o.needsInfo)
			metrics.ProductsEvaluated.WithLabelValues("needs_info").Inc()
		case o.excluded != nil:
			// Pricing exclusions are diagnostics, not declines.
			if o.excluded.Stage != StagePremium {
				result.Stats.Ineligible++
			}
			result.Excluded = append(result.Excluded, *o.excluded)
			metrics.ProductsEvaluated.WithLabelValues("excluded").Inc()
		}
	}

	scoreCandidates(evaluated)
	rankCandidates(evaluated)

	for rank, ep := range evaluated {
		if rank < e.opts.AlternativeQuoteCount {
			ep.AlternativeQuotes = e.alternativeQuotes(ep, client, request, ref.matrices[ep.Product.ID])
		}
		result.Recommendations = append(result.Recommendations, models.Recommendation{
			Rank:    rank + 1,
			Product: *ep,
		})
	}
	assignReasons(result.Recommendations)

	e.log.Info("Evaluation complete", map[string]interface{}{
		"evaluationId":  result.EvaluationID,
		"totalProducts": result.Stats.TotalProducts,
		"ranked":        len(result.Recommendations),
		"needsMoreInfo": len(result.NeedsMoreInfo),
		"excluded":      len(result.Excluded),
		"durationMs":    time.Since(started).Milliseconds(),
	})

	return result, nil
}

// EvaluateRuleSet runs one rule set against a fact map in isolation,
// for rule authoring and testing callers.
func (e *Engine) EvaluateRuleSet(ruleSet *dsl.UnderwritingRuleSet, f facts.FactMap) models.AggregatedOutcome {
	outcome := e.eval.EvaluateRuleSet(ruleSet, f)
	if ruleSet.Scope == dsl.ScopeGlobal {
		return aggregate.Outcomes(nil, &outcome, aggregate.DefaultCarrierConfig())
	}
	return aggregate.Outcomes([]models.ConditionOutcome{outcome}, nil, aggregate.DefaultCarrierConfig())
}

// refData is the per-run prefetched reference snapshot.
type refData struct {
	matrices map[string][]models.PremiumMatrixRow
	charts   map[string][]models.BuildChartRow
	indexes  map[string]*acceptance.Index
	configs  map[string]aggregate.CarrierConfig
}

// prefetch batches all reference lookups up front so candidate
// goroutines run against an immutable snapshot.
func (e *Engine) prefetch(ctx context.Context, products []models.ProductCandidate) (*refData, error) {
	productIDs := make([]string, 0, len(products))
	chartIDs := map[string]bool{}
	carriers := map[string]bool{}
	for i := range products {
		productIDs = append(productIDs, products[i].ID)
		if products[i].BuildChartID != "" {
			chartIDs[products[i].BuildChartID] = true
		}
		carriers[products[i].CarrierID] = true
	}

	matrices, err := e.data.BatchGetPremiumMatrices(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	chartList := make([]string, 0, len(chartIDs))
	for id := range chartIDs {
		chartList = append(chartList, id)
	}
	charts, err := e.data.BatchGetBuildCharts(ctx, chartList)
	if err != nil {
		return nil, err
	}

	ref := &refData{
		matrices: matrices,
		charts:   charts,
		indexes:  make(map[string]*acceptance.Index, len(carriers)),
		configs:  make(map[string]aggregate.CarrierConfig, len(carriers)),
	}
	for carrierID := range carriers {
		ruleSets, err := e.data.GetRuleSetsForCarrier(ctx, carrierID)
		if err != nil {
			return nil, err
		}
		ref.indexes[carrierID] = acceptance.NewIndex(ruleSets)

		cfg, err := e.data.GetCarrierConfig(ctx, carrierID)
		if err != nil {
			return nil, err
		}
		ref.configs[carrierID] = cfg
	}

	return ref, nil
}

func (e *Engine) evaluateCandidate(
	ctx context.Context,
	product *models.ProductCandidate,
	client *models.ClientProfile,
	request *models.CoverageRequest,
	f facts.FactMap,
	ref *refData,
) candidateOutcome {
	if ctx.Err() != nil {
		return candidateOutcome{}
	}

	_, span := e.tracing.StartSpan(ctx, "engine.evaluateCandidate")
	defer span.End()

	idx := ref.indexes[product.CarrierID]

	elig := eligibility.Check(product, client, request, idx, f)
	switch elig.Status {
	case dsl.EligibilityIneligible:
		return candidateOutcome{excluded: &models.ExcludedCandidate{
			ProductID:   product.ID,
			ProductName: product.Name,
			CarrierName: product.CarrierName,
			Stage:       StageEligibility,
			Code:        elig.Code,
			Reason:      elig.Reason,
		}}
	case dsl.EligibilityUnknown:
		return candidateOutcome{needsInfo: &models.NeedsMoreInfoEntry{
			Product:       *product,
			MissingFields: missingFieldsFromPaths(elig.MissingFields),
		}}
	}

	approvalResult := e.scorer.Score(product, client, idx, f, ref.charts[product.BuildChartID], ref.configs[product.CarrierID])
	agg := approvalResult.Aggregate

	switch agg.Eligibility {
	case dsl.EligibilityIneligible:
		reason := "Declined by underwriting rules"
		if len(agg.Reasons) > 0 {
			reason = agg.Reasons[0]
		}
		return candidateOutcome{passedEligibility: true, excluded: &models.ExcludedCandidate{
			ProductID:   product.ID,
			ProductName: product.Name,
			CarrierName: product.CarrierName,
			Stage:       StageApproval,
			Code:        "declined",
			Reason:      reason,
		}}
	case dsl.EligibilityUnknown:
		return candidateOutcome{passedEligibility: true, needsInfo: &models.NeedsMoreInfoEntry{
			Product:       *product,
			MissingFields: agg.MissingFields,
		}}
	}

	if ctx.Err() != nil {
		return candidateOutcome{}
	}

	ep := &models.EvaluatedProduct{
		Product:            *product,
		Eligibility:        agg.Eligibility,
		HealthClass:        agg.HealthClass,
		TableRating:        agg.TableRating,
		ApprovalLikelihood: approvalResult.Likelihood,
		TermYearsUsed:      elig.TermYears,
		Reasons:            agg.Reasons,
		Concerns:           agg.Concerns,
	}

	quote, err := e.quote(ref.matrices[product.ID], client, elig.TermYears, &agg, request.FaceAmount, product.AllowSinglePointScaling)
	if err != nil {
		code := "premium_unavailable"
		reason := err.Error()
		var stdErr *commonerrors.StandardError
		if errors.As(err, &stdErr) {
			code = string(stdErr.Code)
			reason = stdErr.Message
		}
		fields := map[string]interface{}{
			"productId": product.ID,
			"code":      code,
			"error":     err.Error(),
		}
		// An invalid premium cell points at bad matrix data, not a
		// request outside the grid.
		if commonerrors.IsCode(err, commonerrors.ErrCodeInvalidPremium) {
			e.log.Error("Premium matrix returned invalid value", fields)
		} else {
			e.log.Debug("Candidate excluded at pricing", fields)
		}
		return candidateOutcome{passedEligibility: true, passedAcceptance: true, excluded: &models.ExcludedCandidate{
			ProductID:   product.ID,
			ProductName: product.Name,
			CarrierName: product.CarrierName,
			Stage:       StagePremium,
			Code:        code,
			Reason:      reason,
		}}
	}
	ep.Quote = quote

	return candidateOutcome{evaluated: ep, passedEligibility: true, passedAcceptance: true}
}

// quote runs the Stage 3 interpolation for one face amount.
func (e *Engine) quote(
	rows []models.PremiumMatrixRow,
	client *models.ClientProfile,
	termYears *int,
	agg *models.AggregatedOutcome,
	faceAmount float64,
	productAllowsScaling bool,
) (*models.PremiumQuote, error) {
	res, err := e.premiums.Interpolate(rows, premium.Request{
		Age:                     client.Age,
		FaceAmount:              faceAmount,
		Gender:                  client.Gender,
		TobaccoClass:            tobaccoClass(client),
		HealthClass:             agg.HealthClass,
		TermYears:               termYears,
		TableRatingUnits:        agg.TableRatingUnits,
		FlatExtraPerThousand:    agg.FlatExtraPerThousand,
		AllowSinglePointScaling: productAllowsScaling && e.opts.AllowSinglePointScaling,
	})
	if err != nil {
		observePremiumLookup(err)
		return nil, err
	}

	if res.Interpolated {
		metrics.PremiumLookups.WithLabelValues("interpolated").Inc()
	} else {
		metrics.PremiumLookups.WithLabelValues("exact").Inc()
	}

	return &models.PremiumQuote{
		MonthlyPremium:        res.MonthlyPremium,
		AnnualPremium:         res.AnnualPremium,
		FaceAmount:            faceAmount,
		TermYears:             res.TermYearsUsed,
		HealthClass:           res.HealthClassUsed,
		Interpolated:          res.Interpolated,
		ScaledFromSinglePoint: res.ScaledFromSinglePoint,
	}, nil
}

// alternativeQuotes prices the same product at nearby face amounts,
// clamped to the product's face band. Quotes that fall out of matrix
// range are skipped silently.
func (e *Engine) alternativeQuotes(ep *models.EvaluatedProduct, client *models.ClientProfile, request *models.CoverageRequest, rows []models.PremiumMatrixRow) []models.PremiumQuote {
	if len(rows) == 0 {
		return nil
	}

	agg := models.AggregatedOutcome{
		HealthClass:      ep.HealthClass,
		TableRating:      ep.TableRating,
		TableRatingUnits: dsl.TableRatingUnits(ep.TableRating),
	}

	factors := []float64{0.5, 0.75, 1.25, 1.5}
	seen := map[float64]bool{request.FaceAmount: true}
	var alts []models.PremiumQuote
	for _, factor := range factors {
		face := clamp(request.FaceAmount*factor, ep.Product.MinFaceAmount, ep.Product.MaxFaceAmount)
		if seen[face] {
			continue
		}
		seen[face] = true

		q, err := e.quote(rows, client, ep.TermYearsUsed, &agg, face, ep.Product.AllowSinglePointScaling)
		if err != nil {
			continue
		}
		alts = append(alts, *q)
		if len(alts) == 3 {
			break
		}
	}
	return alts
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func tobaccoClass(client *models.ClientProfile) string {
	if client.Tobacco {
		return models.TobaccoClassTobacco
	}
	return models.TobaccoClassNone
}

func missingFieldsFromPaths(paths []string) []models.MissingField {
	fields := make([]models.MissingField, 0, len(paths))
	for _, p := range paths {
		fields = append(fields, models.MissingField{
			Field:         p,
			ConditionCode: dsl.ExtractConditionCode(p),
		})
	}
	return fields
}

func observePremiumLookup(err error) {
	switch {
	case commonerrors.IsCode(err, commonerrors.ErrCodeMatrixOutOfRange):
		metrics.PremiumLookups.WithLabelValues("out_of_range").Inc()
	default:
		metrics.PremiumLookups.WithLabelValues("invalid").Inc()
	}
}

// scoreCandidates fills each candidate's score breakdown. Every
// candidate reaching this point carries a quote; price competitiveness
// is normalized against the most expensive one.
func scoreCandidates(evaluated []*models.EvaluatedProduct) {
	maxPremium := 0.0
	for _, ep := range evaluated {
		if ep.Quote.MonthlyPremium > maxPremium {
			maxPremium = ep.Quote.MonthlyPremium
		}
	}

	for _, ep := range evaluated {
		priceScore := 0.0
		if maxPremium > 0 {
			priceScore = 1 - ep.Quote.MonthlyPremium/maxPremium
		}

		healthScore := 1 - float64(dsl.HealthClassRank(ep.HealthClass)-1)/7

		confidence := 1.0
		if ep.Eligibility == dsl.EligibilityRefer {
			confidence = 0.8
		}

		raw := 0.5*priceScore + 0.3*healthScore + 0.2*ep.ApprovalLikelihood
		ep.Score = models.ScoreBreakdown{
			PriceScore:           priceScore,
			HealthClassScore:     healthScore,
			ApprovalLikelihood:   ep.ApprovalLikelihood,
			ConfidenceMultiplier: confidence,
			FinalScore:           raw * confidence,
		}
	}
}

// rankCandidates sorts by final score with deterministic tie-breaking:
// lower premium first, then carrier priority, then carrier and product
// names.
func rankCandidates(evaluated []*models.EvaluatedProduct) {
	sort.SliceStable(evaluated, func(i, j int) bool {
		a, b := evaluated[i], evaluated[j]
		if a.Score.FinalScore != b.Score.FinalScore {
			return a.Score.FinalScore > b.Score.FinalScore
		}

		if a.Quote.MonthlyPremium != b.Quote.MonthlyPremium {
			return a.Quote.MonthlyPremium < b.Quote.MonthlyPremium
		}

		if a.Product.CarrierPriority != b.Product.CarrierPriority {
			return a.Product.CarrierPriority > b.Product.CarrierPriority
		}
		if a.Product.CarrierName != b.Product.CarrierName {
			return a.Product.CarrierName < b.Product.CarrierName
		}
		return a.Product.Name < b.Product.Name
	})
}

// assignReasons labels standout recommendations. The top candidate is
// always best_value; cheapest and best_approval go to later entries
// that actually beat the top on that axis.
func assignReasons(recs []models.Recommendation) {
	if len(recs) == 0 {
		return
	}
	recs[0].Reason = models.ReasonBestValue

	cheapestIdx, bestApprovalIdx := -1, -1
	var cheapest float64
	var bestApproval float64
	for i := range recs {
		ep := &recs[i].Product
		if cheapestIdx == -1 || ep.Quote.MonthlyPremium < cheapest {
			cheapestIdx = i
			cheapest = ep.Quote.MonthlyPremium
		}
		if bestApprovalIdx == -1 || ep.ApprovalLikelihood > bestApproval {
			bestApprovalIdx = i
			bestApproval = ep.ApprovalLikelihood
		}
	}

	if cheapestIdx > 0 && recs[cheapestIdx].Reason == "" {
		recs[cheapestIdx].Reason = models.ReasonCheapest
	}
	if bestApprovalIdx > 0 && recs[bestApprovalIdx].Reason == "" {
		recs[bestApprovalIdx].Reason = models.ReasonBestApproval
	}
}
