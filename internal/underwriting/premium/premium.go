// Package premium prices a candidate from its sparse rate matrix.
//
// Three rules are non-negotiable here: never extrapolate past the grid,
// never scale a single-face matrix without an explicit opt-in, and never
// return a premium that fails sanity validation.
package premium

import (
	"fmt"
	"math"
	"sort"

	commonerrors "underwriting-workers/internal/common/errors"
	"underwriting-workers/internal/common/logger"
	"underwriting-workers/internal/models"
	"underwriting-workers/internal/underwriting/dsl"
)

// DefaultGuardrailMonthly is the sanity ceiling for a monthly premium.
// Anything above it is a data bug, not a quote.
const DefaultGuardrailMonthly = 100000.0

// TableRatingLoadPerUnit is the standard 25% surcharge per table unit.
const TableRatingLoadPerUnit = 0.25

// Request is one pricing question against a product's matrix.
type Request struct {
	Age          int
	FaceAmount   float64
	Gender       string
	TobaccoClass string
	HealthClass  dsl.HealthClass
	TermYears    *int

	TableRatingUnits     int
	FlatExtraPerThousand float64

	// AllowSinglePointScaling permits per-thousand scaling when the
	// filtered matrix has exactly one face amount. Off by default.
	AllowSinglePointScaling bool
}

// Result is a validated premium with its resolution metadata.
type Result struct {
	MonthlyPremium float64
	AnnualPremium  float64

	HealthClassRequested dsl.HealthClass
	HealthClassUsed      dsl.HealthClass
	WasFallback          bool
	TermYearsUsed        *int

	Interpolated          bool
	ScaledFromSinglePoint bool
}

// Service interpolates premiums.
type Service struct {
	log       logger.Logger
	guardrail float64
}

func NewService(log logger.Logger, guardrailMonthly float64) *Service {
	if guardrailMonthly <= 0 {
		guardrailMonthly = DefaultGuardrailMonthly
	}
	return &Service{
		log:       log.WithFields(map[string]interface{}{"component": "premium-matrix"}),
		guardrail: guardrailMonthly,
	}
}

// rateableClass maps an underwriting class onto the class the matrix is
// priced in. Substandard prices off standard rows plus the table load.
// Decline, refer, and unknown are not rateable at all.
func rateableClass(hc dsl.HealthClass) (dsl.HealthClass, bool) {
	switch hc {
	case dsl.HealthPreferredPlus, dsl.HealthPreferred, dsl.HealthStandardPlus, dsl.HealthStandard:
		return hc, true
	case dsl.HealthSubstandard:
		return dsl.HealthStandard, true
	default:
		return "", false
	}
}

// fallbackChain lists matrix classes to try, best first, starting at the
// requested class. A matrix that lacks preferred rows still prices the
// client at the next class down rather than returning nothing.
var classOrder = []dsl.HealthClass{
	dsl.HealthPreferredPlus,
	dsl.HealthPreferred,
	dsl.HealthStandardPlus,
	dsl.HealthStandard,
}

func fallbackChain(from dsl.HealthClass) []dsl.HealthClass {
	for i, hc := range classOrder {
		if hc == from {
			return classOrder[i:]
		}
	}
	return []dsl.HealthClass{from}
}

// Interpolate prices the request against the product's matrix rows.
func (s *Service) Interpolate(rows []models.PremiumMatrixRow, req Request) (*Result, error) {
	if len(rows) == 0 {
		return nil, commonerrors.NewMatrixEmptyError("")
	}

	matrixClass, ok := rateableClass(req.HealthClass)
	if !ok {
		return nil, commonerrors.NewInvalidPremiumError(
			fmt.Sprintf("health class %s is not rateable", req.HealthClass))
	}

	var lastErr error
	for _, hc := range fallbackChain(matrixClass) {
		filtered := filterRows(rows, req.Gender, req.TobaccoClass, hc, req.TermYears)
		if len(filtered) == 0 {
			continue
		}

		base, meta, err := s.interpolateBase(filtered, req)
		if err != nil {
			lastErr = err
			continue
		}

		monthly := s.applyLoads(base, req)
		if err := s.validatePremium(monthly, "final premium"); err != nil {
			return nil, err
		}

		result := &Result{
			MonthlyPremium:        round2(monthly),
			AnnualPremium:         round2(monthly * 12),
			HealthClassRequested:  req.HealthClass,
			HealthClassUsed:       hc,
			WasFallback:           hc != matrixClass,
			TermYearsUsed:         req.TermYears,
			Interpolated:          meta.interpolated,
			ScaledFromSinglePoint: meta.scaled,
		}
		if result.WasFallback {
			s.log.Warn("premium priced at fallback health class", map[string]interface{}{
				"requested": string(matrixClass),
				"used":      string(hc),
			})
		}
		return result, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, commonerrors.NewMatrixEmptyError("")
}

type interpMeta struct {
	interpolated bool
	scaled       bool
}

// interpolateBase resolves the unloaded base premium at (age, face).
func (s *Service) interpolateBase(filtered []models.PremiumMatrixRow, req Request) (float64, interpMeta, error) {
	age := float64(req.Age)
	face := req.FaceAmount

	ages := uniqueSorted(filtered, func(r models.PremiumMatrixRow) float64 { return float64(r.Age) })
	faces := uniqueSorted(filtered, func(r models.PremiumMatrixRow) float64 { return r.FaceAmount })

	// Exact grid hit.
	if exact, ok := exactRow(filtered, req.Age, face); ok {
		if err := s.validatePremium(exact, fmt.Sprintf("matrix entry age %d face $%.0f", req.Age, face)); err != nil {
			return 0, interpMeta{}, err
		}
		return exact, interpMeta{}, nil
	}

	// Single-face matrices never interpolate across face. Scaling is an
	// explicit opt-in; the default is an out-of-range failure.
	if len(faces) == 1 && face != faces[0] {
		if !req.AllowSinglePointScaling {
			s.log.Warn("face outside single-point matrix", map[string]interface{}{
				"face":       face,
				"matrixFace": faces[0],
			})
			return 0, interpMeta{}, commonerrors.NewMatrixOutOfRangeError(
				fmt.Sprintf("Face $%.0f out of matrix range", face))
		}
		base, err := s.valueAtFace(filtered, ages, age, faces[0], req)
		if err != nil {
			return 0, interpMeta{}, err
		}
		scaled := base * face / faces[0]
		return scaled, interpMeta{interpolated: true, scaled: true}, nil
	}

	// Bounds: no extrapolation past the known grid, ever.
	if age < ages[0] || age > ages[len(ages)-1] {
		s.log.Warn("age outside matrix bounds", map[string]interface{}{
			"age":    req.Age,
			"minAge": ages[0],
			"maxAge": ages[len(ages)-1],
		})
		return 0, interpMeta{}, commonerrors.NewMatrixOutOfRangeError(
			fmt.Sprintf("Age %d out of matrix range", req.Age))
	}
	if face < faces[0] || face > faces[len(faces)-1] {
		s.log.Warn("face outside matrix bounds", map[string]interface{}{
			"face":    face,
			"minFace": faces[0],
			"maxFace": faces[len(faces)-1],
		})
		return 0, interpMeta{}, commonerrors.NewMatrixOutOfRangeError(
			fmt.Sprintf("Face $%.0f out of matrix range", face))
	}

	age1, age2 := bounds(ages, age)
	face1, face2 := bounds(faces, face)

	q11, ok11 := s.lookup(filtered, int(age1), face1)
	q12, ok12 := s.lookup(filtered, int(age1), face2)
	q21, ok21 := s.lookup(filtered, int(age2), face1)
	q22, ok22 := s.lookup(filtered, int(age2), face2)

	// Degenerate axes collapse to linear interpolation along the other.
	switch {
	case age1 == age2 && face1 == face2:
		if !ok11 {
			return 0, interpMeta{}, commonerrors.NewMatrixOutOfRangeError(
				fmt.Sprintf("no matrix entry at age %d face $%.0f", int(age1), face1))
		}
		return q11, interpMeta{}, nil
	case age1 == age2:
		if !ok11 || !ok12 {
			return 0, interpMeta{}, s.sparseCornerError(req)
		}
		return lerp(face, face1, face2, q11, q12), interpMeta{interpolated: true}, nil
	case face1 == face2:
		if !ok11 || !ok21 {
			return 0, interpMeta{}, s.sparseCornerError(req)
		}
		return lerp(age, age1, age2, q11, q21), interpMeta{interpolated: true}, nil
	default:
		if !ok11 || !ok12 || !ok21 || !ok22 {
			return 0, interpMeta{}, s.sparseCornerError(req)
		}
		lower := lerp(face, face1, face2, q11, q12)
		upper := lerp(face, face1, face2, q21, q22)
		return lerp(age, age1, age2, lower, upper), interpMeta{interpolated: true}, nil
	}
}

// valueAtFace resolves the premium at one fixed face, interpolating over
// age only. Used for single-point scaling.
func (s *Service) valueAtFace(filtered []models.PremiumMatrixRow, ages []float64, age, face float64, req Request) (float64, error) {
	if age < ages[0] || age > ages[len(ages)-1] {
		return 0, commonerrors.NewMatrixOutOfRangeError(
			fmt.Sprintf("Age %d out of matrix range", req.Age))
	}
	if v, ok := s.lookup(filtered, req.Age, face); ok {
		return v, nil
	}
	age1, age2 := bounds(ages, age)
	q1, ok1 := s.lookup(filtered, int(age1), face)
	q2, ok2 := s.lookup(filtered, int(age2), face)
	if !ok1 || !ok2 {
		return 0, s.sparseCornerError(req)
	}
	return lerp(age, age1, age2, q1, q2), nil
}

func (s *Service) sparseCornerError(req Request) error {
	return commonerrors.NewMatrixOutOfRangeError(
		fmt.Sprintf("matrix too sparse around age %d face $%.0f", req.Age, req.FaceAmount))
}

// applyLoads adds the table rating surcharge and flat extra to a base rate.
func (s *Service) applyLoads(base float64, req Request) float64 {
	monthly := base
	if req.TableRatingUnits > 0 {
		monthly *= 1 + TableRatingLoadPerUnit*float64(req.TableRatingUnits)
	}
	if req.FlatExtraPerThousand > 0 {
		monthly += req.FlatExtraPerThousand * req.FaceAmount / 1000 / 12
	}
	return monthly
}

// validatePremium is the sanity gate. Violations surface as InvalidPremium,
// never as a silently clamped number.
func (s *Service) validatePremium(premium float64, context string) error {
	if math.IsNaN(premium) || math.IsInf(premium, 0) {
		s.log.Warn("premium is not finite", map[string]interface{}{"context": context})
		return commonerrors.NewInvalidPremiumError(fmt.Sprintf("%s: premium is not finite", context))
	}
	if premium <= 0 {
		s.log.Warn("Non-positive premium", map[string]interface{}{"context": context, "premium": premium})
		return commonerrors.NewInvalidPremiumError(fmt.Sprintf("%s: Non-positive premium %.2f", context, premium))
	}
	if premium > s.guardrail {
		s.log.Warn("premium exceeds guardrail", map[string]interface{}{
			"context":   context,
			"premium":   premium,
			"guardrail": s.guardrail,
		})
		return commonerrors.NewInvalidPremiumError(
			fmt.Sprintf("%s: premium %.2f exceeds guardrail %.2f", context, premium, s.guardrail))
	}
	return nil
}

// =============================================================================
// Grid helpers
// =============================================================================

func filterRows(rows []models.PremiumMatrixRow, gender, tobaccoClass string, hc dsl.HealthClass, termYears *int) []models.PremiumMatrixRow {
	var out []models.PremiumMatrixRow
	for _, r := range rows {
		if r.Gender != gender || r.TobaccoClass != tobaccoClass || r.HealthClass != hc {
			continue
		}
		// Terms must match exactly; rates are not comparable across terms.
		if termYears == nil {
			if r.TermYears != nil {
				continue
			}
		} else {
			if r.TermYears == nil || *r.TermYears != *termYears {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

func exactRow(rows []models.PremiumMatrixRow, age int, face float64) (float64, bool) {
	for _, r := range rows {
		if r.Age == age && r.FaceAmount == face {
			return r.MonthlyPremium, true
		}
	}
	return 0, false
}

func (s *Service) lookup(rows []models.PremiumMatrixRow, age int, face float64) (float64, bool) {
	v, ok := exactRow(rows, age, face)
	if !ok {
		return 0, false
	}
	if err := s.validatePremium(v, fmt.Sprintf("matrix entry age %d face $%.0f", age, face)); err != nil {
		return 0, false
	}
	return v, true
}

func uniqueSorted(rows []models.PremiumMatrixRow, key func(models.PremiumMatrixRow) float64) []float64 {
	seen := make(map[float64]bool)
	var out []float64
	for _, r := range rows {
		k := key(r)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Float64s(out)
	return out
}

// bounds finds the grid values bracketing x. x must already be in range.
func bounds(sorted []float64, x float64) (float64, float64) {
	lower := sorted[0]
	upper := sorted[len(sorted)-1]
	for _, v := range sorted {
		if v <= x {
			lower = v
		}
		if v >= x {
			upper = v
			break
		}
	}
	return lower, upper
}

// lerp linearly interpolates y at x between (x1, y1) and (x2, y2).
func lerp(x, x1, x2, y1, y2 float64) float64 {
	if x1 == x2 {
		return y1
	}
	return y1 + (y2-y1)*(x-x1)/(x2-x1)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
