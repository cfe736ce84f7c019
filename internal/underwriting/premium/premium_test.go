package premium

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	commonerrors "underwriting-workers/internal/common/errors"
	"underwriting-workers/internal/common/logger"
	"underwriting-workers/internal/models"
	"underwriting-workers/internal/underwriting/dsl"
)

// ==========================
// Test Helper Functions
// ==========================

func newTestService(t *testing.T) *Service {
	return NewService(logger.NewZapAdapter(zaptest.NewLogger(t)), 0)
}

func intPtr(v int) *int { return &v }

func row(age int, face, monthly float64) models.PremiumMatrixRow {
	return models.PremiumMatrixRow{
		ProductID:      "prod-1",
		Age:            age,
		FaceAmount:     face,
		TermYears:      intPtr(20),
		Gender:         "male",
		TobaccoClass:   models.TobaccoClassNone,
		HealthClass:    dsl.HealthStandard,
		MonthlyPremium: monthly,
	}
}

// createTestMatrix is a 2x2 standard-class grid:
//
//	          face 200k  face 300k
//	age 45       40.00      55.00
//	age 55       80.00     110.00
func createTestMatrix() []models.PremiumMatrixRow {
	return []models.PremiumMatrixRow{
		row(45, 200000, 40),
		row(45, 300000, 55),
		row(55, 200000, 80),
		row(55, 300000, 110),
	}
}

func createTestRequest() Request {
	return Request{
		Age:          45,
		FaceAmount:   200000,
		Gender:       "male",
		TobaccoClass: models.TobaccoClassNone,
		HealthClass:  dsl.HealthStandard,
		TermYears:    intPtr(20),
	}
}

// ==========================
// Grid Resolution
// ==========================

func TestInterpolate_ExactGridHit(t *testing.T) {
	s := newTestService(t)

	result, err := s.Interpolate(createTestMatrix(), createTestRequest())
	require.NoError(t, err)

	assert.Equal(t, 40.00, result.MonthlyPremium)
	assert.Equal(t, 480.00, result.AnnualPremium)
	assert.False(t, result.Interpolated)
	assert.False(t, result.WasFallback)
	assert.Equal(t, dsl.HealthStandard, result.HealthClassUsed)
}

func TestInterpolate_Bilinear(t *testing.T) {
	s := newTestService(t)

	req := createTestRequest()
	req.Age = 50
	req.FaceAmount = 250000

	result, err := s.Interpolate(createTestMatrix(), req)
	require.NoError(t, err)

	// Midpoint on both axes: (40+55)/2 = 47.5 at age 45, (80+110)/2 = 95
	// at age 55, then halfway between those.
	assert.Equal(t, 71.25, result.MonthlyPremium)
	assert.Equal(t, 855.00, result.AnnualPremium)
	assert.True(t, result.Interpolated)
}

func TestInterpolate_LinearAlongOneAxis(t *testing.T) {
	s := newTestService(t)

	req := createTestRequest()
	req.Age = 45
	req.FaceAmount = 250000
	result, err := s.Interpolate(createTestMatrix(), req)
	require.NoError(t, err)
	assert.Equal(t, 47.50, result.MonthlyPremium)

	req = createTestRequest()
	req.Age = 50
	req.FaceAmount = 200000
	result, err = s.Interpolate(createTestMatrix(), req)
	require.NoError(t, err)
	assert.Equal(t, 60.00, result.MonthlyPremium)
}

func TestInterpolate_NoExtrapolation(t *testing.T) {
	s := newTestService(t)

	t.Run("age below grid", func(t *testing.T) {
		req := createTestRequest()
		req.Age = 40
		_, err := s.Interpolate(createTestMatrix(), req)
		require.Error(t, err)
		assert.True(t, commonerrors.IsCode(err, commonerrors.ErrCodeMatrixOutOfRange))
		assert.Contains(t, err.Error(), "Age 40 out of matrix range")
	})

	t.Run("face above grid", func(t *testing.T) {
		req := createTestRequest()
		req.FaceAmount = 500000
		_, err := s.Interpolate(createTestMatrix(), req)
		require.Error(t, err)
		assert.True(t, commonerrors.IsCode(err, commonerrors.ErrCodeMatrixOutOfRange))
		assert.Contains(t, err.Error(), "Face $500000 out of matrix range")
	})
}

func TestInterpolate_EmptyMatrix(t *testing.T) {
	s := newTestService(t)
	_, err := s.Interpolate(nil, createTestRequest())
	require.Error(t, err)
	assert.True(t, commonerrors.IsCode(err, commonerrors.ErrCodeMatrixEmpty))
}

func TestInterpolate_TermMustMatchExactly(t *testing.T) {
	s := newTestService(t)

	req := createTestRequest()
	req.TermYears = intPtr(30)

	_, err := s.Interpolate(createTestMatrix(), req)
	require.Error(t, err, "rates are never borrowed across terms")
	assert.True(t, commonerrors.IsCode(err, commonerrors.ErrCodeMatrixEmpty))
}

// ==========================
// Single-Point Scaling
// ==========================

func TestInterpolate_SinglePointScaling(t *testing.T) {
	matrix := []models.PremiumMatrixRow{
		row(45, 100000, 20),
		row(55, 100000, 40),
	}

	t.Run("denied by default", func(t *testing.T) {
		s := newTestService(t)
		req := createTestRequest()
		req.FaceAmount = 250000
		_, err := s.Interpolate(matrix, req)
		require.Error(t, err)
		assert.True(t, commonerrors.IsCode(err, commonerrors.ErrCodeMatrixOutOfRange))
	})

	t.Run("scales per thousand when opted in", func(t *testing.T) {
		s := newTestService(t)
		req := createTestRequest()
		req.FaceAmount = 250000
		req.AllowSinglePointScaling = true

		result, err := s.Interpolate(matrix, req)
		require.NoError(t, err)
		// 20.00 at 100k scaled to 250k.
		assert.Equal(t, 50.00, result.MonthlyPremium)
		assert.True(t, result.ScaledFromSinglePoint)
		assert.True(t, result.Interpolated)
	})

	t.Run("scaling still interpolates age", func(t *testing.T) {
		s := newTestService(t)
		req := createTestRequest()
		req.Age = 50
		req.FaceAmount = 200000
		req.AllowSinglePointScaling = true

		result, err := s.Interpolate(matrix, req)
		require.NoError(t, err)
		// Age midpoint 30.00 at 100k, doubled for 200k.
		assert.Equal(t, 60.00, result.MonthlyPremium)
	})
}

// ==========================
// Health Class Handling
// ==========================

func TestInterpolate_FallbackChain(t *testing.T) {
	s := newTestService(t)

	// Matrix only carries standard rows; a preferred_plus request walks
	// the chain down and prices at standard.
	req := createTestRequest()
	req.HealthClass = dsl.HealthPreferredPlus

	result, err := s.Interpolate(createTestMatrix(), req)
	require.NoError(t, err)

	assert.Equal(t, dsl.HealthPreferredPlus, result.HealthClassRequested)
	assert.Equal(t, dsl.HealthStandard, result.HealthClassUsed)
	assert.True(t, result.WasFallback)
	assert.Equal(t, 40.00, result.MonthlyPremium)
}

func TestInterpolate_SubstandardPricesOffStandard(t *testing.T) {
	s := newTestService(t)

	req := createTestRequest()
	req.HealthClass = dsl.HealthSubstandard
	req.TableRatingUnits = 2

	result, err := s.Interpolate(createTestMatrix(), req)
	require.NoError(t, err)

	// Standard base 40.00 with two table units at 25% each.
	assert.Equal(t, 60.00, result.MonthlyPremium)
	assert.Equal(t, dsl.HealthStandard, result.HealthClassUsed)
	assert.False(t, result.WasFallback, "substandard maps to standard, it does not fall back")
}

func TestInterpolate_UnrateableClasses(t *testing.T) {
	s := newTestService(t)

	for _, hc := range []dsl.HealthClass{dsl.HealthDecline, dsl.HealthRefer, dsl.HealthUnknown} {
		req := createTestRequest()
		req.HealthClass = hc
		_, err := s.Interpolate(createTestMatrix(), req)
		require.Error(t, err, string(hc))
		assert.True(t, commonerrors.IsCode(err, commonerrors.ErrCodeInvalidPremium))
	}
}

// ==========================
// Loads and Guardrails
// ==========================

func TestInterpolate_TableLoadAndFlatExtra(t *testing.T) {
	s := newTestService(t)

	req := createTestRequest()
	req.TableRatingUnits = 4
	req.FlatExtraPerThousand = 2.5

	result, err := s.Interpolate(createTestMatrix(), req)
	require.NoError(t, err)

	// 40.00 * (1 + 4*0.25) = 80.00, plus 2.5 * 200000 / 1000 / 12.
	assert.Equal(t, 121.67, result.MonthlyPremium)
}

func TestInterpolate_GuardrailRejectsAbsurdPremium(t *testing.T) {
	s := NewService(logger.NewZapAdapter(zaptest.NewLogger(t)), 100)

	req := createTestRequest()
	req.TableRatingUnits = 8 // 40.00 * 3 = 120, above the 100 ceiling

	_, err := s.Interpolate(createTestMatrix(), req)
	require.Error(t, err)
	assert.True(t, commonerrors.IsCode(err, commonerrors.ErrCodeInvalidPremium))
	assert.Contains(t, err.Error(), "guardrail")
}

func TestInterpolate_NonPositiveMatrixEntryRejected(t *testing.T) {
	s := newTestService(t)

	bad := createTestMatrix()
	bad[0].MonthlyPremium = 0

	_, err := s.Interpolate(bad, createTestRequest())
	require.Error(t, err)
	assert.True(t, commonerrors.IsCode(err, commonerrors.ErrCodeInvalidPremium))
}
