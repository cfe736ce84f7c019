package facts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"underwriting-workers/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func createTestClient() *models.ClientProfile {
	return &models.ClientProfile{
		Age:     52,
		Gender:  "female",
		Tobacco: false,
		BMI:     27.4,
		State:   "TX",
		Conditions: []models.ClientCondition{
			{
				Code: "diabetes_type_2",
				Responses: map[string]any{
					"a1c":         6.8,
					"insulin_use": false,
				},
			},
			{Code: "hypertension"},
		},
	}
}

func createTestRequest() *models.CoverageRequest {
	term := 20
	return &models.CoverageRequest{
		FaceAmount:  250000,
		TermYears:   &term,
		ProductType: models.ProductTypeTerm,
	}
}

// ==========================
// Fact Map Construction
// ==========================

func TestBuild_FlattensClientAndConditions(t *testing.T) {
	f := Build(createTestClient())

	assert.Equal(t, 52.0, f["client.age"])
	assert.Equal(t, "female", f["client.gender"])
	assert.Equal(t, false, f["client.tobacco"])
	assert.Equal(t, 27.4, f["client.bmi"])
	assert.Equal(t, "TX", f["client.state"])
	assert.Equal(t, []string{"diabetes_type_2", "hypertension"}, f["conditions"])
	assert.Equal(t, 6.8, f["diabetes_type_2.a1c"])
	assert.Equal(t, false, f["diabetes_type_2.insulin_use"])
}

func TestBuild_OmitsAbsentOptionalData(t *testing.T) {
	f := Build(&models.ClientProfile{Age: 30, Gender: "male"})

	_, hasBMI := f.Get("client.bmi")
	assert.False(t, hasBMI, "unset BMI must be absent, not zero")
	_, hasState := f.Get("client.state")
	assert.False(t, hasState)

	// The conditions list is always present, even when empty.
	conds, ok := f.Get("conditions")
	require.True(t, ok)
	assert.Empty(t, conds)
}

func TestBuild_PreservesNullResponses(t *testing.T) {
	client := &models.ClientProfile{
		Age:    45,
		Gender: "male",
		Conditions: []models.ClientCondition{
			{Code: "cancer", Responses: map[string]any{"last_treatment_date": nil}},
		},
	}
	f := Build(client)

	v, present := f.Get("cancer.last_treatment_date")
	assert.True(t, present, "answered-null is present, distinct from missing")
	assert.Nil(t, v)
}

func TestKeys_Sorted(t *testing.T) {
	f := Build(createTestClient())
	keys := f.Keys()
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i])
	}
}

// ==========================
// Input Hashing
// ==========================

func TestInputHash_Deterministic(t *testing.T) {
	client := createTestClient()
	request := createTestRequest()

	h1 := InputHash(Build(client), request)
	h2 := InputHash(Build(client), request)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestInputHash_SensitiveToInputs(t *testing.T) {
	client := createTestClient()
	request := createTestRequest()
	base := InputHash(Build(client), request)

	older := createTestClient()
	older.Age = 53
	assert.NotEqual(t, base, InputHash(Build(older), request))

	bigger := createTestRequest()
	bigger.FaceAmount = 500000
	assert.NotEqual(t, base, InputHash(Build(client), bigger))

	noTerm := createTestRequest()
	noTerm.TermYears = nil
	assert.NotEqual(t, base, InputHash(Build(client), noTerm))
}
