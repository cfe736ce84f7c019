package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

const testRegistryJSON = `{
	"version": "1.0.0",
	"lastUpdated": "2026-08-01T00:00:00Z",
	"activities": [
		{
			"id": "quick-quote",
			"displayName": "Quick Quote",
			"description": "Prices a single product from its premium matrix",
			"category": "underwriting",
			"version": "1.0.0",
			"taskType": "underwriting-quick-quote",
			"implementationStatus": "completed",
			"inputSchema": {
				"type": "object",
				"required": ["productId", "age", "faceAmount"],
				"properties": {
					"productId": {"type": "string", "minLength": 1},
					"age": {"type": "number", "minimum": 18, "maximum": 85},
					"faceAmount": {"type": "number", "minimum": 1000}
				},
				"additionalProperties": true
			},
			"outputSchema": {},
			"errorCodes": ["INVALID_INPUT", "MATRIX_EMPTY"],
			"timeout": "15s",
			"retries": 0,
			"workflows": ["underwriting-evaluation"],
			"tags": ["pricing"]
		}
	]
}`

func writeTestRegistry(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "activity-registry.json")
	require.NoError(t, os.WriteFile(path, []byte(testRegistryJSON), 0644))
	return path
}

// ==========================
// Registry Tests
// ==========================

func TestLoadRegistry(t *testing.T) {
	reg, err := LoadRegistry(writeTestRegistry(t))

	require.NoError(t, err)
	require.Len(t, reg.Activities, 1)
	assert.Equal(t, "quick-quote", reg.Activities[0].ID)
	assert.Equal(t, "underwriting-quick-quote", reg.Activities[0].TaskType)
}

func TestLoadRegistry_MissingFile(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestFindByTaskType(t *testing.T) {
	reg, err := LoadRegistry(writeTestRegistry(t))
	require.NoError(t, err)

	activity, ok := reg.FindByTaskType("underwriting-quick-quote")
	require.True(t, ok)
	assert.Equal(t, "quick-quote", activity.ID)

	_, ok = reg.FindByTaskType("underwriting-unknown")
	assert.False(t, ok)
}

func TestValidateJobInput(t *testing.T) {
	reg, err := LoadRegistry(writeTestRegistry(t))
	require.NoError(t, err)
	activity, ok := reg.FindByTaskType("underwriting-quick-quote")
	require.True(t, ok)

	t.Run("valid payload", func(t *testing.T) {
		result := activity.ValidateJobInput(map[string]interface{}{
			"productId":  "prod-1",
			"age":        45.0,
			"faceAmount": 250000.0,
		})
		assert.True(t, result.Valid)
		assert.Empty(t, result.Errors)
	})

	t.Run("missing required field", func(t *testing.T) {
		result := activity.ValidateJobInput(map[string]interface{}{
			"productId": "prod-1",
			"age":       45.0,
		})
		require.False(t, result.Valid)
		assert.True(t, result.HasErrors("faceAmount"))
	})

	t.Run("out of range age", func(t *testing.T) {
		result := activity.ValidateJobInput(map[string]interface{}{
			"productId":  "prod-1",
			"age":        12.0,
			"faceAmount": 250000.0,
		})
		require.False(t, result.Valid)
		assert.True(t, result.HasErrors("age"))
	})

	t.Run("no schema accepts anything", func(t *testing.T) {
		bare := Activity{ID: "no-schema"}
		result := bare.ValidateJobInput(map[string]interface{}{"whatever": true})
		assert.True(t, result.Valid)
	})
}
