package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skufu/DianaV2/internal/domain"
)

func TestMedicalStatusThresholds(t *testing.T) {
	assert.Equal(t, "Normal", MedicalStatus(4.8))
	assert.Equal(t, "Normal", MedicalStatus(5.69))
	assert.Equal(t, "Pre-diabetic", MedicalStatus(5.7))
	assert.Equal(t, "Pre-diabetic", MedicalStatus(6.49))
	assert.Equal(t, "Diabetic", MedicalStatus(6.5))
	assert.Equal(t, "Diabetic", MedicalStatus(12.0))
}

func TestContractForUnknownType(t *testing.T) {
	c := ContractFor("nonexistent")
	assert.Equal(t, contracts[TypeClinical].Required, c.Required)
}

func TestValidateMissingFeatures(t *testing.T) {
	c := ContractFor(TypeClinical)
	err := Validate(TypeClinical, c, domain.FeatureVector{"bmi": 25})

	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Contains(t, vErr.Missing, "age")
	assert.Contains(t, vErr.Missing, "ldl")
	assert.NotContains(t, vErr.Missing, "bmi")
}

func TestValidateOutOfRange(t *testing.T) {
	c := ContractFor(TypeClinical)
	features := domain.FeatureVector{
		"bmi": 250, "triglycerides": 150, "ldl": 100, "hdl": 50, "age": 40,
	}
	err := Validate(TypeClinical, c, features)

	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Empty(t, vErr.Missing)
	require.Len(t, vErr.Problems, 1)
	assert.Contains(t, vErr.Problems[0], "bmi")
}

func TestValidatePasses(t *testing.T) {
	c := ContractFor(TypeADA)
	features := domain.FeatureVector{
		"hba1c": 6.1, "fbs": 115, "bmi": 29,
		"triglycerides": 180, "ldl": 130, "hdl": 42,
	}
	assert.NoError(t, Validate(TypeADA, c, features))
}
