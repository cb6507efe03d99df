package validator_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imobcloud/billing/pkg/validator"
)

func TestApply(t *testing.T) {
	t.Parallel()

	t.Run("passes", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validator.Apply(
			validator.Required("name", "Imobiliaria Centro"),
			validator.MaxLength("name", "abc", 3),
		))
	})

	t.Run("collects every failure", func(t *testing.T) {
		t.Parallel()
		err := validator.Apply(
			validator.Required("description", "  "),
			validator.ValidEmail("payer.email", "not-an-email"),
			validator.OneOf("method", "cash", "pix", "boleto"),
		)
		require.Error(t, err)
		ve := validator.ExtractValidationErrors(err)
		require.Len(t, ve, 3)
		assert.Equal(t, []string{"description", "payer.email", "method"}, ve.Fields())
		assert.True(t, ve.Has("method"))
		assert.False(t, ve.Has("amount"))
		assert.Equal(t, "validation failed: description: is required; payer.email: must be a valid email address; method: must be one of [pix boleto]", err.Error())
	})

	t.Run("is matchable when wrapped", func(t *testing.T) {
		t.Parallel()
		err := fmt.Errorf("create payment: %w", validator.Apply(validator.Required("x", "")))
		assert.True(t, validator.IsValidationError(err))
		assert.ErrorIs(t, err, validator.ErrValidationFailed)
		assert.False(t, validator.IsValidationError(errors.New("plain")))
		assert.Nil(t, validator.ExtractValidationErrors(errors.New("plain")))
	})

	t.Run("when skips rule", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validator.Apply(validator.When(false, validator.Required("x", ""))))
		assert.Error(t, validator.Apply(validator.When(true, validator.Required("x", ""))))
	})

	t.Run("min", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validator.Apply(validator.Min("trial_days", 0, 0)))
		assert.Error(t, validator.Apply(validator.Min("trial_days", -1, 0)))
	})
}
