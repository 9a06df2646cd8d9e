package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaError(t *testing.T) {
	t.Parallel()

	t.Run("ListsMissingColumns", func(t *testing.T) {
		err := MissingColumns("transform", "Time", "Amount")
		assert.Equal(t, "transform: schema error: missing columns Time, Amount", err.Error())
		assert.ErrorIs(t, err, ErrSchema)
	})

	t.Run("InvalidColumn", func(t *testing.T) {
		err := InvalidColumn("score", "Class", "must be binary")
		assert.Equal(t, `score: schema error: column "Class" must be binary`, err.Error())
	})

	t.Run("SurvivesWrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("pipeline stage 2 (transform) failed: %w", MissingColumns("transform", "Time"))
		var se *SchemaError
		require.True(t, errors.As(wrapped, &se))
		assert.Equal(t, []string{"Time"}, se.Missing)
		assert.ErrorIs(t, wrapped, ErrSchema)
	})
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"Nil", nil, false},
		{"Schema", MissingColumns("score", "Class"), false},
		{"NotFound", fmt.Errorf("extract: %w", ErrNotFound), false},
		{"Fit", fmt.Errorf("score: %w", ErrFit), false},
		{"Connection", fmt.Errorf("sink: %w", ErrConnection), true},
		{"Write", fmt.Errorf("sink: %w", ErrWrite), true},
		{"Read", fmt.Errorf("storage: %w", ErrRead), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}
