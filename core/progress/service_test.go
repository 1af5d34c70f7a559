package progress_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/jitu/tests"
)

func TestService_Complete(t *testing.T) {
	svc := testutil.NewServices(t, testutil.NewConfig()).Progress
	ctx := context.Background()

	done, err := svc.MaterialsCompleted(ctx, "lrn1", "ops")
	require.NoError(t, err)
	assert.False(t, done)

	first, err := svc.Complete(ctx, "lrn1", "ops")
	require.NoError(t, err)
	assert.Equal(t, "lrn1", first.LearnerID)
	assert.False(t, first.CompletedAt.IsZero())

	// completing twice keeps the first completion
	again, err := svc.Complete(ctx, "lrn1", "ops")
	require.NoError(t, err)
	assert.Equal(t, first.CompletedAt, again.CompletedAt)

	tests := []struct {
		name      string
		learnerID string
		cohortID  string
		want      bool
	}{
		{name: "completed", learnerID: "lrn1", cohortID: "ops", want: true},
		{name: "other cohort", learnerID: "lrn1", cohortID: "sales"},
		{name: "other learner", learnerID: "lrn2", cohortID: "ops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			done, err := svc.MaterialsCompleted(ctx, tt.learnerID, tt.cohortID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, done)
		})
	}
}
