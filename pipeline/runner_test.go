package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TFMV/fraudpipe/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockStage struct {
	mock.Mock
	name string
}

func (m *mockStage) Name() string { return m.name }

func (m *mockStage) Run(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func newMocks(names ...string) ([]*mockStage, []Stage) {
	mocks := make([]*mockStage, len(names))
	stages := make([]Stage, len(names))
	for i, n := range names {
		mocks[i] = &mockStage{name: n}
		stages[i] = mocks[i]
	}
	return mocks, stages
}

var fastRetry = RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}

func TestRunAllOrder(t *testing.T) {
	t.Parallel()

	mocks, stages := newMocks(StageExtract, StageTransform, StageScore, StageLoad)
	var order []string
	for _, m := range mocks {
		name := m.name
		m.On("Run", mock.Anything).Run(func(mock.Arguments) { order = append(order, name) }).Return(nil).Once()
	}

	r := NewRunner(stages, fastRetry, nil)
	report, err := r.RunAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{StageExtract, StageTransform, StageScore, StageLoad}, order)
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Stages, 4)
	for _, sr := range report.Stages {
		assert.Equal(t, 1, sr.Attempts)
	}
	for _, m := range mocks {
		m.AssertExpectations(t)
	}
}

func TestRunAllStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	mocks, stages := newMocks(StageExtract, StageTransform, StageScore, StageLoad)
	mocks[0].On("Run", mock.Anything).Return(nil).Once()
	mocks[1].On("Run", mock.Anything).Return(errs.MissingColumns("transform", "Time", "Amount")).Once()

	r := NewRunner(stages, fastRetry, zap.New(core))
	report, err := r.RunAll(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline stage 2 (transform) failed")
	var se *errs.SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []string{"Time", "Amount"}, se.Missing)

	require.Len(t, report.Stages, 2)
	assert.Equal(t, 1, report.Stages[1].Attempts, "schema errors are not retried")
	mocks[2].AssertNotCalled(t, "Run", mock.Anything)
	mocks[3].AssertNotCalled(t, "Run", mock.Anything)
	assert.Equal(t, 1, logs.FilterMessage("Stage failed").Len())
}

func TestRetryTransientFailure(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	mocks, stages := newMocks(StageLoad)
	transient := fmt.Errorf("sink: begin: %w", errs.ErrConnection)
	mocks[0].On("Run", mock.Anything).Return(transient).Once()
	mocks[0].On("Run", mock.Anything).Return(nil).Once()

	r := NewRunner(stages, fastRetry, zap.New(core))
	report, err := r.RunStage(context.Background(), StageLoad)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stages[0].Attempts)
	assert.Equal(t, 1, logs.FilterMessage("Retrying stage").Len())
	mocks[0].AssertExpectations(t)
}

func TestRetryExhausted(t *testing.T) {
	t.Parallel()

	mocks, stages := newMocks(StageExtract)
	mocks[0].On("Run", mock.Anything).Return(fmt.Errorf("read: %w", errs.ErrRead))

	r := NewRunner(stages, fastRetry, nil)
	report, err := r.RunAll(context.Background())
	assert.ErrorIs(t, err, errs.ErrRead)
	assert.Equal(t, 3, report.Stages[0].Attempts)
	mocks[0].AssertNumberOfCalls(t, "Run", 3)
}

func TestNonRetryable(t *testing.T) {
	t.Parallel()

	for _, sentinel := range []error{errs.ErrNotFound, errs.ErrFit, errs.ErrSchema} {
		mocks, stages := newMocks(StageScore)
		mocks[0].On("Run", mock.Anything).Return(fmt.Errorf("score: %w", sentinel))

		_, err := NewRunner(stages, fastRetry, nil).RunAll(context.Background())
		assert.ErrorIs(t, err, sentinel)
		mocks[0].AssertNumberOfCalls(t, "Run", 1)
	}
}

func TestCancelDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	mocks, stages := newMocks(StageLoad)
	mocks[0].On("Run", mock.Anything).Run(func(mock.Arguments) { time.AfterFunc(20*time.Millisecond, cancel) }).
		Return(fmt.Errorf("sink: %w", errs.ErrConnection))

	r := NewRunner(stages, RetryPolicy{MaxAttempts: 5, Backoff: time.Hour}, nil)
	done := make(chan error, 1)
	go func() {
		_, err := r.RunAll(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
	mocks[0].AssertNumberOfCalls(t, "Run", 1)
}

func TestRunStageUnknown(t *testing.T) {
	t.Parallel()

	_, stages := newMocks(StageExtract)
	_, err := NewRunner(stages, fastRetry, nil).RunStage(context.Background(), "publish")
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestRunInProgress(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	mocks, stages := newMocks(StageExtract, StageTransform)
	mocks[0].On("Run", mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(nil).Once()
	mocks[1].On("Run", mock.Anything).Return(nil).Once()

	r := NewRunner(stages, fastRetry, nil)
	done := make(chan error, 1)
	go func() {
		_, err := r.RunAll(context.Background())
		done <- err
	}()
	<-started

	_, err := r.RunAll(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	_, err = r.RunStage(context.Background(), StageTransform)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestSchedule(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	mocks, stages := newMocks(StageExtract)
	mocks[0].On("Run", mock.Anything).Run(func(mock.Arguments) { runs.Add(1) }).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(stages, fastRetry, nil)
	done := make(chan error, 1)
	go func() { done <- r.Schedule(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)

	assert.Error(t, r.Schedule(context.Background(), 0))
}

func TestStages(t *testing.T) {
	t.Parallel()

	_, stages := newMocks(StageExtract, StageTransform, StageScore, StageLoad)
	assert.Equal(t, []string{"extract", "transform", "score", "load"}, NewRunner(stages, RetryPolicy{}, nil).Stages())
}
