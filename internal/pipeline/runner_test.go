package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsweep/mailsweep/internal/classify"
	"github.com/mailsweep/mailsweep/internal/gmail"
	"github.com/mailsweep/mailsweep/internal/token"
)

type fakeTokens struct {
	token string
	err   error
	calls int
}

func (f *fakeTokens) AccessToken(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.token, f.err
}

type fakeFetcher struct {
	records []*gmail.MessageRecord
	err     error
	calls   int
}

func (f *fakeFetcher) FetchRecent(_ context.Context, _ int) ([]*gmail.MessageRecord, error) {
	f.calls++
	return f.records, f.err
}

type fakeLabeler struct {
	result      *gmail.ApplyResult
	err         error
	calls       int
	assignments []gmail.LabelAssignment
}

func (f *fakeLabeler) ApplyLabels(_ context.Context, assignments []gmail.LabelAssignment) (*gmail.ApplyResult, error) {
	f.calls++
	f.assignments = assignments
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &gmail.ApplyResult{SuccessCount: len(assignments)}, nil
}

type fakeClassifier struct {
	category classify.Category
	err      error
	calls    int
}

func (f *fakeClassifier) Classify(_ context.Context, emails []classify.Email) ([]classify.Classification, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]classify.Classification, len(emails))
	for i, e := range emails {
		out[i] = classify.Classification{
			EmailID:      e.ID,
			EmailSubject: e.Subject,
			Category:     f.category,
			Confidence:   0.9,
			Reason:       "test classification",
		}
	}
	return out, nil
}

func testRecords(n int) []*gmail.MessageRecord {
	records := make([]*gmail.MessageRecord, n)
	for i := range records {
		records[i] = &gmail.MessageRecord{
			ID:      fmt.Sprintf("msg-%d", i),
			Subject: fmt.Sprintf("subject %d", i),
			Sender:  "sender@example.com",
			Snippet: "snippet",
		}
	}
	return records
}

type testDeps struct {
	tokens     *fakeTokens
	fetcher    *fakeFetcher
	labeler    *fakeLabeler
	classifier *fakeClassifier
	factoryErr error
}

func newTestRunner(d *testDeps) *Runner {
	factory := func(_ context.Context, _, _ string) (Fetcher, Labeler, error) {
		if d.factoryErr != nil {
			return nil, nil, d.factoryErr
		}
		return d.fetcher, d.labeler, nil
	}
	return NewRunner(d.tokens, factory, d.classifier, nil)
}

func defaultDeps() *testDeps {
	return &testDeps{
		tokens:     &fakeTokens{token: "access-token"},
		fetcher:    &fakeFetcher{records: testRecords(5)},
		labeler:    &fakeLabeler{},
		classifier: &fakeClassifier{category: classify.CategoryMarketing},
	}
}

func TestRunInvalidCountMakesNoCalls(t *testing.T) {
	for _, count := range []int{0, -1, 101, 1000} {
		t.Run(fmt.Sprintf("count=%d", count), func(t *testing.T) {
			deps := defaultDeps()
			runner := newTestRunner(deps)

			_, err := runner.Run(context.Background(), "jane@example.com", count)
			require.ErrorIs(t, err, ErrInvalidCount)
			assert.Zero(t, deps.tokens.calls)
			assert.Zero(t, deps.fetcher.calls)
			assert.Zero(t, deps.classifier.calls)
			assert.Zero(t, deps.labeler.calls)
		})
	}
}

func TestRunAllMarketing(t *testing.T) {
	deps := defaultDeps()
	runner := newTestRunner(deps)

	result, err := runner.Run(context.Background(), "jane@example.com", 5)
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 5, result.RequestedCount)
	assert.Equal(t, 5, result.ActualCount)
	require.Len(t, result.Classifications, 5)
	assert.Equal(t, 5, result.Summary["MARKETING"])
	assert.Equal(t, 0, result.Summary["ERROR"])
	assert.Equal(t, 5, result.Labeling.SuccessCount)
	assert.Equal(t, 0, result.Labeling.FailedCount)

	// Every fetched message is classified exactly once, in order.
	seen := map[string]bool{}
	for i, c := range result.Classifications {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), c.EmailID)
		assert.False(t, seen[c.EmailID])
		seen[c.EmailID] = true
	}
}

func TestRunFewerMessagesThanRequested(t *testing.T) {
	deps := defaultDeps()
	deps.fetcher.records = testRecords(3)
	runner := newTestRunner(deps)

	result, err := runner.Run(context.Background(), "jane@example.com", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, result.RequestedCount)
	assert.Equal(t, 3, result.ActualCount)
	require.Len(t, result.Classifications, 3)
}

func TestRunEmptyMailbox(t *testing.T) {
	deps := defaultDeps()
	deps.fetcher.records = nil
	runner := newTestRunner(deps)

	_, err := runner.Run(context.Background(), "jane@example.com", 10)
	require.ErrorIs(t, err, ErrNoMessages)
	assert.Zero(t, deps.classifier.calls)
	assert.Zero(t, deps.labeler.calls)
}

func TestRunAuthExpiredStopsBeforeFetch(t *testing.T) {
	deps := defaultDeps()
	deps.tokens.err = token.ErrAuthExpired
	runner := newTestRunner(deps)

	_, err := runner.Run(context.Background(), "jane@example.com", 10)
	require.ErrorIs(t, err, token.ErrAuthExpired)
	assert.Equal(t, 1, deps.tokens.calls)
	assert.Zero(t, deps.fetcher.calls)
}

func TestRunRefreshUnavailable(t *testing.T) {
	deps := defaultDeps()
	deps.tokens.err = token.ErrRefreshUnavailable
	runner := newTestRunner(deps)

	_, err := runner.Run(context.Background(), "jane@example.com", 10)
	require.ErrorIs(t, err, token.ErrRefreshUnavailable)
	assert.Zero(t, deps.fetcher.calls)
}

func TestRunFetchFailureTerminates(t *testing.T) {
	deps := defaultDeps()
	deps.fetcher.err = errors.New("list failed")
	runner := newTestRunner(deps)

	_, err := runner.Run(context.Background(), "jane@example.com", 10)
	require.Error(t, err)
	assert.Zero(t, deps.classifier.calls)
}

func TestRunLabelingFailureAbsorbed(t *testing.T) {
	deps := defaultDeps()
	deps.labeler.err = errors.New("batchModify exploded")
	runner := newTestRunner(deps)

	result, err := runner.Run(context.Background(), "jane@example.com", 5)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Labeling.SuccessCount)
	assert.Equal(t, 5, result.Labeling.FailedCount)
	require.Len(t, result.Classifications, 5)
}

func TestRunPartialLabelingCounts(t *testing.T) {
	deps := defaultDeps()
	deps.labeler.result = &gmail.ApplyResult{SuccessCount: 3, FailedCount: 2}
	runner := newTestRunner(deps)

	result, err := runner.Run(context.Background(), "jane@example.com", 5)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Labeling.SuccessCount)
	assert.Equal(t, 2, result.Labeling.FailedCount)
}

func TestRunErrorClassificationsStillLabeled(t *testing.T) {
	deps := defaultDeps()
	deps.classifier.category = classify.CategoryError
	runner := newTestRunner(deps)

	result, err := runner.Run(context.Background(), "jane@example.com", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Summary["ERROR"])
	// ERROR-classified messages still go through labeling (as UNKNOWN).
	require.Len(t, deps.labeler.assignments, 5)
	assert.Equal(t, "ERROR", deps.labeler.assignments[0].Category)
}

func TestRunMailboxFactoryFailure(t *testing.T) {
	deps := defaultDeps()
	deps.factoryErr = errors.New("bad credentials")
	runner := newTestRunner(deps)

	_, err := runner.Run(context.Background(), "jane@example.com", 10)
	require.Error(t, err)
	assert.Zero(t, deps.fetcher.calls)
}
