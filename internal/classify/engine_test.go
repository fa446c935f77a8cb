package classify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scopesignal/internal/cache"
	"github.com/sells-group/scopesignal/internal/model"
	"github.com/sells-group/scopesignal/internal/resilience"
)

const (
	contestableJSON = `{"trade_relevant":true,"classification":"CONTESTABLE","confidence":85,"reasoning":"RFP issued with a firm bid date.","risk_note":"Bid documents not yet reviewed.","recommended_action":"Download the RFP and price the scope."}`
	closedJSON      = `{"trade_relevant":true,"classification":"CLOSED","confidence":90,"reasoning":"Change order already awarded to the incumbent.","risk_note":"Follow-on work may open later.","recommended_action":"Monitor the agency for new solicitations."}`
)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *mockCompleter) ModelInfo() string {
	return "test/model"
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// failingCache fails reads and/or writes on demand.
type failingCache struct {
	cache.Nop
	getErr error
	setErr error
}

func (f failingCache) Get(context.Context, string) (*model.ClassificationResult, bool, error) {
	return nil, false, f.getErr
}

func (f failingCache) Set(context.Context, string, model.ClassificationResult) error {
	return f.setErr
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = resilience.RetryConfig{
		MaxAttempts: 3,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
	return cfg
}

func electricalRFP() model.ClassificationRequest {
	return model.ClassificationRequest{
		Text:  "RFP issued for electrical work. Bids due March 15.",
		Trade: model.TradeElectrical,
	}
}

func TestClassify_Contestable(t *testing.T) {
	comp := new(mockCompleter)
	comp.On("Complete", mock.Anything, mock.MatchedBy(func(p Prompt) bool {
		return p.System == SystemPrompt && p.User == "Trade: Electrical\n\nProject Update:\nRFP issued for electrical work. Bids due March 15."
	})).Return(contestableJSON, nil).Once()

	e := NewEngine(comp, cache.NewMemory(), testConfig())
	res, proof, err := e.Classify(context.Background(), electricalRFP())
	require.NoError(t, err)

	assert.Equal(t, model.ClassificationContestable, res.Classification)
	assert.Equal(t, 85, res.Confidence)
	assert.True(t, res.TradeRelevant)

	assert.False(t, proof.CacheHit)
	assert.Equal(t, 1, proof.AttemptCount)
	assert.Equal(t, []model.CacheStatus{model.CacheStatusMiss, model.CacheStatusStored}, proof.CacheStatus)
	assert.Equal(t, "test/model", proof.ModelInfo)
	assert.Equal(t, PromptHash(), proof.PromptHash)
	assert.Equal(t, e.Fingerprint(electricalRFP()), proof.Fingerprint)
	assert.NotEmpty(t, proof.ID)
	require.NotNil(t, proof.Result)
	assert.Equal(t, res, *proof.Result)
	assert.True(t, proof.Passed())
	assert.True(t, proof.Verify())
	assert.Equal(t, CheckModelCall, proof.ValidationChecks[0].Name)
	for _, c := range proof.ValidationChecks {
		assert.Equal(t, 1, c.Attempt)
	}
	comp.AssertExpectations(t)
}

func TestClassify_SecondCallHitsCache(t *testing.T) {
	comp := new(mockCompleter)
	comp.On("Complete", mock.Anything, mock.Anything).Return(contestableJSON, nil).Once()

	e := NewEngine(comp, cache.NewMemory(), testConfig())
	first, _, err := e.Classify(context.Background(), electricalRFP())
	require.NoError(t, err)

	second, proof, err := e.Classify(context.Background(), electricalRFP())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.True(t, proof.CacheHit)
	assert.Zero(t, proof.AttemptCount)
	assert.Equal(t, []model.CacheStatus{model.CacheStatusHit}, proof.CacheStatus)
	assert.True(t, proof.Verify())
	comp.AssertNumberOfCalls(t, "Complete", 1)
}

func TestClassify_AgencySharesCacheEntry(t *testing.T) {
	comp := new(mockCompleter)
	comp.On("Complete", mock.Anything, mock.Anything).Return(contestableJSON, nil).Once()
	e := NewEngine(comp, cache.NewMemory(), testConfig())

	req := electricalRFP()
	_, _, err := e.Classify(context.Background(), req)
	require.NoError(t, err)

	req.Agency = "SCA"
	_, proof, err := e.Classify(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, proof.CacheHit)
	assert.Equal(t, "SCA", proof.Request.Agency)
}

func TestClassify_ExpiredEntryCallsModelAgain(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	comp := new(mockCompleter)
	comp.On("Complete", mock.Anything, mock.Anything).Return(contestableJSON, nil).Twice()

	store := cache.NewMemory(cache.WithClock(clock.Now))
	e := NewEngine(comp, store, testConfig(), WithClock(clock.Now))

	_, _, err := e.Classify(context.Background(), electricalRFP())
	require.NoError(t, err)

	clock.Advance(cache.DefaultTTL + time.Second)
	_, proof, err := e.Classify(context.Background(), electricalRFP())
	require.NoError(t, err)
	assert.False(t, proof.CacheHit)
	assert.Equal(t, 1, proof.AttemptCount)
	comp.AssertNumberOfCalls(t, "Complete", 2)
}

func TestClassify_ClosedHVAC(t *testing.T) {
	comp := new(mockCompleter)
	comp.On("Complete", mock.Anything, mock.Anything).Return(closedJSON, nil)

	e := NewEngine(comp, nil, testConfig())
	res, proof, err := e.Classify(context.Background(), model.ClassificationRequest{
		Text:  "Change order already awarded to incumbent contractor.",
		Trade: model.TradeHVAC,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ClassificationClosed, res.Classification)
	assert.False(t, res.Biddable())
	assert.Equal(t, []model.CacheStatus{model.CacheStatusDisabled}, proof.CacheStatus)
	assert.Empty(t, proof.DowngradeReason)
}

func TestClassify_ExhaustsAttempts(t *testing.T) {
	comp := new(mockCompleter)
	comp.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("connection refused"))

	store := cache.NewMemory()
	e := NewEngine(comp, store, testConfig())
	res, proof, err := e.Classify(context.Background(), electricalRFP())
	require.Error(t, err)

	var ce *ClassificationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Attempts)
	assert.Contains(t, ce.LastReason, "connection refused")
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, ce.Proof.AttemptCount)
	assert.Nil(t, ce.Proof.Result)
	assert.NotEmpty(t, ce.Proof.Error)
	assert.True(t, ce.Proof.Verify())
	assert.Equal(t, ce.Proof, proof)
	assert.Equal(t, model.ClassificationResult{}, res)
	assert.Len(t, proof.ValidationChecks, 3)
	comp.AssertNumberOfCalls(t, "Complete", 3)

	st, _ := store.Stats(context.Background())
	assert.Zero(t, st.Entries)
}

func TestClassify_ValidationFailureRetried(t *testing.T) {
	comp := new(mockCompleter)
	comp.On("Complete", mock.Anything, mock.Anything).Return("Sure! Here is the JSON you asked for.", nil).Once()
	comp.On("Complete", mock.Anything, mock.Anything).Return("```json\n"+contestableJSON+"\n```", nil).Once()

	e := NewEngine(comp, cache.NewMemory(), testConfig())
	res, proof, err := e.Classify(context.Background(), electricalRFP())
	require.NoError(t, err)
	assert.Equal(t, model.ClassificationContestable, res.Classification)
	assert.Equal(t, 2, proof.AttemptCount)
	assert.False(t, proof.Passed(), "the failed first attempt stays on the record")

	var failed []model.ValidationCheck
	for _, c := range proof.ValidationChecks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, CheckJSONObject, failed[0].Name)
	assert.Equal(t, 1, failed[0].Attempt)
}

func TestClassify_InvalidResponsesNeverCached(t *testing.T) {
	comp := new(mockCompleter)
	comp.On("Complete", mock.Anything, mock.Anything).
		Return(`{"trade_relevant":true,"classification":"CONTESTABLE","confidence":99,"reasoning":"r","risk_note":"n","recommended_action":"a"}`, nil)

	store := cache.NewMemory()
	e := NewEngine(comp, store, testConfig())
	_, _, err := e.Classify(context.Background(), electricalRFP())

	var vf *ValidationFailure
	require.ErrorAs(t, err, &vf)
	assert.Equal(t, CheckConfidenceLimit, vf.Check)

	st, _ := store.Stats(context.Background())
	assert.Zero(t, st.Entries)
}

func TestClassify_CacheFailuresAreRecorded(t *testing.T) {
	comp := new(mockCompleter)
	comp.On("Complete", mock.Anything, mock.Anything).Return(contestableJSON, nil)

	e := NewEngine(comp, failingCache{getErr: errors.New("disk I/O error"), setErr: errors.New("database is locked")}, testConfig())
	res, proof, err := e.Classify(context.Background(), electricalRFP())
	require.NoError(t, err)
	assert.Equal(t, model.ClassificationContestable, res.Classification)
	assert.Equal(t, []model.CacheStatus{model.CacheStatusReadFailed, model.CacheStatusWriteFailed}, proof.CacheStatus)
	require.Len(t, proof.CacheErrors, 2)
	assert.Contains(t, proof.CacheErrors[0], "disk I/O error")
	assert.Contains(t, proof.CacheErrors[1], "database is locked")
}

func TestClassify_InvalidRequest(t *testing.T) {
	comp := new(mockCompleter)
	e := NewEngine(comp, nil, testConfig())

	_, _, err := e.Classify(context.Background(), model.ClassificationRequest{Text: "  ", Trade: model.TradePlumbing})
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, _, err = e.Classify(context.Background(), model.ClassificationRequest{Text: "RFP", Trade: "Roofing"})
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	comp.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestClassify_CancelledContext(t *testing.T) {
	comp := new(mockCompleter)
	e := NewEngine(comp, nil, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := e.Classify(ctx, electricalRFP())

	var ce *ClassificationError
	require.ErrorAs(t, err, &ce)
	assert.Zero(t, ce.Attempts)
	assert.ErrorIs(t, err, context.Canceled)
	comp.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestClassify_AttemptTimeoutConsumesAttempt(t *testing.T) {
	comp := new(mockCompleter)
	comp.On("Complete", mock.Anything, mock.Anything).Return("", context.DeadlineExceeded).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).Once()
	comp.On("Complete", mock.Anything, mock.Anything).Return(contestableJSON, nil).Once()

	cfg := testConfig()
	cfg.Retry.AttemptTimeout = 10 * time.Millisecond
	e := NewEngine(comp, nil, cfg)

	_, proof, err := e.Classify(context.Background(), electricalRFP())
	require.NoError(t, err)
	assert.Equal(t, 2, proof.AttemptCount)
	assert.False(t, proof.ValidationChecks[0].Passed)
}

func TestClassify_BreakerOpenConsumesAttempts(t *testing.T) {
	comp := new(mockCompleter)
	comp.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("503 overloaded")).Once()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	e := NewEngine(comp, nil, testConfig(), WithBreaker(cb))

	_, _, err := e.Classify(context.Background(), electricalRFP())
	var ce *ClassificationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Attempts)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, resilience.CircuitOpen, cb.State())
	comp.AssertNumberOfCalls(t, "Complete", 1)
}

func TestClassify_ValidationFailuresDoNotTripBreaker(t *testing.T) {
	comp := new(mockCompleter)
	comp.On("Complete", mock.Anything, mock.Anything).Return("not json", nil)

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	e := NewEngine(comp, nil, testConfig(), WithBreaker(cb))

	_, _, err := e.Classify(context.Background(), electricalRFP())
	require.Error(t, err)
	assert.Equal(t, resilience.CircuitClosed, cb.State())
	comp.AssertNumberOfCalls(t, "Complete", 3)
}

func TestClassify_LatencyCoversWholeCall(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	comp := new(mockCompleter)
	comp.On("Complete", mock.Anything, mock.Anything).Return(contestableJSON, nil).
		Run(func(mock.Arguments) { clock.Advance(1500 * time.Millisecond) })

	e := NewEngine(comp, nil, testConfig(), WithClock(clock.Now))
	_, proof, err := e.Classify(context.Background(), electricalRFP())
	require.NoError(t, err)
	assert.Equal(t, int64(1500), proof.LatencyMS)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), proof.CreatedAt)
}

func TestClassify_ConcurrentSameRequest(t *testing.T) {
	comp := new(mockCompleter)
	comp.On("Complete", mock.Anything, mock.Anything).Return(contestableJSON, nil)
	e := NewEngine(comp, cache.NewMemory(), testConfig())

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := e.Classify(context.Background(), electricalRFP())
			assert.NoError(t, err)
			assert.Equal(t, 85, res.Confidence)
		}()
	}
	wg.Wait()
}

func TestNamespace_ChangesWithLimits(t *testing.T) {
	comp := new(mockCompleter)
	a := NewEngine(comp, nil, DefaultConfig())

	cfg := DefaultConfig()
	cfg.Validator.ContestableCeiling = 90
	b := NewEngine(comp, nil, cfg)

	assert.NotEqual(t, a.Namespace(), b.Namespace())
	assert.NotEqual(t, a.Fingerprint(electricalRFP()), b.Fingerprint(electricalRFP()))
}

func TestDowngradeReason(t *testing.T) {
	tests := []struct {
		name string
		res  model.ClassificationResult
		want string
	}{
		{"irrelevant", model.ClassificationResult{Classification: model.ClassificationClosed, TradeRelevant: false}, model.DowngradeTradeIrrelevant},
		{"ambiguous", model.ClassificationResult{Classification: model.ClassificationClosed, TradeRelevant: true, Reasoning: "Scope is Vague and attachments missing."}, model.DowngradeAmbiguousLanguage},
		{"plain closed", model.ClassificationResult{Classification: model.ClassificationClosed, TradeRelevant: true, Reasoning: "Awarded."}, ""},
		{"soft open", model.ClassificationResult{Classification: model.ClassificationSoftOpen, TradeRelevant: true, Reasoning: "unclear incumbent"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, downgradeReason(tt.res))
		})
	}
}

func TestBuildPrompt_NormalizesText(t *testing.T) {
	p := BuildPrompt(model.ClassificationRequest{Text: "  Amendment 2\n issued.  ", Trade: model.TradePlumbing})
	assert.Equal(t, "Trade: Plumbing\n\nProject Update:\nAmendment 2 issued.", p.User)
	assert.Len(t, PromptHash(), 64)
}
