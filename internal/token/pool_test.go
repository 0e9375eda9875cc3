package token

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (m *memStore) Name() string { return "mem" }

func (m *memStore) Load(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]string, len(m.tokens))
	copy(out, m.tokens)
	return out, nil
}

func (m *memStore) Replace(_ context.Context, tokens []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append([]string(nil), tokens...)
	return nil
}

type recordingRefresher struct {
	mu      sync.Mutex
	reasons []string
	fired   chan string
}

func newRecordingRefresher() *recordingRefresher {
	return &recordingRefresher{fired: make(chan string, 8)}
}

func (r *recordingRefresher) TriggerRefresh(reason string) {
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
	r.fired <- reason
}

func (r *recordingRefresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

func newTestPool(t *testing.T, opts Options, tokens ...string) *Pool {
	t.Helper()
	if opts.Store == nil {
		opts.Store = &memStore{tokens: tokens}
	}
	p, err := NewPool(context.Background(), opts)
	require.NoError(t, err)
	return p
}

func TestLoadSkipsCommentsAndBlanks(t *testing.T) {
	store := &memStore{tokens: ParseLines([]byte("x\n# comment\n\ny\n"))}
	p, err := NewPool(context.Background(), Options{Store: store})
	require.NoError(t, err)

	require.Equal(t, 2, p.Size())
	first := p.Get(0)
	second := p.Get(1)
	require.Equal(t, "x", first.Value)
	require.Equal(t, 0, first.Index)
	require.Equal(t, "y", second.Value)
	require.Equal(t, 1, second.Index)
}

func TestLoadEmptyStore(t *testing.T) {
	_, err := NewPool(context.Background(), Options{Store: &memStore{}})
	require.ErrorIs(t, err, ErrEmptyPool)

	p, err := NewPool(context.Background(), Options{Store: &memStore{}, AllowEmpty: true})
	require.NoError(t, err)
	require.Nil(t, p.Next())
}

func TestLoadDeduplicates(t *testing.T) {
	p := newTestPool(t, Options{}, "a", "b", "a")
	require.Equal(t, 2, p.Size())
}

func TestNextRoundRobinWraps(t *testing.T) {
	p := newTestPool(t, Options{}, "a", "b", "c")

	var got []string
	for i := 0; i < 3; i++ {
		tok := p.Next()
		require.NotNil(t, tok)
		got = append(got, tok.Value)
	}
	require.ElementsMatch(t, []string{"a", "b", "c"}, got)

	// The fourth call wraps back to the first token handed out.
	wrapped := p.Next()
	require.NotNil(t, wrapped)
	require.Equal(t, got[0], wrapped.Value)
}

func TestNextSkipsInactive(t *testing.T) {
	p := newTestPool(t, Options{MaxFailures: 1}, "a", "b", "c")

	require.True(t, p.ReportFailure("a", "connect: connection refused"))
	tok := p.Next()
	require.NotNil(t, tok)
	require.Equal(t, "b", tok.Value)

	require.True(t, p.ReportFailure("b", "connect: connection refused"))
	tok = p.Next()
	require.NotNil(t, tok)
	require.Equal(t, "c", tok.Value)

	require.True(t, p.ReportFailure("c", "connect: connection refused"))
	require.Nil(t, p.Next())
	require.Equal(t, 0, p.Stats().Active)
}

func TestReportFailureDeactivatesAtMax(t *testing.T) {
	p := newTestPool(t, Options{MaxFailures: 3}, "a", "b", "c")

	require.False(t, p.ReportFailure("a", "boom"))
	require.False(t, p.ReportFailure("a", "boom"))
	require.Equal(t, 3, p.Stats().Active)

	require.True(t, p.ReportFailure("a", "boom"))
	stats := p.Stats()
	require.Equal(t, 2, stats.Active)
	require.Equal(t, 1, stats.Inactive)

	// Already inactive: further failures do not report deactivation again.
	require.False(t, p.ReportFailure("a", "boom"))
}

func TestReportSuccessResetsCounters(t *testing.T) {
	p := newTestPool(t, Options{MaxFailures: 5}, "a", "b", "c")

	p.ReportFailure("a", "boom")
	p.ReportFailure("b", "401 unauthorized")
	stats := p.Stats()
	require.Equal(t, 1, stats.ConsecutiveFailures)
	require.Equal(t, 1, stats.ConsecutiveUpstreamErrors)

	p.ReportSuccess("a")
	stats = p.Stats()
	require.Equal(t, 0, stats.ConsecutiveFailures)
	require.Equal(t, 0, stats.ConsecutiveUpstreamErrors)
	require.Equal(t, 0, stats.FailureDistribution[1])
}

func TestReportFailureUnknownToken(t *testing.T) {
	p := newTestPool(t, Options{}, "a")
	require.False(t, p.ReportFailure("nope", "boom"))
	require.Equal(t, 1, p.Stats().Active)
}

func TestEscalationSuppressedForTinyPool(t *testing.T) {
	ref := newRecordingRefresher()
	p := newTestPool(t, Options{MaxFailures: 100, FailureThreshold: 2, Refresher: ref}, "a", "b")

	for i := 0; i < 10; i++ {
		p.ReportFailure("a", "boom")
	}
	require.Equal(t, 0, ref.count())
}

func TestEscalationOnPlainFailureStreak(t *testing.T) {
	ref := newRecordingRefresher()
	p := newTestPool(t, Options{MaxFailures: 100, FailureThreshold: 2, Refresher: ref}, "a", "b", "c")

	p.ReportFailure("a", "boom")
	require.Equal(t, 0, ref.count())

	p.ReportFailure("b", "boom")
	reason := <-ref.fired
	require.Equal(t, "consecutive token failures", reason)
	require.Equal(t, 1, ref.count())

	// The counter resets on trigger.
	require.Equal(t, 0, p.Stats().ConsecutiveFailures)
}

func TestEscalationOnAuthStreakIgnoresPoolSize(t *testing.T) {
	ref := newRecordingRefresher()
	p := newTestPool(t, Options{MaxFailures: 100, UpstreamErrorThreshold: 2, Refresher: ref}, "a")

	p.ReportFailure("a", "token expired")
	p.ReportFailure("a", "authentication failed")
	reason := <-ref.fired
	require.Equal(t, "consecutive upstream auth failures", reason)
	require.Equal(t, 0, p.Stats().ConsecutiveUpstreamErrors)
}

func TestSuccessBreaksStreak(t *testing.T) {
	ref := newRecordingRefresher()
	p := newTestPool(t, Options{MaxFailures: 100, FailureThreshold: 3, Refresher: ref}, "a", "b", "c")

	p.ReportFailure("a", "boom")
	p.ReportFailure("b", "boom")
	p.ReportSuccess("c")
	p.ReportFailure("a", "boom")
	p.ReportFailure("b", "boom")
	require.Equal(t, 0, ref.count())
}

func TestResetAndResetAll(t *testing.T) {
	p := newTestPool(t, Options{MaxFailures: 1}, "a", "b")

	p.ReportFailure("a", "boom")
	p.ReportFailure("b", "boom")
	require.Equal(t, 0, p.Stats().Active)

	require.True(t, p.Reset(0))
	require.False(t, p.Reset(5))
	stats := p.Stats()
	require.Equal(t, 1, stats.Active)

	p.ResetAll()
	stats = p.Stats()
	require.Equal(t, 2, stats.Active)
	require.Equal(t, 2, stats.FailureDistribution[0])
}

func TestReloadResetsCursorAndState(t *testing.T) {
	store := &memStore{tokens: []string{"a", "b"}}
	p, err := NewPool(context.Background(), Options{Store: store, MaxFailures: 1})
	require.NoError(t, err)

	p.ReportFailure("a", "boom")
	p.Next()

	require.NoError(t, store.Replace(context.Background(), []string{"c", "d", "e"}))
	require.NoError(t, p.Load(context.Background()))

	stats := p.Stats()
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 3, stats.Active)
	require.Equal(t, 0, stats.Cursor)
	require.Equal(t, "c", p.Next().Value)
}

func TestConcurrentNextCoversPool(t *testing.T) {
	p := newTestPool(t, Options{}, "a", "b", "c", "d")

	const workers = 8
	const perWorker = 100
	counts := make(map[string]int)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				tok := p.Next()
				if tok == nil {
					continue
				}
				mu.Lock()
				counts[tok.Value]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Uniform coverage: every token selected the same number of times.
	require.Len(t, counts, 4)
	for _, n := range counts {
		require.Equal(t, workers*perWorker/4, n)
	}
}
