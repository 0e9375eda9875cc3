package updater

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"k2api-go/internal/token"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu     sync.Mutex
	tokens []string
}

func (m *memStore) Name() string { return "memory" }

func (m *memStore) Load(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tokens...), nil
}

func (m *memStore) Replace(ctx context.Context, tokens []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append([]string(nil), tokens...)
	return nil
}

func (m *memStore) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tokens...)
}

type recordingReloader struct {
	mu     sync.Mutex
	loads  int
	resets int
}

func (r *recordingReloader) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	return nil
}

func (r *recordingReloader) ResetConsecutive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
}

func (r *recordingReloader) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads, r.resets
}

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "mint.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func writeAccounts(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "accounts.txt")
	require.NoError(t, os.WriteFile(path, []byte("user@example.com:pw\n"), 0o600))
	return path
}

func newTestUpdater(t *testing.T, store token.Store, pool Reloader, scriptBody string) *Updater {
	t.Helper()
	dir := t.TempDir()
	return New(Options{
		Script:       writeScript(t, dir, scriptBody),
		AccountsFile: writeAccounts(t, dir),
		Store:        store,
		Pool:         pool,
		Interval:     time.Hour,
		Timeout:      10 * time.Second,
	})
}

func TestForceUpdateReplacesStoreAndNotifiesPool(t *testing.T) {
	store := &memStore{tokens: []string{"stale"}}
	pool := &recordingReloader{}
	u := newTestUpdater(t, store, pool, `printf 'tok-a\n# comment\ntok-b\n' > "$2"`)

	require.True(t, u.ForceUpdate())

	require.Equal(t, []string{"tok-a", "tok-b"}, store.snapshot())
	loads, resets := pool.counts()
	require.Equal(t, 1, loads)
	require.Equal(t, 1, resets)

	st := u.Status()
	require.Equal(t, 1, st.UpdateCount)
	require.Equal(t, 0, st.ErrorCount)
	require.Empty(t, st.LastError)
	require.NotNil(t, st.LastUpdate)
	require.NotNil(t, st.NextUpdate)
}

func TestForceUpdateEmptyOutputLeavesStoreUntouched(t *testing.T) {
	store := &memStore{tokens: []string{"keep-me"}}
	pool := &recordingReloader{}
	u := newTestUpdater(t, store, pool, `: > "$2"`)

	require.False(t, u.ForceUpdate())

	require.Equal(t, []string{"keep-me"}, store.snapshot())
	loads, _ := pool.counts()
	require.Equal(t, 0, loads)

	st := u.Status()
	require.Equal(t, 0, st.UpdateCount)
	require.Equal(t, 1, st.ErrorCount)
	require.Contains(t, st.LastError, "empty")
}

func TestForceUpdateCommentOnlyOutputFails(t *testing.T) {
	store := &memStore{tokens: []string{"keep-me"}}
	u := newTestUpdater(t, store, &recordingReloader{}, `printf '# nothing here\n' > "$2"`)

	require.False(t, u.ForceUpdate())
	require.Equal(t, []string{"keep-me"}, store.snapshot())
	require.Contains(t, u.Status().LastError, "no usable tokens")
}

func TestForceUpdateScriptFailureLeavesStoreUntouched(t *testing.T) {
	store := &memStore{tokens: []string{"keep-me"}}
	u := newTestUpdater(t, store, &recordingReloader{}, `echo "boom" >&2; exit 3`)

	require.False(t, u.ForceUpdate())
	require.Equal(t, []string{"keep-me"}, store.snapshot())

	st := u.Status()
	require.Equal(t, 1, st.ErrorCount)
	require.Contains(t, st.LastError, "boom")
}

func TestForceUpdateTimesOut(t *testing.T) {
	dir := t.TempDir()
	store := &memStore{tokens: []string{"keep-me"}}
	u := New(Options{
		Script:       writeScript(t, dir, `sleep 5; printf 'late\n' > "$2"`),
		AccountsFile: writeAccounts(t, dir),
		Store:        store,
		Interval:     time.Hour,
		Timeout:      200 * time.Millisecond,
	})

	require.False(t, u.ForceUpdate())
	require.Equal(t, []string{"keep-me"}, store.snapshot())
	require.Contains(t, u.Status().LastError, "timed out")
}

func TestForceUpdateSingleFlight(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "runs")
	store := &memStore{}
	u := New(Options{
		Script: writeScript(t, dir, fmt.Sprintf(
			`echo run >> %q; sleep 0.4; printf 'tok\n' > "$2"`, marker)),
		AccountsFile: writeAccounts(t, dir),
		Store:        store,
		Interval:     time.Hour,
		Timeout:      10 * time.Second,
	})

	results := make(chan bool, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- u.ForceUpdate()
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for ok := range results {
		if ok {
			won++
		}
	}
	require.Equal(t, 1, won)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(data), "run"))
}

func TestTriggerRefreshRunsUpdate(t *testing.T) {
	store := &memStore{}
	pool := &recordingReloader{}
	u := newTestUpdater(t, store, pool, `printf 'fresh\n' > "$2"`)

	u.TriggerRefresh("consecutive upstream auth failures")

	require.Equal(t, []string{"fresh"}, store.snapshot())
	loads, resets := pool.counts()
	require.Equal(t, 1, loads)
	require.Equal(t, 1, resets)
}

func TestStartRefusesMissingInputs(t *testing.T) {
	u := New(Options{
		Script:       "/nonexistent/mint.sh",
		AccountsFile: "/nonexistent/accounts.txt",
		Store:        &memStore{},
	})
	require.Error(t, u.Start(context.Background()))
	require.False(t, u.Status().Running)
}

func TestStartRefreshesEmptyStoreImmediately(t *testing.T) {
	store := &memStore{}
	pool := &recordingReloader{}
	u := newTestUpdater(t, store, pool, `printf 'boot\n' > "$2"`)

	require.NoError(t, u.Start(context.Background()))
	defer u.Stop()

	require.Eventually(t, func() bool {
		return len(store.snapshot()) == 1
	}, 3*time.Second, 20*time.Millisecond)
	require.Equal(t, []string{"boot"}, store.snapshot())
}

func TestStartSkipsImmediateRefreshWhenStorePopulated(t *testing.T) {
	store := &memStore{tokens: []string{"existing"}}
	u := newTestUpdater(t, store, &recordingReloader{}, `printf 'new\n' > "$2"`)

	require.NoError(t, u.Start(context.Background()))
	time.Sleep(200 * time.Millisecond)
	u.Stop()

	require.Equal(t, []string{"existing"}, store.snapshot())
	require.Equal(t, 0, u.Status().UpdateCount)
}

func TestStopIsIdempotent(t *testing.T) {
	store := &memStore{tokens: []string{"tok"}}
	u := newTestUpdater(t, store, &recordingReloader{}, `printf 'tok\n' > "$2"`)

	require.NoError(t, u.Start(context.Background()))
	u.Stop()
	u.Stop()
	require.False(t, u.Status().Running)
}
