// Package updater regenerates the token store by shelling out to an external
// minting program and swapping the result in atomically. It runs one
// background refresh loop per process and exposes a single-flight manual
// trigger used by the pool's escalation path.
package updater

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"k2api-go/internal/token"

	log "github.com/sirupsen/logrus"
)

// errorBackoff is how long the loop pauses after a failed cycle before
// resuming its normal schedule.
const errorBackoff = time.Minute

// Reloader is notified after the store has been replaced with fresh tokens.
type Reloader interface {
	Load(ctx context.Context) error
	ResetConsecutive()
}

// Options configures an Updater.
type Options struct {
	// Script is the external minting program. It is invoked with two
	// positional arguments: the accounts file and an output path. Exit code 0
	// plus a non-empty output file means success.
	Script       string
	AccountsFile string
	Store        token.Store
	Pool         Reloader
	Interval     time.Duration
	Timeout      time.Duration
}

// Updater periodically refreshes the token store.
type Updater struct {
	script       string
	accountsFile string
	store        token.Store
	pool         Reloader
	interval     time.Duration
	timeout      time.Duration

	running  atomic.Bool
	updating atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}

	mu          sync.Mutex
	lastUpdate  time.Time
	updateCount int
	errorCount  int
	lastError   string
}

// Status is a snapshot of the updater's state for the ops surface.
type Status struct {
	Running     bool            `json:"is_running"`
	Updating    bool            `json:"is_updating"`
	IntervalSec int             `json:"update_interval"`
	LastUpdate  *time.Time      `json:"last_update"`
	NextUpdate  *time.Time      `json:"next_update"`
	UpdateCount int             `json:"update_count"`
	ErrorCount  int             `json:"error_count"`
	LastError   string          `json:"last_error,omitempty"`
	Files       map[string]bool `json:"files"`
}

// New constructs an Updater.
func New(opts Options) *Updater {
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	return &Updater{
		script:       opts.Script,
		accountsFile: opts.AccountsFile,
		store:        opts.Store,
		pool:         opts.Pool,
		interval:     opts.Interval,
		timeout:      opts.Timeout,
	}
}

// SetPool wires the reload target after construction. Needed because the
// pool and the updater reference each other.
func (u *Updater) SetPool(p Reloader) {
	u.mu.Lock()
	u.pool = p
	u.mu.Unlock()
}

func (u *Updater) checkInputs() error {
	if _, err := os.Stat(u.script); err != nil {
		return fmt.Errorf("mint script %s: %w", u.script, err)
	}
	if _, err := os.Stat(u.accountsFile); err != nil {
		return fmt.Errorf("accounts file %s: %w", u.accountsFile, err)
	}
	return nil
}

// Start launches the background refresh loop. If the store currently holds
// zero usable tokens, one refresh runs immediately; otherwise the first
// refresh happens after the configured interval.
func (u *Updater) Start(ctx context.Context) error {
	if !u.running.CompareAndSwap(false, true) {
		return fmt.Errorf("updater already running")
	}
	if err := u.checkInputs(); err != nil {
		u.running.Store(false)
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	u.cancel = cancel
	u.done = make(chan struct{})

	go u.loop(ctx)
	log.WithField("interval", u.interval).Info("token update service started")
	return nil
}

// Stop terminates the background loop and waits for it to exit.
func (u *Updater) Stop() {
	if !u.running.CompareAndSwap(true, false) {
		return
	}
	u.cancel()
	<-u.done
	log.Info("token update service stopped")
}

func (u *Updater) loop(ctx context.Context) {
	defer close(u.done)

	if existing, err := u.store.Load(ctx); err == nil && len(existing) == 0 {
		log.Info("token store is empty at startup, refreshing immediately")
		u.runUpdate(ctx)
	}

	for {
		select {
		case <-time.After(u.interval):
		case <-ctx.Done():
			return
		}

		if err := u.checkInputs(); err != nil {
			log.WithError(err).Warn("skipping scheduled token update")
			continue
		}
		if !u.runUpdate(ctx) && u.lastErrorText() != "" {
			// Failed cycle: back off before resuming the schedule so a
			// persistently broken minting step does not spin.
			select {
			case <-time.After(errorBackoff):
			case <-ctx.Done():
				return
			}
		}
	}
}

// ForceUpdate runs one refresh synchronously. It is safe to call from any
// goroutine; if a refresh is already in flight it returns false immediately
// without starting another.
func (u *Updater) ForceUpdate() bool {
	if err := u.checkInputs(); err != nil {
		log.WithError(err).Error("force update refused")
		return false
	}
	return u.runUpdate(context.Background())
}

// TriggerRefresh implements token.Refresher. On success the pool reloads and
// its streak counters reset.
func (u *Updater) TriggerRefresh(reason string) {
	log.WithField("reason", reason).Info("token refresh triggered")
	if !u.ForceUpdate() {
		log.WithField("reason", reason).Warn("token refresh skipped or failed")
	}
}

// runUpdate is the single-flight core. The updating flag is a check-and-set
// guard cleared on every exit path, so refreshes never overlap.
func (u *Updater) runUpdate(ctx context.Context) bool {
	if !u.updating.CompareAndSwap(false, true) {
		log.Warn("token update already in progress, skipping")
		return false
	}
	defer u.updating.Store(false)

	err := u.refreshOnce(ctx)

	u.mu.Lock()
	defer u.mu.Unlock()
	if err != nil {
		u.errorCount++
		u.lastError = err.Error()
		log.WithError(err).Error("token update failed")
		return false
	}
	u.updateCount++
	u.lastUpdate = time.Now()
	u.lastError = ""
	return true
}

// refreshOnce executes the mint step into a temp file, validates the output
// and replaces the live store. The live store is left untouched on any
// failure.
func (u *Updater) refreshOnce(ctx context.Context) error {
	tmp, err := os.CreateTemp("", "tokens-mint-*.txt")
	if err != nil {
		return fmt.Errorf("create mint output file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	log.WithFields(log.Fields{
		"script":   u.script,
		"accounts": u.accountsFile,
	}).Info("minting fresh tokens")

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, u.script, u.accountsFile, tmpPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("mint step timed out after %s", u.timeout)
		}
		return fmt.Errorf("mint step failed: %w (stderr: %s)", err, truncate(stderr.String(), 500))
	}
	log.WithField("stdout", truncate(stdout.String(), 500)).Debug("mint step finished")

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return fmt.Errorf("read mint output: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("mint output file is empty")
	}
	fresh := token.ParseLines(data)
	if len(fresh) == 0 {
		return fmt.Errorf("mint output contains no usable tokens")
	}

	if err := u.store.Replace(ctx, fresh); err != nil {
		return fmt.Errorf("replace token store: %w", err)
	}
	log.WithField("tokens", len(fresh)).Info("token store replaced")

	u.notifyReload()
	return nil
}

func (u *Updater) notifyReload() {
	u.mu.Lock()
	pool := u.pool
	u.mu.Unlock()
	if pool == nil {
		return
	}
	if err := pool.Load(context.Background()); err != nil {
		log.WithError(err).Warn("token pool reload after update failed")
		return
	}
	pool.ResetConsecutive()
	log.Info("token pool reloaded after update")
}

func (u *Updater) lastErrorText() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastError
}

// Status returns a snapshot of the updater's state.
func (u *Updater) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()

	s := Status{
		Running:     u.running.Load(),
		Updating:    u.updating.Load(),
		IntervalSec: int(u.interval / time.Second),
		UpdateCount: u.updateCount,
		ErrorCount:  u.errorCount,
		LastError:   u.lastError,
		Files: map[string]bool{
			"mint_script":   fileExists(u.script),
			"accounts_file": fileExists(u.accountsFile),
		},
	}
	if !u.lastUpdate.IsZero() {
		last := u.lastUpdate
		s.LastUpdate = &last
		next := last.Add(u.interval)
		s.NextUpdate = &next
	}
	return s
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
