// Package quota enforces the per-user monthly instance allowance. Generation
// must be authorized before any provider tokens are spent, so the check is an
// atomic check-and-consume: a refused request consumes nothing.
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"expertmine/internal/logging"
	"expertmine/internal/types"
)

// Config holds the quota tunables.
type Config struct {
	// MonthlyAllowance is the number of instances a user may generate per
	// calendar month (UTC).
	MonthlyAllowance int
	// Path is the JSON ledger file location.
	Path string
}

// DefaultConfig returns the standard quota configuration rooted at the
// workspace.
func DefaultConfig(workspacePath string) Config {
	return Config{
		MonthlyAllowance: 200,
		Path:             filepath.Join(workspacePath, ".expertmine", "quota.json"),
	}
}

// userUsage is one user's consumption for one period.
type userUsage struct {
	Period   string `json:"period"` // "2006-01", UTC
	Consumed int    `json:"consumed"`
}

// ledgerData is the persisted ledger shape.
type ledgerData struct {
	Version string               `json:"version"`
	Users   map[string]userUsage `json:"users"`
}

// Ledger is a file-backed quota ledger implementing types.QuotaService.
type Ledger struct {
	mu        sync.Mutex
	cfg       Config
	data      ledgerData
	dirty     bool
	nowFn     func() time.Time // overridable in tests
	saveDelay time.Duration
}

// NewLedger creates a ledger, loading any existing state from cfg.Path.
// A corrupt or missing ledger file starts empty rather than failing startup.
func NewLedger(cfg Config) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create quota dir: %w", err)
	}

	l := &Ledger{
		cfg:       cfg,
		data:      ledgerData{Version: "1.0", Users: make(map[string]userUsage)},
		nowFn:     time.Now,
		saveDelay: 5 * time.Second,
	}

	if err := l.load(); err != nil {
		logging.Get(logging.CategoryQuota).Warn("Quota ledger unreadable, starting empty: %v", err)
	}

	return l, nil
}

func (l *Ledger) load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := os.ReadFile(l.cfg.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, &l.data); err != nil {
		return err
	}
	if l.data.Users == nil {
		l.data.Users = make(map[string]userUsage)
	}
	return nil
}

// Save writes the ledger to disk immediately.
func (l *Ledger) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveLocked()
}

func (l *Ledger) saveLocked() error {
	raw, err := json.MarshalIndent(l.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.cfg.Path, raw, 0644)
}

func (l *Ledger) period() string {
	return l.nowFn().UTC().Format("2006-01")
}

// CheckAndConsume atomically authorizes n instances for userID. When the
// remaining allowance is below n the call refuses and consumes nothing.
// The period rolls over per calendar month; stale usage resets on first touch.
func (l *Ledger) CheckAndConsume(ctx context.Context, userID string, n int) (types.QuotaDecision, error) {
	if n <= 0 {
		return types.QuotaDecision{}, fmt.Errorf("quota consume amount must be positive, got %d", n)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	period := l.period()
	usage := l.data.Users[userID]
	if usage.Period != period {
		usage = userUsage{Period: period}
	}

	remaining := l.cfg.MonthlyAllowance - usage.Consumed
	if remaining < n {
		logging.Quota("Refused %d instances for user %s: %d remaining this period", n, userID, remaining)
		return types.QuotaDecision{Allowed: false, Remaining: remaining}, nil
	}

	usage.Consumed += n
	l.data.Users[userID] = usage
	l.scheduleSaveLocked()

	remaining = l.cfg.MonthlyAllowance - usage.Consumed
	logging.QuotaDebug("Consumed %d instances for user %s, %d remaining", n, userID, remaining)
	return types.QuotaDecision{Allowed: true, Remaining: remaining}, nil
}

// Refund returns n instances to userID's current-period allowance. Used when
// generation fails after the quota was consumed but before anything was
// persisted.
func (l *Ledger) Refund(userID string, n int) {
	if n <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	period := l.period()
	usage := l.data.Users[userID]
	if usage.Period != period {
		return
	}

	usage.Consumed -= n
	if usage.Consumed < 0 {
		usage.Consumed = 0
	}
	l.data.Users[userID] = usage
	l.scheduleSaveLocked()

	logging.QuotaDebug("Refunded %d instances to user %s", n, userID)
}

// Remaining reports the user's unconsumed allowance for the current period
// without consuming anything.
func (l *Ledger) Remaining(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	usage := l.data.Users[userID]
	if usage.Period != l.period() {
		return l.cfg.MonthlyAllowance
	}
	return l.cfg.MonthlyAllowance - usage.Consumed
}

// scheduleSaveLocked debounces disk writes so bursts of consumption cost one
// write. Callers must hold l.mu.
func (l *Ledger) scheduleSaveLocked() {
	if l.dirty {
		return
	}
	l.dirty = true
	time.AfterFunc(l.saveDelay, func() {
		l.mu.Lock()
		l.dirty = false
		if err := l.saveLocked(); err != nil {
			logging.Get(logging.CategoryQuota).Error("Quota ledger save failed: %v", err)
		}
		l.mu.Unlock()
	})
}
