package allowance

import (
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	filaddr "github.com/filecoin-project/go-address"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("qabot/allowance")

const (
	DefaultMinDailyRate = int64(10 << 30)  // 10GiB
	DefaultMaxDailyRate = int64(250 << 30) // 250GiB
	DefaultWindow       = 24 * time.Hour
)

type Config struct {
	MinDailyRate int64
	MaxDailyRate int64
	Window       time.Duration
}

// Record is the per-provider proposal budget. The "current" counters cover the
// ongoing window only and reset on every recompute, lifetime counters never do.
type Record struct {
	DailyAllowance           int64
	LastObservedCapacity     int64
	CurrentOutstandingCount  int64
	CurrentOutstandingVolume int64
	LifetimeProposedCount    int64
	LifetimeProposedVolume   int64
	LifetimeSuccessCount     int64
	LifetimeSuccessVolume    int64
	LastRecomputedAt         time.Time
}

// Exhausted reports whether the window's budget has been used up
func (r Record) Exhausted() bool {
	return r.CurrentOutstandingVolume >= r.DailyAllowance
}

// Tracker owns all allowance records. It is not safe for concurrent use: the
// orchestrator loop is its only caller.
type Tracker struct {
	cfg     Config
	clock   clock.Clock
	records map[filaddr.Address]*Record
}

func NewTracker(cfg Config, clk clock.Clock) *Tracker {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MinDailyRate <= 0 {
		cfg.MinDailyRate = DefaultMinDailyRate
	}
	if cfg.MaxDailyRate < cfg.MinDailyRate {
		cfg.MaxDailyRate = cfg.MinDailyRate
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{
		cfg:     cfg,
		clock:   clk,
		records: make(map[filaddr.Address]*Record, 1024),
	}
}

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Recompute refreshes the allowance of a provider from its current capacity.
// Unknown providers start at the floor. Known providers are only recomputed
// once a full window has elapsed since their previous recompute, at which
// point the allowance becomes half the capacity growth and a new window
// begins.
func (t *Tracker) Recompute(provider filaddr.Address, capacity int64) bool {
	now := t.clock.Now()

	r, known := t.records[provider]
	if !known {
		t.records[provider] = &Record{
			DailyAllowance:       t.cfg.MinDailyRate,
			LastObservedCapacity: capacity,
			LastRecomputedAt:     now,
		}
		log.Infow("new provider, daily rate at floor",
			"provider", provider,
			"dailyRate", humanize.IBytes(uint64(t.cfg.MinDailyRate)),
		)
		return false
	}

	if now.Sub(r.LastRecomputedAt) < t.cfg.Window {
		return false
	}

	r.DailyAllowance = Clamp((capacity-r.LastObservedCapacity)/2, t.cfg.MinDailyRate, t.cfg.MaxDailyRate)
	r.LastObservedCapacity = capacity
	r.CurrentOutstandingCount = 0
	r.CurrentOutstandingVolume = 0
	r.LastRecomputedAt = now

	log.Infow("recomputed daily rate",
		"provider", provider,
		"dailyRate", humanize.IBytes(uint64(r.DailyAllowance)),
	)
	return true
}

// Get returns a copy of the provider's record
func (t *Tracker) Get(provider filaddr.Address) (Record, bool) {
	r, known := t.records[provider]
	if !known {
		return Record{}, false
	}
	return *r, true
}

func (t *Tracker) RecordProposal(provider filaddr.Address, size int64) {
	r, known := t.records[provider]
	if !known || size < 0 {
		return
	}
	r.CurrentOutstandingCount++
	r.CurrentOutstandingVolume += size
	r.LifetimeProposedCount++
	r.LifetimeProposedVolume += size
}

func (t *Tracker) RecordSuccess(provider filaddr.Address, size int64) {
	r, known := t.records[provider]
	if !known || size < 0 {
		return
	}
	r.LifetimeSuccessCount++
	r.LifetimeSuccessVolume += size
}

type Entry struct {
	Provider filaddr.Address
	Record
}

// Active lists copies of every record with non-zero lifetime proposed
// volume, ordered by provider address
func (t *Tracker) Active() []Entry {
	out := make([]Entry, 0, len(t.records))
	for p, r := range t.records {
		if r.LifetimeProposedVolume > 0 {
			out = append(out, Entry{Provider: p, Record: *r})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider.String() < out[j].Provider.String() })
	return out
}

func (t *Tracker) Len() int { return len(t.records) }
