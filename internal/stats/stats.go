package stats

import (
	"fmt"
	"sync"
	"time"

	"github.com/NewMai/QABot/internal/allowance"
	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	filaddr "github.com/filecoin-project/go-address"
	lru "github.com/hashicorp/golang-lru/v2"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("qabot/stats")

const RecentFailuresKept = 256

type Snapshot struct {
	StoragePending     int64 `json:"storage_pending"`
	StorageSucceeded   int64 `json:"storage_succeeded"`
	StorageFailed      int64 `json:"storage_failed"`
	RetrievalPending   int64 `json:"retrieval_pending"`
	RetrievalSucceeded int64 `json:"retrieval_succeeded"`
	RetrievalFailed    int64 `json:"retrieval_failed"`
}

func (s Snapshot) StorageTotal() int64 {
	return s.StoragePending + s.StorageSucceeded + s.StorageFailed
}

func (s Snapshot) RetrievalTotal() int64 {
	return s.RetrievalSucceeded + s.RetrievalFailed
}

// Sink receives every counter change. The metrics gauges implement it.
type Sink interface {
	Publish(Snapshot)
}

type Failure struct {
	Provider filaddr.Address
	Kind     string
	Message  string
	At       time.Time
}

// Aggregator accumulates deal counters. Writes come from the orchestrator
// loop only; the mutex exists for the status API reading alongside.
type Aggregator struct {
	mu     sync.Mutex
	snap   Snapshot
	seq    uint64
	recent *lru.Cache[uint64, Failure]
	sink   Sink
	clock  clock.Clock
}

func New(sink Sink, clk clock.Clock) *Aggregator {
	recent, err := lru.New[uint64, Failure](RecentFailuresKept)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Aggregator{recent: recent, sink: sink, clock: clk}
}

func (a *Aggregator) update(fn func(*Snapshot)) {
	a.mu.Lock()
	fn(&a.snap)
	s := a.snap
	a.mu.Unlock()

	if a.sink != nil {
		a.sink.Publish(s)
	}
}

func (a *Aggregator) noteFailure(kind string, provider filaddr.Address, msg string) {
	a.mu.Lock()
	a.seq++
	a.recent.Add(a.seq, Failure{Provider: provider, Kind: kind, Message: msg, At: a.clock.Now()})
	a.mu.Unlock()
}

func (a *Aggregator) SetStoragePending(n int) {
	a.update(func(s *Snapshot) { s.StoragePending = int64(n) })
}

func (a *Aggregator) SetRetrievalPending(n int) {
	a.update(func(s *Snapshot) { s.RetrievalPending = int64(n) })
}

func (a *Aggregator) StorageSucceeded() {
	a.update(func(s *Snapshot) { s.StorageSucceeded++ })
}

func (a *Aggregator) StorageFailed(provider filaddr.Address, msg string) {
	a.noteFailure("storage", provider, msg)
	a.update(func(s *Snapshot) { s.StorageFailed++ })
}

func (a *Aggregator) RetrievalSucceeded() {
	a.update(func(s *Snapshot) { s.RetrievalSucceeded++ })
}

func (a *Aggregator) RetrievalFailed(provider filaddr.Address, msg string) {
	a.noteFailure("retrieval", provider, msg)
	a.update(func(s *Snapshot) { s.RetrievalFailed++ })
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap
}

// RecentFailures lists the most recent failures, newest first
func (a *Aggregator) RecentFailures() []Failure {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := a.recent.Keys()
	out := make([]Failure, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if f, ok := a.recent.Peek(keys[i]); ok {
			out = append(out, f)
		}
	}
	return out
}

// Report logs the totals followed by one line per provider with proposal
// activity
func (a *Aggregator) Report(version string, active []allowance.Entry) {
	s := a.Snapshot()

	log.Infof("qabot %s stats", version)
	log.Infow("storage deals",
		"total", s.StorageTotal(),
		"pending", s.StoragePending,
		"successful", s.StorageSucceeded,
		"failed", s.StorageFailed,
	)
	log.Infow("retrieve deals",
		"total", s.RetrievalTotal(),
		"pending", s.RetrievalPending,
		"successful", s.RetrievalSucceeded,
		"failed", s.RetrievalFailed,
	)
	for _, e := range active {
		log.Infow("provider",
			"provider", e.Provider,
			"dailyRate", humanize.IBytes(uint64(e.DailyAllowance)),
			"power", humanize.IBytes(uint64(e.LastObservedCapacity)),
			"proposed", fmtCountVolume(e.CurrentOutstandingCount, e.CurrentOutstandingVolume),
			"totalProposed", fmtCountVolume(e.LifetimeProposedCount, e.LifetimeProposedVolume),
			"totalSuccessful", fmtCountVolume(e.LifetimeSuccessCount, e.LifetimeSuccessVolume),
		)
	}
}

func fmtCountVolume(n, vol int64) string {
	return fmt.Sprintf("[%d] %s", n, humanize.IBytes(uint64(vol)))
}
