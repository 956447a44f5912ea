package deals

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/NewMai/QABot/internal/lotusrpc"
	"github.com/NewMai/QABot/internal/report"
	"github.com/NewMai/QABot/internal/retrieval"
	"github.com/NewMai/QABot/internal/testfile"
	"github.com/benbjohnson/clock"
	filaddr "github.com/filecoin-project/go-address"
	"github.com/ipfs/go-cid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultDealTimeout = 24 * time.Hour
	DefaultBatchSize   = 10
)

type TrackerConfig struct {
	DealTimeout time.Duration
	BatchSize   int
	// Pause between poll batches
	Pause time.Duration
}

// RetrievalQueue is satisfied by *retrieval.Verifier
type RetrievalQueue interface {
	Enqueue(r retrieval.PendingRetrieval) bool
	Drop(dataCid cid.Cid)
}

// SuccessRecorder is satisfied by *allowance.Tracker
type SuccessRecorder interface {
	RecordSuccess(provider filaddr.Address, size int64)
}

// Recorder is satisfied by *stats.Aggregator
type Recorder interface {
	StorageSucceeded()
	StorageFailed(provider filaddr.Address, msg string)
	SetStoragePending(n int)
}

// Tracker owns the pending storage deals and moves each of them to a
// terminal outcome based on the state the node reports
type Tracker struct {
	cfg        TrackerConfig
	node       lotusrpc.Node
	retrievals RetrievalQueue
	allowance  SuccessRecorder
	stats      Recorder
	reporter   report.Reporter
	clock      clock.Clock

	pending map[cid.Cid]*PendingStorageDeal
}

func NewTracker(cfg TrackerConfig, node lotusrpc.Node, retrievals RetrievalQueue, allowance SuccessRecorder, stats Recorder, reporter report.Reporter, clk clock.Clock) *Tracker {
	if cfg.DealTimeout <= 0 {
		cfg.DealTimeout = DefaultDealTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{
		cfg:        cfg,
		node:       node,
		retrievals: retrievals,
		allowance:  allowance,
		stats:      stats,
		reporter:   reporter,
		clock:      clk,
		pending:    make(map[cid.Cid]*PendingStorageDeal, 256),
	}
}

// Add starts tracking a freshly proposed deal
func (t *Tracker) Add(d PendingStorageDeal) bool {
	if _, exists := t.pending[d.ProposalCid]; exists {
		return false
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = t.clock.Now()
	}
	t.pending[d.ProposalCid] = &d
	t.stats.SetStoragePending(len(t.pending))
	return true
}

func (t *Tracker) Len() int { return len(t.pending) }

func (t *Tracker) Get(proposal cid.Cid) (PendingStorageDeal, bool) {
	d, ok := t.pending[proposal]
	if !ok {
		return PendingStorageDeal{}, false
	}
	return *d, true
}

// List returns copies of the pending deals, oldest first
func (t *Tracker) List() []PendingStorageDeal {
	out := make([]PendingStorageDeal, 0, len(t.pending))
	for _, d := range t.pending {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ProposalCid.KeyString() < out[j].ProposalCid.KeyString()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type pollResult struct {
	info *lotusrpc.DealInfo
	err  error
}

// PollAll queries the status of every deal pending at the time of the call.
// Status queries go out in batches of BatchSize; the resulting transitions
// are applied by the calling goroutine once a batch has fully returned.
func (t *Tracker) PollAll(ctx context.Context) {
	t.stats.SetStoragePending(len(t.pending))
	defer func() { t.stats.SetStoragePending(len(t.pending)) }()

	keys := make([]cid.Cid, 0, len(t.pending))
	for _, d := range t.List() {
		keys = append(keys, d.ProposalCid)
	}

	for start := 0; start < len(keys); start += t.cfg.BatchSize {
		if ctx.Err() != nil {
			return
		}
		if start > 0 && t.cfg.Pause > 0 {
			select {
			case <-ctx.Done():
				return
			case <-t.clock.After(t.cfg.Pause):
			}
		}

		end := start + t.cfg.BatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]
		results := make([]pollResult, len(batch))

		var eg errgroup.Group
		for i := range batch {
			i := i
			eg.Go(func() error {
				info, err := t.node.DealStatus(ctx, batch[i])
				results[i] = pollResult{info: info, err: err}
				return nil
			})
		}
		eg.Wait() //nolint:errcheck

		for i, c := range batch {
			t.apply(c, results[i])
		}
	}
}

func (t *Tracker) apply(proposal cid.Cid, res pollResult) {
	d, ok := t.pending[proposal]
	if !ok {
		return
	}

	if res.err != nil {
		log.Errorw("deal status poll failed", "proposalCid", proposal, "provider", d.Provider, "error", res.err)
		return
	}
	if res.info == nil || res.info.State == uint64(StorageDealUnknown) {
		log.Warnw("no usable deal status", "proposalCid", proposal, "provider", d.Provider)
		return
	}

	st := Status(res.info.State)
	log.Debugw("deal status", "proposalCid", proposal, "state", st, "dataCid", d.DataCid)

	switch ActionFor(st) {
	case ActionSucceed:
		t.stats.StorageSucceeded()
		testfile.Remove(d.LocalPath)
		t.retrievals.Enqueue(retrieval.PendingRetrieval{
			Provider:    d.Provider,
			DataCid:     d.DataCid,
			LocalPath:   d.LocalPath,
			ContentHash: d.ContentHash,
			SizeBytes:   d.SizeBytes,
			CreatedAt:   t.clock.Now(),
		})
		t.reporter.Report(report.Outcome{
			Kind:     report.KindStorage,
			Provider: d.Provider,
			Success:  true,
			Message:  report.MsgSuccess,
			Detail:   fmt.Sprintf("%s;%s;%d", proposal, d.DataCid, d.SizeBytes),
			At:       t.clock.Now(),
		})
		t.allowance.RecordSuccess(d.Provider, d.SizeBytes)
		delete(t.pending, proposal)

	case ActionCleanup:
		t.retrievals.Drop(d.DataCid)
		testfile.Remove(d.LocalPath)
		delete(t.pending, proposal)

	case ActionDropLocalFile:
		if !d.localFileDropped {
			testfile.Remove(d.LocalPath)
			d.localFileDropped = true
		}

	case ActionFail:
		t.fail(d, "state "+st.String())

	case ActionWait:
		if t.clock.Since(d.CreatedAt) > t.cfg.DealTimeout {
			t.fail(d, "timeout in state: "+st.String())
		}
	}
}

func (t *Tracker) fail(d *PendingStorageDeal, msg string) {
	t.stats.StorageFailed(d.Provider, msg)
	t.reporter.Report(report.Outcome{
		Kind:     report.KindStorage,
		Provider: d.Provider,
		Message:  msg,
		Detail:   fmt.Sprintf("%s;%s", d.ProposalCid, d.DataCid),
		At:       t.clock.Now(),
	})
	testfile.Remove(d.LocalPath)
	delete(t.pending, d.ProposalCid)
}
