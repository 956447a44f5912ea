package retrieval

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/NewMai/QABot/internal/lotusrpc"
	"github.com/NewMai/QABot/internal/report"
	"github.com/NewMai/QABot/internal/testfile"
	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	filaddr "github.com/filecoin-project/go-address"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-multihash"
	"golang.org/x/xerrors"
)

var log = logging.Logger("qabot/retrieval")

const (
	DefaultTimeout = 3600 * time.Second

	MsgTimeout      = "retrieve deal timeout"
	MsgHashMismatch = "hash check failed"
)

var (
	ErrNoOffers     = errors.New("no retrieval offers")
	ErrTimeout      = errors.New(MsgTimeout)
	ErrHashMismatch = errors.New(MsgHashMismatch)
)

// PendingRetrieval is the data of a successfully stored deal, awaiting a
// round-trip check
type PendingRetrieval struct {
	Provider    filaddr.Address
	DataCid     cid.Cid
	LocalPath   string
	ContentHash multihash.Multihash
	SizeBytes   int64
	CreatedAt   time.Time
}

type Config struct {
	Timeout time.Duration
	OutDir  string
	// Pause between consecutive retrievals
	Pause time.Duration
}

// Recorder is satisfied by *stats.Aggregator
type Recorder interface {
	RetrievalSucceeded()
	RetrievalFailed(provider filaddr.Address, msg string)
	SetRetrievalPending(n int)
}

// Verifier owns the pending retrievals. Like the deal tracker it is driven
// exclusively from the orchestrator loop.
type Verifier struct {
	cfg      Config
	node     lotusrpc.Node
	stats    Recorder
	reporter report.Reporter
	clock    clock.Clock

	pending map[cid.Cid]PendingRetrieval
}

func NewVerifier(cfg Config, node lotusrpc.Node, stats Recorder, reporter report.Reporter, clk clock.Clock) *Verifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Verifier{
		cfg:      cfg,
		node:     node,
		stats:    stats,
		reporter: reporter,
		clock:    clk,
		pending:  make(map[cid.Cid]PendingRetrieval, 256),
	}
}

// Enqueue registers a retrieval check. An already queued data cid is kept as is.
func (v *Verifier) Enqueue(r PendingRetrieval) bool {
	if _, exists := v.pending[r.DataCid]; exists {
		return false
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = v.clock.Now()
	}
	v.pending[r.DataCid] = r
	v.stats.SetRetrievalPending(len(v.pending))
	return true
}

// Drop forgets a pending retrieval without reporting anything
func (v *Verifier) Drop(dataCid cid.Cid) {
	if _, exists := v.pending[dataCid]; !exists {
		return
	}
	delete(v.pending, dataCid)
	v.stats.SetRetrievalPending(len(v.pending))
}

func (v *Verifier) Len() int { return len(v.pending) }

func (v *Verifier) Get(dataCid cid.Cid) (PendingRetrieval, bool) {
	r, ok := v.pending[dataCid]
	return r, ok
}

// List returns the pending retrievals, oldest first
func (v *Verifier) List() []PendingRetrieval {
	out := make([]PendingRetrieval, 0, len(v.pending))
	for _, r := range v.pending {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].DataCid.KeyString() < out[j].DataCid.KeyString()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// VerifyAll runs one verification attempt for every retrieval pending at the
// time of the call, one at a time
func (v *Verifier) VerifyAll(ctx context.Context) {
	for i, r := range v.List() {
		if ctx.Err() != nil {
			return
		}
		if i > 0 && v.cfg.Pause > 0 {
			select {
			case <-ctx.Done():
				return
			case <-v.clock.After(v.cfg.Pause):
			}
		}
		if err := v.Verify(ctx, r); err != nil {
			log.Debugw("verify", "dataCid", r.DataCid, "provider", r.Provider, "result", err)
		}
	}
}

type retrieveResult struct {
	err error
}

// Verify retrieves the data behind r and compares its hash with the one
// recorded at generation time. A missing offer or an unreachable node leaves
// r pending. Every other outcome is terminal: r is removed and the outcome
// reported.
func (v *Verifier) Verify(ctx context.Context, r PendingRetrieval) error {
	log.Infow("retrieve deal", "dataCid", r.DataCid, "provider", r.Provider)

	offers, err := v.node.FindRetrievalOffers(ctx, r.DataCid)
	if err != nil {
		log.Errorw("find retrieval offers failed", "dataCid", r.DataCid, "error", err)
		return xerrors.Errorf("finding offers: %w", err)
	}
	var offer *lotusrpc.QueryOffer
	for i := range offers {
		if offers[i].Err == "" {
			offer = &offers[i]
			break
		}
	}
	if offer == nil {
		log.Warnw("no retrieval offers yet", "dataCid", r.DataCid, "provider", r.Provider, "offers", len(offers))
		return ErrNoOffers
	}

	wallet, err := v.node.DefaultWallet(ctx)
	if err != nil {
		log.Errorw("default wallet lookup failed", "error", err)
		return xerrors.Errorf("default wallet: %w", err)
	}

	outPath := testfile.NewPath(v.cfg.OutDir)
	t0 := v.clock.Now()

	// the transfer is abandoned, not awaited, once the timeout fires
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan retrieveResult, 1)
	go func() {
		done <- retrieveResult{err: v.node.Retrieve(rctx, offer.Order(wallet), outPath)}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()

	case <-v.clock.After(v.cfg.Timeout):
		v.finish(r, false, MsgTimeout, r.DataCid.String()+" "+MsgTimeout)
		return ErrTimeout

	case res := <-done:
		if res.err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			v.finish(r, false, res.err.Error(), r.DataCid.String())
			return xerrors.Errorf("retrieve: %w", res.err)
		}
	}

	got, err := testfile.HashFile(outPath)
	if err != nil {
		v.finish(r, false, err.Error(), "outFile:"+outPath)
		return xerrors.Errorf("hashing retrieved file: %w", err)
	}

	took := v.clock.Since(t0).Truncate(time.Millisecond)
	if !testfile.Equal(r.ContentHash, got) {
		testfile.Remove(r.LocalPath)
		v.finish(r, false, MsgHashMismatch,
			"outFile:"+outPath+" sha256:"+got.B58String()+" original sha256:"+r.ContentHash.B58String(),
		)
		return ErrHashMismatch
	}

	testfile.Remove(r.LocalPath)
	testfile.Remove(outPath)
	v.finish(r, true, report.MsgSuccess,
		"size:"+humanize.IBytes(uint64(r.SizeBytes))+" took:"+took.String()+" sha256:"+got.B58String(),
	)
	return nil
}

func (v *Verifier) finish(r PendingRetrieval, success bool, msg, detail string) {
	if success {
		v.stats.RetrievalSucceeded()
	} else {
		v.stats.RetrievalFailed(r.Provider, msg)
	}
	v.reporter.Report(report.Outcome{
		Kind:     report.KindRetrieval,
		Provider: r.Provider,
		Success:  success,
		Message:  msg,
		Detail:   detail,
		At:       v.clock.Now(),
	})
	delete(v.pending, r.DataCid)
	v.stats.SetRetrievalPending(len(v.pending))
}
