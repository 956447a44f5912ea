package orchestrator

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"time"

	"github.com/NewMai/QABot/internal/admission"
	"github.com/NewMai/QABot/internal/allowance"
	"github.com/NewMai/QABot/internal/deals"
	"github.com/NewMai/QABot/internal/lotusrpc"
	"github.com/NewMai/QABot/internal/providers"
	"github.com/NewMai/QABot/internal/report"
	"github.com/NewMai/QABot/internal/retrieval"
	"github.com/NewMai/QABot/internal/stats"
	"github.com/benbjohnson/clock"
	filaddr "github.com/filecoin-project/go-address"
	filbig "github.com/filecoin-project/go-state-types/big"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/sync/errgroup"
)

var log = logging.Logger("qabot/orchestrator")

const (
	DefaultProposalPause = time.Second
	DefaultCyclePause    = 2 * time.Second
	DefaultAskBatchSize  = 10
)

type Config struct {
	Version       string
	ProposalPause time.Duration
	CyclePause    time.Duration
	RefreshAsks   bool
	AskBatchSize  int
}

// Proposer is satisfied by *deals.Proposer
type Proposer interface {
	Propose(ctx context.Context, provider filaddr.Address) (*deals.PendingStorageDeal, error)
}

type Deps struct {
	Node       lotusrpc.Node
	Source     providers.Source
	Info       deals.MinerInfoSource
	Registry   *providers.Registry
	Allowance  *allowance.Tracker
	Admission  *admission.Controller
	Proposer   Proposer
	Deals      *deals.Tracker
	Retrievals *retrieval.Verifier
	Stats      *stats.Aggregator
	Reporter   report.Reporter
	Clock      clock.Clock
}

// Orchestrator runs the bot's cycle. It is the sole owner of the registry,
// the allowance records and the pending deal and retrieval maps: nothing
// outside Run touches them. Readers get an immutable Snapshot instead.
type Orchestrator struct {
	cfg Config
	Deps

	cycle    uint64
	snapshot atomic.Pointer[Snapshot]
}

func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.AskBatchSize <= 0 {
		cfg.AskBatchSize = DefaultAskBatchSize
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Registry == nil {
		deps.Registry = providers.NewRegistry()
	}
	if deps.Admission == nil {
		deps.Admission = &admission.Controller{MaxPending: admission.DefaultMaxPending}
	}
	o := &Orchestrator{cfg: cfg, Deps: deps}
	o.publish()
	return o
}

// Run loops until ctx is cancelled. Every phase checks ctx between items, so
// a shutdown only waits for the calls already in flight.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Infow("starting", "version", o.cfg.Version, "refreshAsks", o.cfg.RefreshAsks)
	for {
		o.RunCycle(ctx)

		if !o.sleep(ctx, o.cfg.CyclePause) {
			log.Info("stopped")
			return nil
		}
	}
}

// RunCycle executes the phases of one cycle, in order
func (o *Orchestrator) RunCycle(ctx context.Context) {
	o.cycle++
	t0 := o.Clock.Now()

	for _, phase := range []struct {
		name string
		fn   func(context.Context)
	}{
		{"refresh-providers", o.refreshProviders},
		{"recompute-allowances", o.recomputeAllowances},
		{"refresh-asks", o.refreshAsks},
		{"propose-deals", o.proposeDeals},
		{"poll-deals", o.Deals.PollAll},
		{"verify-retrievals", o.Retrievals.VerifyAll},
	} {
		if ctx.Err() != nil {
			break
		}
		if phase.name == "refresh-asks" && !o.cfg.RefreshAsks {
			continue
		}
		log.Debugw("phase", "cycle", o.cycle, "name", phase.name)
		phase.fn(ctx)
	}

	o.Stats.Report(o.cfg.Version, o.Allowance.Active())
	o.publish()
	log.Infow("cycle done", "cycle", o.cycle, "took", o.Clock.Since(t0).Truncate(time.Millisecond).String())
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-o.Clock.After(d):
		return true
	}
}

func (o *Orchestrator) refreshProviders(ctx context.Context) {
	list, err := o.Source.ListProviders(ctx)
	if err != nil {
		log.Errorw("provider listing failed, keeping the previous list", "known", o.Registry.Len(), "error", err)
	}
	if !o.Registry.Replace(list) {
		log.Warnw("empty provider listing, keeping the previous list", "known", o.Registry.Len())
		return
	}
	log.Infow("providers", "count", o.Registry.Len())
}

func (o *Orchestrator) recomputeAllowances(ctx context.Context) {
	for _, p := range o.Registry.List() {
		if ctx.Err() != nil {
			return
		}
		o.Allowance.Recompute(p.Address, p.Capacity)
	}
}

type askResult struct {
	provider filaddr.Address
	peerID   peer.ID
	price    filbig.Int
	refusal  error
	err      error
}

// refreshAsks queries every known provider's ask in fixed-size batches and
// records the price. Explicit refusals count as failed storage deals.
func (o *Orchestrator) refreshAsks(ctx context.Context) {
	list := o.Registry.List()
	for start := 0; start < len(list); start += o.cfg.AskBatchSize {
		if ctx.Err() != nil {
			return
		}
		end := start + o.cfg.AskBatchSize
		if end > len(list) {
			end = len(list)
		}

		batch := list[start:end]
		results := make([]askResult, len(batch))
		var eg errgroup.Group
		for i := range batch {
			i := i
			eg.Go(func() error {
				results[i] = o.queryAsk(ctx, batch[i].Address)
				return nil
			})
		}
		eg.Wait() //nolint:errcheck

		for _, r := range results {
			o.applyAsk(r)
		}
	}
}

func (o *Orchestrator) queryAsk(ctx context.Context, maddr filaddr.Address) askResult {
	res := askResult{provider: maddr}
	md, err := o.Info.Get(ctx, maddr)
	if err != nil {
		res.err = err
		return res
	}
	res.peerID = md.PeerID

	ask, err := o.Node.QueryAsk(ctx, md.PeerID, maddr)
	switch {
	case err == nil:
		res.price = ask.Price
	case lotusrpc.IsConnectionError(err) || ctx.Err() != nil:
		res.err = err
	default:
		res.refusal = &deals.AskRefusedError{Provider: maddr, Err: err}
	}
	return res
}

func (o *Orchestrator) applyAsk(r askResult) {
	switch {
	case r.err != nil:
		log.Warnw("ask refresh skipped", "provider", r.provider, "error", r.err)
	case r.refusal != nil:
		o.askRefused(r.provider, r.refusal)
		o.Registry.Update(r.provider, func(p *providers.Provider) {
			p.PeerID = r.peerID
			p.LastAskPrice = filbig.Zero()
			p.Reachable = false
		})
	default:
		o.Registry.Update(r.provider, func(p *providers.Provider) {
			p.PeerID = r.peerID
			p.LastAskPrice = r.price
			p.Reachable = true
		})
	}
}

func (o *Orchestrator) askRefused(provider filaddr.Address, err error) {
	o.Stats.StorageFailed(provider, err.Error())
	o.Reporter.Report(report.Outcome{
		Kind:     report.KindStorage,
		Provider: provider,
		Message:  err.Error(),
		At:       o.Clock.Now(),
	})
}

func (o *Orchestrator) proposeDeals(ctx context.Context) {
	selected := o.Admission.SelectProvidersForProposal(o.Registry.List(), o.Allowance, o.Deals.Len())

	for i, p := range selected {
		if ctx.Err() != nil {
			return
		}
		if i > 0 && !o.sleep(ctx, o.cfg.ProposalPause) {
			return
		}

		d, err := o.Proposer.Propose(ctx, p.Address)
		switch {
		case err == nil:
			o.Deals.Add(*d)
			o.Allowance.RecordProposal(d.Provider, d.SizeBytes)
			o.Registry.Update(d.Provider, func(rp *providers.Provider) {
				rp.PeerID = d.PeerID
				rp.LastAskPrice = d.EpochPrice
				rp.Reachable = true
			})
		case errors.Is(err, deals.ErrAskRefused):
			o.askRefused(p.Address, err)
			o.Registry.Update(p.Address, func(rp *providers.Provider) {
				rp.LastAskPrice = filbig.Zero()
				rp.Reachable = false
			})
		default:
			log.Errorw("storage deal proposal failed", "provider", p.Address, "error", err)
		}
	}
}

// ProviderState joins a provider with its allowance record
type ProviderState struct {
	providers.Provider
	Allowance    allowance.Record
	HasAllowance bool
}

// Snapshot is a point-in-time copy of the loop's state for outside readers
type Snapshot struct {
	Version           string
	Cycle             uint64
	At                time.Time
	Counters          stats.Snapshot
	Providers         []ProviderState
	PendingDeals      []deals.PendingStorageDeal
	PendingRetrievals []retrieval.PendingRetrieval
	RecentFailures    []stats.Failure
}

func (o *Orchestrator) publish() {
	list := o.Registry.List()
	ps := make([]ProviderState, len(list))
	for i := range list {
		ps[i].Provider = list[i]
		if o.Allowance != nil {
			ps[i].Allowance, ps[i].HasAllowance = o.Allowance.Get(list[i].Address)
		}
	}

	s := &Snapshot{
		Version:   o.cfg.Version,
		Cycle:     o.cycle,
		At:        o.Clock.Now(),
		Providers: ps,
	}
	if o.Stats != nil {
		s.Counters = o.Stats.Snapshot()
		s.RecentFailures = o.Stats.RecentFailures()
	}
	if o.Deals != nil {
		s.PendingDeals = o.Deals.List()
	}
	if o.Retrievals != nil {
		s.PendingRetrievals = o.Retrievals.List()
	}
	o.snapshot.Store(s)
}

// Snapshot returns the state as of the end of the last completed cycle. It
// is safe to call from any goroutine.
func (o *Orchestrator) Snapshot() *Snapshot {
	return o.snapshot.Load()
}

// HandleSignals starts a graceful stop on the first signal received by
// cancelling the loop's context, then calls exit once grace has elapsed
func HandleSignals(sigs <-chan os.Signal, cancel context.CancelFunc, grace time.Duration, exit func()) {
	go func() {
		sig, ok := <-sigs
		if !ok {
			return
		}
		log.Warnw("shutdown requested", "signal", sig.String(), "grace", grace.String())
		cancel()
		time.AfterFunc(grace, func() {
			log.Warn("shutdown")
			exit()
		})
	}()
}
