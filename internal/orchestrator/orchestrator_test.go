package orchestrator

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/NewMai/QABot/internal/admission"
	"github.com/NewMai/QABot/internal/allowance"
	"github.com/NewMai/QABot/internal/deals"
	"github.com/NewMai/QABot/internal/providers"
	"github.com/NewMai/QABot/internal/report"
	"github.com/NewMai/QABot/internal/retrieval"
	"github.com/NewMai/QABot/internal/stats"
	"github.com/NewMai/QABot/internal/testfile"
	"github.com/NewMai/QABot/internal/testutil"
	"github.com/benbjohnson/clock"
	filaddr "github.com/filecoin-project/go-address"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

// one test file uses up a provider's daily floor
const testFileSize = 2048

type staticSource struct {
	list []providers.Provider
	err  error
}

func (s *staticSource) ListProviders(context.Context) ([]providers.Provider, error) {
	return s.list, s.err
}

type harness struct {
	clk      *clock.Mock
	node     *testutil.FakeNode
	source   *staticSource
	reporter *testutil.Recorder
	o        *Orchestrator
	addrs    []filaddr.Address
}

func newHarness(t *testing.T, maxPending int, refreshAsks bool, powers ...int64) *harness {
	h := &harness{
		clk:      clock.NewMock(),
		node:     testutil.NewFakeNode(t),
		source:   &staticSource{},
		reporter: &testutil.Recorder{},
	}
	for i, pow := range powers {
		a := h.node.AddMiner(t, uint64(1000+i), pow)
		h.addrs = append(h.addrs, a)
		h.source.list = append(h.source.list, providers.Provider{Address: a, Capacity: pow})
	}

	ic, err := providers.NewInfoCache(h.node, time.Minute)
	require.NoError(t, err)
	t.Cleanup(ic.Close)

	agg := stats.New(nil, h.clk)
	allow := allowance.NewTracker(allowance.Config{MinDailyRate: testFileSize, MaxDailyRate: 1 << 30}, h.clk)
	ver := retrieval.NewVerifier(retrieval.Config{OutDir: t.TempDir()}, h.node, agg, h.reporter, h.clk)
	tr := deals.NewTracker(deals.TrackerConfig{}, h.node, ver, allow, agg, h.reporter, h.clk)

	h.o = New(Config{Version: "test", RefreshAsks: refreshAsks}, Deps{
		Node:      h.node,
		Source:    h.source,
		Info:      ic,
		Allowance: allow,
		Admission: &admission.Controller{MaxPending: maxPending},
		Proposer: &deals.Proposer{
			Node:     h.node,
			Info:     ic,
			Files:    &testfile.Generator{Dir: t.TempDir()},
			FileSize: testFileSize,
			Clock:    h.clk,
		},
		Deals:      tr,
		Retrievals: ver,
		Stats:      agg,
		Reporter:   h.reporter,
		Clock:      h.clk,
	})
	return h
}

func TestFullRoundTrip(t *testing.T) {
	h := newHarness(t, 10, false, 1<<40, 1<<40)
	ctx := context.Background()

	h.o.RunCycle(ctx)
	snap := h.o.Snapshot()
	require.Equal(t, uint64(1), snap.Cycle)
	require.Len(t, snap.Providers, 2)
	require.Len(t, snap.PendingDeals, 2)
	require.Equal(t, int64(2), snap.Counters.StoragePending)
	for _, ps := range snap.Providers {
		require.True(t, ps.HasAllowance)
		require.Equal(t, int64(testFileSize), ps.Allowance.DailyAllowance)
		require.True(t, ps.Allowance.Exhausted())
		require.True(t, ps.Reachable)
	}

	for _, c := range h.node.Deals() {
		h.node.SetDealState(c, uint64(deals.StorageDealActive))
	}
	h.o.RunCycle(ctx)

	snap = h.o.Snapshot()
	require.Empty(t, snap.PendingRetrievals)
	require.Equal(t, int64(2), snap.Counters.StorageSucceeded)
	require.Equal(t, int64(2), snap.Counters.RetrievalSucceeded)
	require.Zero(t, snap.Counters.StorageFailed)
	require.Zero(t, snap.Counters.RetrievalFailed)

	// the allowance floor is used up, so nothing new was proposed
	require.Empty(t, snap.PendingDeals)
}

func TestMaxPendingHoldsAcrossCycles(t *testing.T) {
	h := newHarness(t, 2, false, 1<<40, 1<<40, 1<<40)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.o.RunCycle(ctx)
		require.LessOrEqual(t, len(h.o.Snapshot().PendingDeals), 2)
	}
	require.Len(t, h.node.Deals(), 2)
}

func TestErrorStateCountsOnce(t *testing.T) {
	h := newHarness(t, 1, false, 1<<40)
	ctx := context.Background()

	h.o.RunCycle(ctx)
	deal := h.o.Snapshot().PendingDeals[0]
	h.node.SetDealState(deal.ProposalCid, uint64(deals.StorageDealError))

	h.o.RunCycle(ctx)
	snap := h.o.Snapshot()
	require.Equal(t, int64(1), snap.Counters.StorageFailed)
	_, err := os.Stat(deal.LocalPath)
	require.True(t, os.IsNotExist(err))

	require.Len(t, snap.RecentFailures, 1)
	require.Equal(t, "state StorageDealError", snap.RecentFailures[0].Message)
}

func TestAskRefusalIsReportedFailure(t *testing.T) {
	h := newHarness(t, 10, true, 1<<40, 1<<40)
	h.node.Miner(h.addrs[0]).AskErr = xerrors.New("no ask")

	h.o.RunCycle(context.Background())
	snap := h.o.Snapshot()

	// once from the ask refresh, once from the proposal
	require.Equal(t, int64(2), snap.Counters.StorageFailed)
	require.Len(t, snap.PendingDeals, 1)
	require.Equal(t, h.addrs[1], snap.PendingDeals[0].Provider)

	for _, ps := range snap.Providers {
		if ps.Address == h.addrs[0] {
			require.False(t, ps.Reachable)
			require.True(t, ps.LastAskPrice.IsZero())
		} else {
			require.True(t, ps.Reachable)
		}
	}

	var refusals int
	for _, o := range h.reporter.Outcomes() {
		if o.Kind == report.KindStorage && !o.Success {
			require.Equal(t, "ClientQueryAsk failed : no ask", o.Message)
			refusals++
		}
	}
	require.Equal(t, 2, refusals)
}

func TestFailedListingKeepsProviders(t *testing.T) {
	h := newHarness(t, 0, false, 1<<40)
	ctx := context.Background()

	h.o.RunCycle(ctx)
	require.Len(t, h.o.Snapshot().Providers, 1)

	h.source.list, h.source.err = nil, xerrors.New("backend down")
	h.o.RunCycle(ctx)
	require.Len(t, h.o.Snapshot().Providers, 1)
}

func TestUnreachableNodeNeverAbortsCycle(t *testing.T) {
	h := newHarness(t, 10, true, 1<<40)
	h.node.Unreachable = true

	h.o.RunCycle(context.Background())
	snap := h.o.Snapshot()
	require.Equal(t, uint64(1), snap.Cycle)
	require.Empty(t, snap.PendingDeals)
	require.Zero(t, snap.Counters.StorageFailed)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, 10, false, 1<<40)
	h.o.cfg.CyclePause = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.o.Run(ctx) }()

	testutil.Eventually(t, func() bool { return h.o.Snapshot().Cycle >= 1 })
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCyclePauseFollowsInjectedClock(t *testing.T) {
	h := newHarness(t, 10, false, 1<<40)
	clk := testutil.NewStepClock()
	h.o.Clock = clk
	h.o.cfg.CyclePause = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.o.Run(ctx) }()

	clk.AwaitWait(t, time.Hour)
	require.Equal(t, uint64(1), h.o.Snapshot().Cycle)
	clk.Add(time.Hour)
	clk.AwaitWait(t, time.Hour)
	require.Equal(t, uint64(2), h.o.Snapshot().Cycle)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHandleSignals(t *testing.T) {
	sigs := make(chan os.Signal, 1)
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})

	HandleSignals(sigs, cancel, 10*time.Millisecond, func() { close(exited) })
	sigs <- syscall.SIGTERM

	<-ctx.Done()
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("exit was not called after the grace period")
	}
}
