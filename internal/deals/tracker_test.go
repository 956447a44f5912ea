package deals

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/NewMai/QABot/internal/allowance"
	"github.com/NewMai/QABot/internal/providers"
	"github.com/NewMai/QABot/internal/report"
	"github.com/NewMai/QABot/internal/retrieval"
	"github.com/NewMai/QABot/internal/stats"
	"github.com/NewMai/QABot/internal/testfile"
	"github.com/NewMai/QABot/internal/testutil"
	"github.com/benbjohnson/clock"
	filaddr "github.com/filecoin-project/go-address"
	filabi "github.com/filecoin-project/go-state-types/abi"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

const testFileSize = 4096

type harness struct {
	clk       *clock.Mock
	node      *testutil.FakeNode
	stats     *stats.Aggregator
	reporter  *testutil.Recorder
	allowance *allowance.Tracker
	verifier  *retrieval.Verifier
	tracker   *Tracker
	proposer  *Proposer
	importDir string
	provider  filaddr.Address
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		clk:       clock.NewMock(),
		node:      testutil.NewFakeNode(t),
		reporter:  &testutil.Recorder{},
		importDir: t.TempDir(),
	}
	h.provider = h.node.AddMiner(t, 1000, 1<<40)
	h.stats = stats.New(nil, h.clk)
	h.allowance = allowance.NewTracker(allowance.Config{MinDailyRate: 1 << 30, MaxDailyRate: 1 << 40}, h.clk)
	h.allowance.Recompute(h.provider, 1<<40)
	h.verifier = retrieval.NewVerifier(retrieval.Config{OutDir: t.TempDir()}, h.node, h.stats, h.reporter, h.clk)
	h.tracker = NewTracker(TrackerConfig{DealTimeout: 24 * time.Hour, BatchSize: 10}, h.node, h.verifier, h.allowance, h.stats, h.reporter, h.clk)

	ic, err := providers.NewInfoCache(h.node, time.Minute)
	require.NoError(t, err)
	t.Cleanup(ic.Close)

	h.proposer = &Proposer{
		Node:     h.node,
		Info:     ic,
		Files:    &testfile.Generator{Dir: h.importDir},
		FileSize: testFileSize,
		Clock:    h.clk,
	}
	return h
}

func (h *harness) propose(t *testing.T) PendingStorageDeal {
	d, err := h.proposer.Propose(context.Background(), h.provider)
	require.NoError(t, err)
	require.True(t, h.tracker.Add(*d))
	h.allowance.RecordProposal(d.Provider, d.SizeBytes)
	return *d
}

func fileExists(t *testing.T, path string) bool {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestErrorStateFailsDeal(t *testing.T) {
	h := newHarness(t)
	d := h.propose(t)
	require.True(t, fileExists(t, d.LocalPath))

	h.node.SetDealState(d.ProposalCid, uint64(StorageDealError))
	h.tracker.PollAll(context.Background())

	require.Equal(t, int64(1), h.stats.Snapshot().StorageFailed)
	require.Zero(t, h.tracker.Len())
	require.False(t, fileExists(t, d.LocalPath))

	o := h.reporter.Last()
	require.Equal(t, report.KindStorage, o.Kind)
	require.False(t, o.Success)
	require.Equal(t, "state StorageDealError", o.Message)

	// removed deals are simply not polled again
	h.tracker.PollAll(context.Background())
	require.Equal(t, int64(1), h.stats.Snapshot().StorageFailed)
	require.Len(t, h.reporter.Outcomes(), 1)
}

func TestActiveStateSucceeds(t *testing.T) {
	h := newHarness(t)
	d := h.propose(t)

	h.node.SetDealState(d.ProposalCid, uint64(StorageDealActive))
	h.tracker.PollAll(context.Background())

	require.Equal(t, int64(1), h.stats.Snapshot().StorageSucceeded)
	require.Zero(t, h.tracker.Len())
	require.False(t, fileExists(t, d.LocalPath))

	r, ok := h.verifier.Get(d.DataCid)
	require.True(t, ok)
	require.Equal(t, d.ContentHash, r.ContentHash)
	require.Equal(t, d.Provider, r.Provider)

	rec, _ := h.allowance.Get(h.provider)
	require.Equal(t, int64(1), rec.LifetimeSuccessCount)
	require.Equal(t, int64(testFileSize), rec.LifetimeSuccessVolume)

	o := h.reporter.Last()
	require.True(t, o.Success)
	require.Equal(t, report.MsgSuccess, o.Message)

	// and the data round-trips
	require.NoError(t, h.verifier.Verify(context.Background(), r))
	require.Equal(t, int64(1), h.stats.Snapshot().RetrievalSucceeded)
}

func TestCompletedIsSilentCleanup(t *testing.T) {
	h := newHarness(t)
	d := h.propose(t)
	h.verifier.Enqueue(retrieval.PendingRetrieval{Provider: d.Provider, DataCid: d.DataCid})

	h.node.SetDealState(d.ProposalCid, uint64(StorageDealCompleted))
	h.tracker.PollAll(context.Background())

	require.Zero(t, h.tracker.Len())
	require.Zero(t, h.verifier.Len())
	require.False(t, fileExists(t, d.LocalPath))
	require.Empty(t, h.reporter.Outcomes())
	s := h.stats.Snapshot()
	require.Zero(t, s.StorageFailed)
	require.Zero(t, s.StorageSucceeded)
}

func TestStagedDropsLocalFileOnly(t *testing.T) {
	h := newHarness(t)
	d := h.propose(t)

	h.node.SetDealState(d.ProposalCid, uint64(StorageDealStaged))
	h.tracker.PollAll(context.Background())
	require.Equal(t, 1, h.tracker.Len())
	require.False(t, fileExists(t, d.LocalPath))

	// sealing takes as long as it takes
	h.clk.Add(48 * time.Hour)
	h.node.SetDealState(d.ProposalCid, uint64(StorageDealSealing))
	h.tracker.PollAll(context.Background())
	require.Equal(t, 1, h.tracker.Len())
	require.Empty(t, h.reporter.Outcomes())

	h.node.SetDealState(d.ProposalCid, uint64(StorageDealActive))
	h.tracker.PollAll(context.Background())
	require.Zero(t, h.tracker.Len())
	require.Equal(t, int64(1), h.stats.Snapshot().StorageSucceeded)
}

func TestStuckDealTimesOut(t *testing.T) {
	h := newHarness(t)
	d := h.propose(t)

	h.clk.Add(23 * time.Hour)
	h.tracker.PollAll(context.Background())
	require.Equal(t, 1, h.tracker.Len())

	h.clk.Add(time.Hour + time.Second)
	h.tracker.PollAll(context.Background())
	require.Zero(t, h.tracker.Len())
	require.False(t, fileExists(t, d.LocalPath))
	require.Equal(t, int64(1), h.stats.Snapshot().StorageFailed)
	require.Equal(t, "timeout in state: StorageDealValidating", h.reporter.Last().Message)
}

func TestPollFailureKeepsDeal(t *testing.T) {
	h := newHarness(t)
	d := h.propose(t)

	h.node.StatusErr = xerrors.New("deal not found in datastore")
	h.clk.Add(48 * time.Hour)
	h.tracker.PollAll(context.Background())
	require.Equal(t, 1, h.tracker.Len())
	require.Zero(t, h.stats.Snapshot().StorageFailed)

	h.node.StatusErr = nil
	h.node.SetDealState(d.ProposalCid, uint64(StorageDealUnknown))
	h.tracker.PollAll(context.Background())
	require.Equal(t, 1, h.tracker.Len())
	require.True(t, fileExists(t, d.LocalPath))
}

func TestPollAllBatches(t *testing.T) {
	h := newHarness(t)
	var last PendingStorageDeal
	for i := 0; i < 25; i++ {
		last = h.propose(t)
	}
	require.Equal(t, 25, h.tracker.Len())
	require.Equal(t, int64(25), h.stats.Snapshot().StoragePending)

	h.node.SetDealState(last.ProposalCid, uint64(StorageDealError))
	h.tracker.PollAll(context.Background())
	require.Equal(t, 25, h.node.CallCount("DealStatus"))
	require.Equal(t, 24, h.tracker.Len())
	require.Equal(t, int64(24), h.stats.Snapshot().StoragePending)
}

func TestPollAllStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.propose(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.tracker.PollAll(ctx)
	require.Zero(t, h.node.CallCount("DealStatus"))
}

func TestPollAllPausesOnInjectedClock(t *testing.T) {
	h := newHarness(t)
	clk := testutil.NewStepClock()
	tr := NewTracker(TrackerConfig{DealTimeout: 24 * time.Hour, BatchSize: 1, Pause: time.Hour}, h.node, h.verifier, h.allowance, h.stats, h.reporter, clk)
	for i := 0; i < 3; i++ {
		d, err := h.proposer.Propose(context.Background(), h.provider)
		require.NoError(t, err)
		require.True(t, tr.Add(*d))
	}

	done := make(chan struct{})
	go func() {
		tr.PollAll(context.Background())
		close(done)
	}()

	for polled := 1; polled < 3; polled++ {
		clk.AwaitWait(t, time.Hour)
		require.Equal(t, polled, h.node.CallCount("DealStatus"))
		clk.Add(time.Hour)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("PollAll did not finish once the mock clock advanced")
	}
	require.Equal(t, 3, h.node.CallCount("DealStatus"))
	require.Equal(t, 3, tr.Len())
}

func TestAddIgnoresDuplicates(t *testing.T) {
	h := newHarness(t)
	d := h.propose(t)
	require.False(t, h.tracker.Add(d))
	require.Equal(t, 1, h.tracker.Len())

	list := h.tracker.List()
	require.Len(t, list, 1)
	require.Equal(t, d.ProposalCid, list[0].ProposalCid)
}

func TestProposeAskRefused(t *testing.T) {
	h := newHarness(t)
	h.node.Miner(h.provider).AskErr = xerrors.New("deal rejected: no asks configured")

	_, err := h.proposer.Propose(context.Background(), h.provider)
	require.ErrorIs(t, err, ErrAskRefused)
	require.Equal(t, "ClientQueryAsk failed : deal rejected: no asks configured", err.Error())

	entries, err := os.ReadDir(h.importDir)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Zero(t, h.node.CallCount("Import"))
}

func TestProposeUnreachableIsTransient(t *testing.T) {
	h := newHarness(t)
	// warm the miner info cache first so the failure comes from the ask
	_, err := h.proposer.Info.Get(context.Background(), h.provider)
	require.NoError(t, err)
	h.proposer.Info.(*providers.InfoCache).Wait()

	h.node.Unreachable = true
	_, err = h.proposer.Propose(context.Background(), h.provider)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAskRefused)
}

func TestProposeStartDealFailureCleansUp(t *testing.T) {
	h := newHarness(t)
	h.node.StartDealErr = xerrors.New("not enough funds")

	_, err := h.proposer.Propose(context.Background(), h.provider)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAskRefused)

	entries, err := os.ReadDir(h.importDir)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Empty(t, h.node.Deals())
}

func TestProposeCapsSizeToSector(t *testing.T) {
	h := newHarness(t)
	h.node.Miner(h.provider).SectorSize = filabi.SectorSize(2048)

	d, err := h.proposer.Propose(context.Background(), h.provider)
	require.NoError(t, err)
	require.Equal(t, int64(1024), d.SizeBytes)
	require.NotEqual(t, cid.Undef, d.ProposalCid)

	st, err := os.Stat(d.LocalPath)
	require.NoError(t, err)
	require.Equal(t, int64(1024), st.Size())
}
