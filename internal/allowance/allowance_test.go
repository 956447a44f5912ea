package allowance

import (
	"bufio"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	filaddr "github.com/filecoin-project/go-address"
	logging "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/require"
)

func mustAddr(t *testing.T, id uint64) filaddr.Address {
	a, err := filaddr.NewIDAddress(id)
	require.NoError(t, err)
	return a
}

func newTestTracker(minRate, maxRate int64) (*Tracker, *clock.Mock) {
	clk := clock.NewMock()
	return NewTracker(Config{MinDailyRate: minRate, MaxDailyRate: maxRate, Window: 24 * time.Hour}, clk), clk
}

func TestNewProviderStartsAtFloor(t *testing.T) {
	tr, _ := newTestTracker(10, 1000)
	p := mustAddr(t, 1000)

	require.False(t, tr.Recompute(p, 100))

	r, ok := tr.Get(p)
	require.True(t, ok)
	require.Equal(t, int64(10), r.DailyAllowance)
	require.Equal(t, int64(100), r.LastObservedCapacity)
	require.Zero(t, r.CurrentOutstandingCount)
	require.Zero(t, r.CurrentOutstandingVolume)
	require.Zero(t, r.LifetimeProposedVolume)
}

func TestNewProviderIsLogged(t *testing.T) {
	require.NoError(t, logging.SetLogLevel("qabot/allowance", "info"))
	t.Cleanup(func() { _ = logging.SetLogLevel("qabot/allowance", "error") })

	pr := logging.NewPipeReader()
	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(pr)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	tr, _ := newTestTracker(10, 1000)
	p := mustAddr(t, 1000)
	tr.Recompute(p, 100)
	require.NoError(t, pr.Close())

	var logged []string
	for l := range lines {
		logged = append(logged, l)
	}
	require.Len(t, logged, 1)
	require.Contains(t, logged[0], "new provider, daily rate at floor")
	require.Contains(t, logged[0], p.String())
	require.Contains(t, logged[0], `"dailyRate":"10 B"`)
}

func TestCapacityGrowthScenario(t *testing.T) {
	tr, clk := newTestTracker(10, 1000)
	p := mustAddr(t, 1001)

	tr.Recompute(p, 100)
	clk.Add(24 * time.Hour)
	require.True(t, tr.Recompute(p, 140))

	r, _ := tr.Get(p)
	require.Equal(t, int64(20), r.DailyAllowance)
	require.Equal(t, int64(140), r.LastObservedCapacity)
}

func TestRecomputeAtMostOncePerWindow(t *testing.T) {
	tr, clk := newTestTracker(10, 1000)
	p := mustAddr(t, 1002)

	tr.Recompute(p, 100)
	clk.Add(24 * time.Hour)
	require.True(t, tr.Recompute(p, 300))

	// still inside the new window: nothing changes
	clk.Add(23 * time.Hour)
	require.False(t, tr.Recompute(p, 900))
	r, _ := tr.Get(p)
	require.Equal(t, int64(100), r.DailyAllowance)
	require.Equal(t, int64(300), r.LastObservedCapacity)

	clk.Add(time.Hour)
	require.True(t, tr.Recompute(p, 900))
	r, _ = tr.Get(p)
	require.Equal(t, int64(300), r.DailyAllowance)
}

func TestAllowanceAlwaysWithinBounds(t *testing.T) {
	tr, clk := newTestTracker(10, 50)
	p := mustAddr(t, 1003)

	for _, capacity := range []int64{100, 90, 1000, 1000, 5000, 0, 12} {
		tr.Recompute(p, capacity)
		r, _ := tr.Get(p)
		require.GreaterOrEqual(t, r.DailyAllowance, int64(10))
		require.LessOrEqual(t, r.DailyAllowance, int64(50))
		clk.Add(25 * time.Hour)
	}
}

func TestRecomputeResetsWindowCounters(t *testing.T) {
	tr, clk := newTestTracker(10, 1000)
	p := mustAddr(t, 1004)

	tr.Recompute(p, 100)
	tr.RecordProposal(p, 7)
	tr.RecordProposal(p, 5)
	tr.RecordSuccess(p, 7)

	r, _ := tr.Get(p)
	require.Equal(t, int64(2), r.CurrentOutstandingCount)
	require.Equal(t, int64(12), r.CurrentOutstandingVolume)
	require.True(t, r.Exhausted())

	clk.Add(24 * time.Hour)
	tr.Recompute(p, 100)

	r, _ = tr.Get(p)
	require.Zero(t, r.CurrentOutstandingCount)
	require.Zero(t, r.CurrentOutstandingVolume)
	require.Equal(t, int64(2), r.LifetimeProposedCount)
	require.Equal(t, int64(12), r.LifetimeProposedVolume)
	require.Equal(t, int64(1), r.LifetimeSuccessCount)
	require.Equal(t, int64(7), r.LifetimeSuccessVolume)
	require.False(t, r.Exhausted())
}

func TestCountersIgnoreUnknownProviders(t *testing.T) {
	tr, _ := newTestTracker(10, 1000)
	p := mustAddr(t, 1005)

	tr.RecordProposal(p, 10)
	tr.RecordSuccess(p, 10)
	_, ok := tr.Get(p)
	require.False(t, ok)
	require.Empty(t, tr.Active())
}

func TestActiveOrdering(t *testing.T) {
	tr, _ := newTestTracker(10, 1000)
	a, b, c := mustAddr(t, 3), mustAddr(t, 1), mustAddr(t, 2)
	for _, p := range []filaddr.Address{a, b, c} {
		tr.Recompute(p, 0)
	}
	tr.RecordProposal(a, 1)
	tr.RecordProposal(b, 1)

	act := tr.Active()
	require.Len(t, act, 2)
	require.Equal(t, b, act[0].Provider)
	require.Equal(t, a, act[1].Provider)
}
