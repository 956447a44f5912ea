package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/NewMai/QABot/internal/allowance"
	"github.com/benbjohnson/clock"
	filaddr "github.com/filecoin-project/go-address"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu   sync.Mutex
	seen []Snapshot
}

func (s *recordingSink) Publish(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, snap)
}

func TestCountersAndSink(t *testing.T) {
	sink := &recordingSink{}
	a := New(sink, clock.NewMock())
	p, err := filaddr.NewIDAddress(1000)
	require.NoError(t, err)

	a.SetStoragePending(3)
	a.StorageSucceeded()
	a.StorageFailed(p, "state StorageDealError")
	a.RetrievalSucceeded()
	a.RetrievalFailed(p, "hash check failed")

	s := a.Snapshot()
	require.Equal(t, Snapshot{
		StoragePending:     3,
		StorageSucceeded:   1,
		StorageFailed:      1,
		RetrievalSucceeded: 1,
		RetrievalFailed:    1,
	}, s)
	require.Equal(t, int64(5), s.StorageTotal())
	require.Equal(t, int64(2), s.RetrievalTotal())

	require.Len(t, sink.seen, 5)
	require.Equal(t, s, sink.seen[4])
}

func TestRecentFailuresNewestFirst(t *testing.T) {
	clk := clock.NewMock()
	a := New(nil, clk)
	p, err := filaddr.NewIDAddress(1000)
	require.NoError(t, err)

	for i := 0; i < RecentFailuresKept+10; i++ {
		clk.Add(time.Second)
		a.StorageFailed(p, "timeout in state: StorageDealValidating")
	}
	a.RetrievalFailed(p, "retrieve deal timeout")

	rf := a.RecentFailures()
	require.Len(t, rf, RecentFailuresKept)
	require.Equal(t, "retrieval", rf[0].Kind)
	require.Equal(t, "retrieve deal timeout", rf[0].Message)
	require.True(t, rf[1].At.After(rf[2].At))
}

func TestReportDoesNotPanic(t *testing.T) {
	a := New(nil, nil)
	p, err := filaddr.NewIDAddress(1000)
	require.NoError(t, err)

	a.Report("v0.0.0", []allowance.Entry{{
		Provider: p,
		Record:   allowance.Record{DailyAllowance: 1 << 30, LifetimeProposedCount: 1, LifetimeProposedVolume: 1 << 20},
	}})
}
