package statusapi

import (
	"fmt"
	"time"

	"github.com/NewMai/QABot/apitypes"
	"github.com/NewMai/QABot/internal/lotusrpc"
	"github.com/NewMai/QABot/internal/orchestrator"
	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
)

func (s *Server) snapshot(c echo.Context) (*orchestrator.Snapshot, error) {
	snap := s.Snapshots.Snapshot()
	if snap == nil || snap.Cycle == 0 {
		return nil, retFail(c, apitypes.ErrStatusNotYetComputed, "the first cycle has not completed yet, try again shortly")
	}
	return snap, nil
}

func (s *Server) apiStatus(c echo.Context) error {
	snap, failed := s.snapshot(c)
	if snap == nil {
		return failed
	}

	ret := apitypes.ResponseStatus{
		Version:           snap.Version,
		Cycle:             snap.Cycle,
		CycleEndedAt:      snap.At.UTC(),
		Counters:          counters(snap),
		Providers:         providerSummaries(snap),
		PendingDeals:      make([]apitypes.PendingDeal, len(snap.PendingDeals)),
		PendingRetrievals: make([]apitypes.PendingRetrieval, len(snap.PendingRetrievals)),
		RecentFailures:    make([]apitypes.Failure, len(snap.RecentFailures)),
	}
	for i, d := range snap.PendingDeals {
		ret.PendingDeals[i] = apitypes.PendingDeal{
			ProposalCid:  d.ProposalCid.String(),
			DataCid:      d.DataCid.String(),
			Provider:     d.Provider.String(),
			SizeBytes:    d.SizeBytes,
			CreatedAt:    d.CreatedAt.UTC(),
			HoursPending: int(snap.At.Sub(d.CreatedAt) / time.Hour),
		}
	}
	for i, r := range snap.PendingRetrievals {
		ret.PendingRetrievals[i] = apitypes.PendingRetrieval{
			DataCid:   r.DataCid.String(),
			Provider:  r.Provider.String(),
			SizeBytes: r.SizeBytes,
			CreatedAt: r.CreatedAt.UTC(),
		}
	}
	for i, f := range snap.RecentFailures {
		ret.RecentFailures[i] = apitypes.Failure{
			TimeStamp: f.At.UTC(),
			Provider:  f.Provider.String(),
			Kind:      f.Kind,
			Error:     f.Message,
		}
	}

	return retPayloadAnnotated(c, snap.Cycle, ret, fmt.Sprintf(
		"qabot %s, cycle %d: %d storage deals pending, %d retrievals pending",
		snap.Version, snap.Cycle, len(snap.PendingDeals), len(snap.PendingRetrievals),
	))
}

func (s *Server) apiProviders(c echo.Context) error {
	snap, failed := s.snapshot(c)
	if snap == nil {
		return failed
	}

	ret := providerSummaries(snap)
	var exhausted int
	for _, p := range ret {
		if p.Allowance != nil && p.Allowance.Exhausted {
			exhausted++
		}
	}
	return retPayloadAnnotated(c, snap.Cycle, apitypes.ResponseProviders(ret), fmt.Sprintf(
		"%d providers known, %d of them with an exhausted daily allowance", len(ret), exhausted,
	))
}

func counters(snap *orchestrator.Snapshot) apitypes.Counters {
	c := snap.Counters
	return apitypes.Counters{
		StoragePending:     c.StoragePending,
		StorageSucceeded:   c.StorageSucceeded,
		StorageFailed:      c.StorageFailed,
		StorageTotal:       c.StorageTotal(),
		RetrievalPending:   c.RetrievalPending,
		RetrievalSucceeded: c.RetrievalSucceeded,
		RetrievalFailed:    c.RetrievalFailed,
		RetrievalTotal:     c.RetrievalTotal(),
	}
}

func providerSummaries(snap *orchestrator.Snapshot) []apitypes.ProviderSummary {
	out := make([]apitypes.ProviderSummary, len(snap.Providers))
	for i, p := range snap.Providers {
		out[i] = apitypes.ProviderSummary{
			Provider:     p.Address.String(),
			Capacity:     p.Capacity,
			SectorSize:   uint64(p.SectorSize),
			LastAskPrice: lotusrpc.FormatFIL(p.LastAskPrice) + " FIL",
			Reachable:    p.Reachable,
		}
		if p.PeerID != "" {
			pid := p.PeerID.String()
			out[i].PeerID = &pid
		}
		if p.HasAllowance {
			a := p.Allowance
			out[i].Allowance = &apitypes.Allowance{
				DailyAllowance:          a.DailyAllowance,
				DailyAllowanceHuman:     humanize.IBytes(uint64(a.DailyAllowance)),
				LastObservedCapacity:    a.LastObservedCapacity,
				OutstandingCount:        a.CurrentOutstandingCount,
				OutstandingVolume:       a.CurrentOutstandingVolume,
				LifetimeProposedCount:   a.LifetimeProposedCount,
				LifetimeProposedVolume:  a.LifetimeProposedVolume,
				LifetimeSucceededCount:  a.LifetimeSuccessCount,
				LifetimeSucceededVolume: a.LifetimeSuccessVolume,
				LastRecomputedAt:        a.LastRecomputedAt.UTC(),
				Exhausted:               a.Exhausted(),
			}
		}
	}
	return out
}
