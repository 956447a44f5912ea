package admission

import (
	"github.com/NewMai/QABot/internal/allowance"
	"github.com/NewMai/QABot/internal/providers"
	"github.com/dustin/go-humanize"
	filaddr "github.com/filecoin-project/go-address"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("qabot/admission")

const DefaultMaxPending = 100

// AllowanceLookup is satisfied by *allowance.Tracker
type AllowanceLookup interface {
	Get(provider filaddr.Address) (allowance.Record, bool)
}

// Controller gates proposals per cycle: the total number of pending storage
// deals never exceeds MaxPending, and a provider whose window budget is used
// up is skipped.
type Controller struct {
	MaxPending int
}

// SelectProvidersForProposal returns, in list order, the providers to
// propose to this cycle. At most MaxPending-pendingCount providers are
// admitted, the rest wait for a later cycle.
func (c *Controller) SelectProvidersForProposal(list []providers.Provider, lookup AllowanceLookup, pendingCount int) []providers.Provider {
	maxPending := c.MaxPending
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}

	free := maxPending - pendingCount
	if free <= 0 {
		log.Infow("pending storage deals at capacity", "pending", pendingCount, "max", maxPending)
		return nil
	}

	out := make([]providers.Provider, 0, free)
	for _, p := range list {
		if len(out) >= free {
			break
		}
		if rec, known := lookup.Get(p.Address); known && rec.Exhausted() {
			log.Infow("daily rate reached",
				"provider", p.Address,
				"dailyRate", humanize.IBytes(uint64(rec.DailyAllowance)),
				"outstanding", humanize.IBytes(uint64(rec.CurrentOutstandingVolume)),
			)
			continue
		}
		out = append(out, p)
	}
	return out
}
