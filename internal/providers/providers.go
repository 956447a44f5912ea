package providers

import (
	"context"

	filaddr "github.com/filecoin-project/go-address"
	filabi "github.com/filecoin-project/go-state-types/abi"
	filbig "github.com/filecoin-project/go-state-types/big"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
)

var log = logging.Logger("qabot/providers")

// Provider is a storage provider as last seen by the bot. Capacity is the
// quality-adjusted power reported by the listing source.
type Provider struct {
	Address      filaddr.Address
	PeerID       peer.ID
	Capacity     int64
	SectorSize   filabi.SectorSize
	LastAskPrice filbig.Int
	Reachable    bool
}

// Source lists the providers the bot should work with
type Source interface {
	ListProviders(ctx context.Context) ([]Provider, error)
}

// Registry holds the current provider list in listing order. Like the rest of
// the core state it is owned by the orchestrator loop.
type Registry struct {
	list []Provider
	idx  map[filaddr.Address]int
}

func NewRegistry() *Registry {
	return &Registry{idx: make(map[filaddr.Address]int)}
}

// Replace swaps in a new listing, carrying over peer/ask details learned for
// providers that are still present. An empty listing is ignored so that a
// failed refresh never wipes the known set.
func (r *Registry) Replace(list []Provider) bool {
	if len(list) == 0 {
		return false
	}

	next := make([]Provider, 0, len(list))
	idx := make(map[filaddr.Address]int, len(list))
	for _, p := range list {
		if _, dup := idx[p.Address]; dup {
			continue
		}
		if i, known := r.idx[p.Address]; known {
			prev := r.list[i]
			if p.PeerID == "" {
				p.PeerID = prev.PeerID
			}
			if p.SectorSize == 0 {
				p.SectorSize = prev.SectorSize
			}
			if p.LastAskPrice.Int == nil {
				p.LastAskPrice = prev.LastAskPrice
				p.Reachable = prev.Reachable
			}
		}
		idx[p.Address] = len(next)
		next = append(next, p)
	}

	r.list = next
	r.idx = idx
	return true
}

// List returns a copy of the providers in listing order
func (r *Registry) List() []Provider {
	out := make([]Provider, len(r.list))
	copy(out, r.list)
	return out
}

func (r *Registry) Get(addr filaddr.Address) (Provider, bool) {
	i, known := r.idx[addr]
	if !known {
		return Provider{}, false
	}
	return r.list[i], true
}

// Update applies fn to the stored provider, if present
func (r *Registry) Update(addr filaddr.Address, fn func(*Provider)) bool {
	i, known := r.idx[addr]
	if !known {
		return false
	}
	fn(&r.list[i])
	return true
}

func (r *Registry) Len() int { return len(r.list) }
