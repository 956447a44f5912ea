package providers

import (
	"context"
	"time"

	"github.com/NewMai/QABot/internal/lotusrpc"
	"github.com/dgraph-io/ristretto"
	filaddr "github.com/filecoin-project/go-address"
	filabi "github.com/filecoin-project/go-state-types/abi"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"golang.org/x/xerrors"
)

const DefaultInfoTTL = 10 * time.Minute

// MinerDetails is the part of the on-chain miner info the bot needs to reach
// a provider
type MinerDetails struct {
	PeerID     peer.ID
	SectorSize filabi.SectorSize
	Multiaddrs []multiaddr.Multiaddr
}

// InfoCache fronts minerInfo lookups with a TTL cache shared by the ask
// refresh, proposal and listing paths
type InfoCache struct {
	node  lotusrpc.Node
	cache *ristretto.Cache
	ttl   time.Duration
}

func NewInfoCache(node lotusrpc.Node, ttl time.Duration) (*InfoCache, error) {
	if ttl <= 0 {
		ttl = DefaultInfoTTL
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 17,
		MaxCost:     1 << 15,
		BufferItems: 64,
	})
	if err != nil {
		return nil, xerrors.Errorf("creating miner info cache: %w", err)
	}
	return &InfoCache{node: node, cache: c, ttl: ttl}, nil
}

// Get returns cached details, falling back to the node on a miss. Providers
// without a peer id are an error: there is no way to talk to them.
func (ic *InfoCache) Get(ctx context.Context, maddr filaddr.Address) (MinerDetails, error) {
	key := maddr.String()
	if v, found := ic.cache.Get(key); found {
		return v.(MinerDetails), nil
	}

	mi, err := ic.node.MinerInfo(ctx, maddr)
	if err != nil {
		return MinerDetails{}, xerrors.Errorf("minerInfo of %s: %w", maddr, err)
	}
	if mi.PeerId == nil || *mi.PeerId == "" {
		return MinerDetails{}, xerrors.Errorf("provider %s has no peer id on chain", maddr)
	}

	md := MinerDetails{
		PeerID:     *mi.PeerId,
		SectorSize: mi.SectorSize,
		Multiaddrs: make([]multiaddr.Multiaddr, 0, len(mi.Multiaddrs)),
	}
	for _, raw := range mi.Multiaddrs {
		ma, err := multiaddr.NewMultiaddrBytes(raw)
		if err != nil {
			log.Debugw("ignoring invalid multiaddr", "provider", maddr, "error", err)
			continue
		}
		md.Multiaddrs = append(md.Multiaddrs, ma)
	}

	ic.cache.SetWithTTL(key, md, 1, ic.ttl)
	log.Debugw("resolved miner info",
		"provider", maddr,
		"peerID", md.PeerID,
		"sectorSize", md.SectorSize.ShortString(),
	)
	return md, nil
}

// Wait blocks until pending cache writes are visible
func (ic *InfoCache) Wait() { ic.cache.Wait() }

func (ic *InfoCache) Close() { ic.cache.Close() }
