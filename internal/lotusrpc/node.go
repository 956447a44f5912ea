package lotusrpc

import (
	"context"

	filaddr "github.com/filecoin-project/go-address"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Node is the RPC surface consumed by the bot. Both the JSON-RPC Client and
// the CLI-driven CmdClient satisfy it.
type Node interface {
	MinerInfo(ctx context.Context, maddr filaddr.Address) (MinerInfo, error)
	MinerPower(ctx context.Context, maddr filaddr.Address) (*MinerPower, error)
	ListMiners(ctx context.Context) ([]filaddr.Address, error)
	DefaultWallet(ctx context.Context) (filaddr.Address, error)
	QueryAsk(ctx context.Context, pid peer.ID, maddr filaddr.Address) (*StorageAsk, error)
	Import(ctx context.Context, path string) (cid.Cid, error)
	StartDeal(ctx context.Context, params *StartDealParams) (cid.Cid, error)
	DealStatus(ctx context.Context, dealCid cid.Cid) (*DealInfo, error)
	FindRetrievalOffers(ctx context.Context, root cid.Cid) ([]QueryOffer, error)
	Retrieve(ctx context.Context, order RetrievalOrder, outPath string) error
}

var (
	_ Node = (*Client)(nil)
	_ Node = (*CmdClient)(nil)
)
