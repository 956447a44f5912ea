package lotusrpc

import (
	"context"
	"errors"
	"net/http"

	filaddr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-jsonrpc"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/xerrors"
)

var log = logging.Logger("qabot/lotusrpc")

// FullNodeStruct lists the subset of the daemon's v0 API the bot talks to.
// Field names map 1:1 onto "Filecoin.<Name>" RPC methods.
type FullNodeStruct struct {
	Internal struct {
		StateMinerInfo       func(context.Context, filaddr.Address, TipSetKey) (MinerInfo, error)
		StateMinerPower      func(context.Context, filaddr.Address, TipSetKey) (*MinerPower, error)
		StateListMiners      func(context.Context, TipSetKey) ([]filaddr.Address, error)
		WalletDefaultAddress func(context.Context) (filaddr.Address, error)
		ClientQueryAsk       func(context.Context, peer.ID, filaddr.Address) (*SignedStorageAsk, error)
		ClientImport         func(context.Context, FileRef) (cid.Cid, error)
		ClientStartDeal      func(context.Context, *StartDealParams) (*cid.Cid, error)
		ClientGetDealInfo    func(context.Context, cid.Cid) (*DealInfo, error)
		ClientFindData       func(context.Context, cid.Cid) ([]QueryOffer, error)
		ClientRetrieve       func(context.Context, RetrievalOrder, *FileRef) error
	}
}

// Client wraps the raw RPC struct with the calls the bot makes
type Client struct {
	api    FullNodeStruct
	closer jsonrpc.ClientCloser
}

func NewClient(ctx context.Context, addr, token string) (*Client, error) {
	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}

	c := new(Client)
	closer, err := jsonrpc.NewMergeClient(ctx, addr, "Filecoin",
		[]interface{}{
			&c.api.Internal,
		},
		hdr,
	)
	if err != nil {
		return nil, xerrors.Errorf("connecting to lotus api %s: %w", addr, err)
	}
	c.closer = closer
	return c, nil
}

func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *Client) MinerInfo(ctx context.Context, maddr filaddr.Address) (MinerInfo, error) {
	return c.api.Internal.StateMinerInfo(ctx, maddr, nil)
}

func (c *Client) MinerPower(ctx context.Context, maddr filaddr.Address) (*MinerPower, error) {
	return c.api.Internal.StateMinerPower(ctx, maddr, nil)
}

func (c *Client) ListMiners(ctx context.Context) ([]filaddr.Address, error) {
	return c.api.Internal.StateListMiners(ctx, nil)
}

func (c *Client) DefaultWallet(ctx context.Context) (filaddr.Address, error) {
	return c.api.Internal.WalletDefaultAddress(ctx)
}

func (c *Client) QueryAsk(ctx context.Context, pid peer.ID, maddr filaddr.Address) (*StorageAsk, error) {
	sa, err := c.api.Internal.ClientQueryAsk(ctx, pid, maddr)
	if err != nil {
		return nil, err
	}
	if sa == nil || sa.Ask == nil {
		return nil, xerrors.Errorf("provider %s returned an empty ask", maddr)
	}
	return sa.Ask, nil
}

func (c *Client) Import(ctx context.Context, path string) (cid.Cid, error) {
	return c.api.Internal.ClientImport(ctx, FileRef{Path: path})
}

func (c *Client) StartDeal(ctx context.Context, params *StartDealParams) (cid.Cid, error) {
	pc, err := c.api.Internal.ClientStartDeal(ctx, params)
	if err != nil {
		return cid.Undef, err
	}
	if pc == nil {
		return cid.Undef, xerrors.New("node accepted the deal but returned no proposal cid")
	}
	return *pc, nil
}

// DealStatus returns nil info when the node has no usable status for the deal
func (c *Client) DealStatus(ctx context.Context, dealCid cid.Cid) (*DealInfo, error) {
	return c.api.Internal.ClientGetDealInfo(ctx, dealCid)
}

func (c *Client) FindRetrievalOffers(ctx context.Context, root cid.Cid) ([]QueryOffer, error) {
	return c.api.Internal.ClientFindData(ctx, root)
}

func (c *Client) Retrieve(ctx context.Context, order RetrievalOrder, outPath string) error {
	log.Debugw("retrieving", "root", order.Root, "miner", order.Miner, "out", outPath)
	return c.api.Internal.ClientRetrieve(ctx, order, &FileRef{Path: outPath})
}

// IsConnectionError tells apart "could not reach the node" from an error the
// node itself returned
func IsConnectionError(err error) bool {
	return errors.As(err, new(*jsonrpc.RPCConnectionError))
}
