package lotusrpc

import (
	filaddr "github.com/filecoin-project/go-address"
	filabi "github.com/filecoin-project/go-state-types/abi"
	filbig "github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
)

// TipSetKey is sent as null, which the node resolves to its heaviest tipset
type TipSetKey []cid.Cid

type FileRef struct {
	Path  string
	IsCAR bool
}

// DataRef describes how the payload of a storage deal reaches the provider
type DataRef struct {
	TransferType string
	Root         cid.Cid
	PieceCid     *cid.Cid
	PieceSize    filabi.UnpaddedPieceSize
}

const TTGraphsync = "graphsync"

type StartDealParams struct {
	Data              *DataRef
	Wallet            filaddr.Address
	Miner             filaddr.Address
	EpochPrice        filbig.Int
	MinBlocksDuration uint64
	DealStartEpoch    filabi.ChainEpoch
}

// DealInfo is the client-side view of a proposed deal. State carries the
// storage-market numeric status.
type DealInfo struct {
	ProposalCid cid.Cid
	State       uint64
	Message     string
	Provider    filaddr.Address
	PieceCID    cid.Cid
	Size        uint64
	DealID      filabi.DealID
}

type MinerInfo struct {
	Owner      filaddr.Address
	Worker     filaddr.Address
	PeerId     *peer.ID //nolint:revive
	Multiaddrs []filabi.Multiaddrs
	SectorSize filabi.SectorSize
}

type Claim struct {
	RawBytePower    filabi.StoragePower
	QualityAdjPower filabi.StoragePower
}

type MinerPower struct {
	MinerPower  Claim
	TotalPower  Claim
	HasMinPower bool
}

type StorageAsk struct {
	Price         filbig.Int
	VerifiedPrice filbig.Int
	MinPieceSize  filabi.PaddedPieceSize
	MaxPieceSize  filabi.PaddedPieceSize
	Miner         filaddr.Address
	Timestamp     filabi.ChainEpoch
	Expiry        filabi.ChainEpoch
	SeqNo         uint64
}

type SignedStorageAsk struct {
	Ask *StorageAsk
}

// QueryOffer is a retrieval offer; a non-empty Err means the provider could
// not serve the query.
type QueryOffer struct {
	Err                     string
	Root                    cid.Cid
	Size                    uint64
	MinPrice                filbig.Int
	PaymentInterval         uint64
	PaymentIntervalIncrease uint64
	Miner                   filaddr.Address
	MinerPeerID             peer.ID
}

func (o *QueryOffer) Order(client filaddr.Address) RetrievalOrder {
	return RetrievalOrder{
		Root:                    o.Root,
		Size:                    o.Size,
		Total:                   o.MinPrice,
		PaymentInterval:         o.PaymentInterval,
		PaymentIntervalIncrease: o.PaymentIntervalIncrease,
		Client:                  client,
		Miner:                   o.Miner,
		MinerPeerID:             o.MinerPeerID,
	}
}

type RetrievalOrder struct {
	Root                    cid.Cid
	Size                    uint64
	Total                   filbig.Int
	PaymentInterval         uint64
	PaymentIntervalIncrease uint64
	Client                  filaddr.Address
	Miner                   filaddr.Address
	MinerPeerID             peer.ID
}
