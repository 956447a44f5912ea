package deals

import (
	"context"
	"errors"
	"time"

	"github.com/NewMai/QABot/internal/lotusrpc"
	"github.com/NewMai/QABot/internal/providers"
	"github.com/NewMai/QABot/internal/testfile"
	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	filaddr "github.com/filecoin-project/go-address"
	filbig "github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multihash"
	"golang.org/x/xerrors"
)

var log = logging.Logger("qabot/deals")

const (
	DefaultDealDuration = uint64(10000)
	DefaultFileSize     = int64(5 << 30)
)

// ErrAskRefused marks a provider that answered but declined the ask query
var ErrAskRefused = errors.New("ClientQueryAsk failed")

type AskRefusedError struct {
	Provider filaddr.Address
	Err      error
}

func (e *AskRefusedError) Error() string {
	return ErrAskRefused.Error() + " : " + e.Err.Error()
}

func (e *AskRefusedError) Unwrap() error        { return e.Err }
func (e *AskRefusedError) Is(target error) bool { return target == ErrAskRefused }

// PendingStorageDeal is a proposal the node accepted, awaiting a terminal state
type PendingStorageDeal struct {
	ProposalCid cid.Cid
	DataCid     cid.Cid
	Provider    filaddr.Address
	PeerID      peer.ID
	LocalPath   string
	ContentHash multihash.Multihash
	SizeBytes   int64
	EpochPrice  filbig.Int
	CreatedAt   time.Time

	localFileDropped bool
}

// MinerInfoSource is satisfied by *providers.InfoCache
type MinerInfoSource interface {
	Get(ctx context.Context, maddr filaddr.Address) (providers.MinerDetails, error)
}

type Proposer struct {
	Node     lotusrpc.Node
	Info     MinerInfoSource
	Files    *testfile.Generator
	FileSize int64
	Duration uint64
	Clock    clock.Clock
}

// Propose walks a provider through minerInfo, a live ask query, test file
// generation, import and deal start. An *AskRefusedError is a definitive
// rejection; any other error is transient and leaves nothing behind.
func (p *Proposer) Propose(ctx context.Context, provider filaddr.Address) (*PendingStorageDeal, error) {
	log.Infow("storage deal", "provider", provider)

	md, err := p.Info.Get(ctx, provider)
	if err != nil {
		return nil, err
	}

	ask, err := p.Node.QueryAsk(ctx, md.PeerID, provider)
	if err != nil {
		if lotusrpc.IsConnectionError(err) || ctx.Err() != nil {
			return nil, xerrors.Errorf("query ask of %s: %w", provider, err)
		}
		return nil, &AskRefusedError{Provider: provider, Err: err}
	}

	size := p.FileSize
	if size <= 0 {
		size = DefaultFileSize
	}
	size = testfile.SizeForSector(size, md.SectorSize)

	path, hash, err := p.Files.Generate(ctx, size)
	if err != nil {
		return nil, xerrors.Errorf("generating test file: %w", err)
	}

	deal, err := p.startDeal(ctx, provider, md.PeerID, ask.Price, path, hash, size)
	if err != nil {
		testfile.Remove(path)
		return nil, err
	}
	return deal, nil
}

func (p *Proposer) startDeal(ctx context.Context, provider filaddr.Address, pid peer.ID, price filbig.Int, path string, hash multihash.Multihash, size int64) (*PendingStorageDeal, error) {
	root, err := p.Node.Import(ctx, path)
	if err != nil {
		return nil, xerrors.Errorf("importing %s: %w", path, err)
	}
	log.Infow("imported", "dataCid", root, "path", path)

	wallet, err := p.Node.DefaultWallet(ctx)
	if err != nil {
		return nil, xerrors.Errorf("default wallet: %w", err)
	}

	duration := p.Duration
	if duration == 0 {
		duration = DefaultDealDuration
	}

	proposal, err := p.Node.StartDeal(ctx, &lotusrpc.StartDealParams{
		Data: &lotusrpc.DataRef{
			TransferType: lotusrpc.TTGraphsync,
			Root:         root,
		},
		Wallet:            wallet,
		Miner:             provider,
		EpochPrice:        price,
		MinBlocksDuration: duration,
	})
	if err != nil {
		return nil, xerrors.Errorf("starting deal with %s: %w", provider, err)
	}

	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}

	log.Infow("deal started",
		"provider", provider,
		"proposalCid", proposal,
		"dataCid", root,
		"size", humanize.IBytes(uint64(size)),
		"price", lotusrpc.FormatFIL(price),
	)

	return &PendingStorageDeal{
		ProposalCid: proposal,
		DataCid:     root,
		Provider:    provider,
		PeerID:      pid,
		LocalPath:   path,
		ContentHash: hash,
		SizeBytes:   size,
		EpochPrice:  price,
		CreatedAt:   clk.Now(),
	}, nil
}
