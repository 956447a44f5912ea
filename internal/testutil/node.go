package testutil

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/NewMai/QABot/internal/lotusrpc"
	filaddr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-jsonrpc"
	filabi "github.com/filecoin-project/go-state-types/abi"
	filbig "github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

// StateValidating is the numeric state freshly started deals report
const StateValidating = uint64(11)

// FakeMiner is the chain and ask state of a provider on a FakeNode
type FakeMiner struct {
	PeerID     peer.ID
	SectorSize filabi.SectorSize
	Power      int64
	AskPrice   filbig.Int
	AskErr     error
}

// FakeNode is an in-memory lotusrpc.Node. Imported payloads are kept in
// memory so that retrievals can serve them back after the local file is gone.
type FakeNode struct {
	mu sync.Mutex

	Wallet filaddr.Address
	Miners map[filaddr.Address]*FakeMiner

	ImportErr    error
	StartDealErr error
	StatusErr    error
	RetrieveErr  error
	// Unreachable makes every call fail with a connection error
	Unreachable bool
	// NoOffers hides all retrieval offers
	NoOffers bool
	// CorruptRetrievals flips a byte in every retrieved payload
	CorruptRetrievals bool
	// RetrieveBlock, when set, stalls Retrieve until closed or ctx is done
	RetrieveBlock chan struct{}

	payloads map[cid.Cid][]byte
	deals    map[cid.Cid]*lotusrpc.DealInfo
	dealSeq  int

	Calls map[string]int
}

func NewFakeNode(t testing.TB) *FakeNode {
	w, err := filaddr.NewIDAddress(99)
	require.NoError(t, err)
	return &FakeNode{
		Wallet:   w,
		Miners:   make(map[filaddr.Address]*FakeMiner),
		payloads: make(map[cid.Cid][]byte),
		deals:    make(map[cid.Cid]*lotusrpc.DealInfo),
		Calls:    make(map[string]int),
	}
}

// AddMiner registers a reachable miner with a 1 attoFIL ask
func (n *FakeNode) AddMiner(t testing.TB, id uint64, power int64) filaddr.Address {
	a, err := filaddr.NewIDAddress(id)
	require.NoError(t, err)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Miners[a] = &FakeMiner{
		PeerID:     peer.ID(fmt.Sprintf("peer-%d", id)),
		SectorSize: filabi.SectorSize(32 << 30),
		Power:      power,
		AskPrice:   filbig.NewInt(1),
	}
	return a
}

func (n *FakeNode) Miner(a filaddr.Address) *FakeMiner {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Miners[a]
}

func (n *FakeNode) CallCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Calls[method]
}

// SetDealState changes the state the node reports for a proposal
func (n *FakeNode) SetDealState(proposal cid.Cid, state uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if di, ok := n.deals[proposal]; ok {
		di.State = state
	}
}

func (n *FakeNode) Deals() []cid.Cid {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]cid.Cid, 0, len(n.deals))
	for c := range n.deals {
		out = append(out, c)
	}
	return out
}

func (n *FakeNode) enter(method string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Calls[method]++
	if n.Unreachable {
		return &jsonrpc.RPCConnectionError{}
	}
	return nil
}

func (n *FakeNode) MinerInfo(_ context.Context, maddr filaddr.Address) (lotusrpc.MinerInfo, error) {
	if err := n.enter("MinerInfo"); err != nil {
		return lotusrpc.MinerInfo{}, err
	}
	m := n.Miner(maddr)
	if m == nil {
		return lotusrpc.MinerInfo{}, xerrors.Errorf("actor %s not found", maddr)
	}
	pid := m.PeerID
	return lotusrpc.MinerInfo{PeerId: &pid, SectorSize: m.SectorSize}, nil
}

func (n *FakeNode) MinerPower(_ context.Context, maddr filaddr.Address) (*lotusrpc.MinerPower, error) {
	if err := n.enter("MinerPower"); err != nil {
		return nil, err
	}
	m := n.Miner(maddr)
	if m == nil {
		return nil, xerrors.Errorf("actor %s not found", maddr)
	}
	p := filbig.NewInt(m.Power)
	return &lotusrpc.MinerPower{MinerPower: lotusrpc.Claim{RawBytePower: p, QualityAdjPower: p}}, nil
}

func (n *FakeNode) ListMiners(_ context.Context) ([]filaddr.Address, error) {
	if err := n.enter("ListMiners"); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]filaddr.Address, 0, len(n.Miners))
	for a := range n.Miners {
		out = append(out, a)
	}
	return out, nil
}

func (n *FakeNode) DefaultWallet(_ context.Context) (filaddr.Address, error) {
	if err := n.enter("DefaultWallet"); err != nil {
		return filaddr.Undef, err
	}
	return n.Wallet, nil
}

func (n *FakeNode) QueryAsk(_ context.Context, pid peer.ID, maddr filaddr.Address) (*lotusrpc.StorageAsk, error) {
	if err := n.enter("QueryAsk"); err != nil {
		return nil, err
	}
	m := n.Miner(maddr)
	if m == nil || m.PeerID != pid {
		return nil, xerrors.Errorf("failed to open stream to peer %s", pid)
	}
	if m.AskErr != nil {
		return nil, m.AskErr
	}
	return &lotusrpc.StorageAsk{Price: m.AskPrice, Miner: maddr}, nil
}

func (n *FakeNode) Import(_ context.Context, path string) (cid.Cid, error) {
	if err := n.enter("Import"); err != nil {
		return cid.Undef, err
	}
	if n.ImportErr != nil {
		return cid.Undef, n.ImportErr
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cid.Undef, err
	}
	mh, err := multihash.Sum(b, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	root := cid.NewCidV1(cid.Raw, mh)

	n.mu.Lock()
	n.payloads[root] = b
	n.mu.Unlock()
	return root, nil
}

func (n *FakeNode) StartDeal(_ context.Context, params *lotusrpc.StartDealParams) (cid.Cid, error) {
	if err := n.enter("StartDeal"); err != nil {
		return cid.Undef, err
	}
	if n.StartDealErr != nil {
		return cid.Undef, n.StartDealErr
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.payloads[params.Data.Root]; !ok {
		return cid.Undef, xerrors.Errorf("no imported data for root %s", params.Data.Root)
	}
	n.dealSeq++
	mh, err := multihash.Sum([]byte(fmt.Sprintf("proposal-%d-%s", n.dealSeq, params.Miner)), multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	pc := cid.NewCidV1(cid.DagCBOR, mh)
	n.deals[pc] = &lotusrpc.DealInfo{
		ProposalCid: pc,
		State:       StateValidating,
		Provider:    params.Miner,
	}
	return pc, nil
}

func (n *FakeNode) DealStatus(_ context.Context, dealCid cid.Cid) (*lotusrpc.DealInfo, error) {
	if err := n.enter("DealStatus"); err != nil {
		return nil, err
	}
	if n.StatusErr != nil {
		return nil, n.StatusErr
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	di, ok := n.deals[dealCid]
	if !ok {
		return nil, nil
	}
	cp := *di
	return &cp, nil
}

func (n *FakeNode) FindRetrievalOffers(_ context.Context, root cid.Cid) ([]lotusrpc.QueryOffer, error) {
	if err := n.enter("FindRetrievalOffers"); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	b, ok := n.payloads[root]
	if !ok || n.NoOffers {
		return nil, nil
	}
	return []lotusrpc.QueryOffer{
		{Err: "provider unreachable", Root: root},
		{Root: root, Size: uint64(len(b)), MinPrice: filbig.Zero()},
	}, nil
}

func (n *FakeNode) Retrieve(ctx context.Context, order lotusrpc.RetrievalOrder, outPath string) error {
	if err := n.enter("Retrieve"); err != nil {
		return err
	}
	if n.RetrieveBlock != nil {
		select {
		case <-n.RetrieveBlock:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if n.RetrieveErr != nil {
		return n.RetrieveErr
	}

	n.mu.Lock()
	b, ok := n.payloads[order.Root]
	corrupt := n.CorruptRetrievals
	n.mu.Unlock()
	if !ok {
		return xerrors.Errorf("no data for root %s", order.Root)
	}

	out := append([]byte(nil), b...)
	if corrupt && len(out) > 0 {
		out[rand.Intn(len(out))] ^= 0xff //nolint:gosec
	}
	return os.WriteFile(outPath, out, 0o644)
}

var _ lotusrpc.Node = (*FakeNode)(nil)

// Eventually polls cond until it holds or the deadline passes
func Eventually(t testing.TB, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond)
}
