package lotusrpc

import (
	"bytes"
	"context"
	"math/big"
	"strconv"
	"strings"
	"syscall"

	"github.com/codeskyblue/go-sh"
	filbig "github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"
)

// CmdClient routes deal proposals and retrievals through the `lotus` binary
// instead of the RPC API. Every other call still goes over RPC.
type CmdClient struct {
	*Client
	Binary string
}

func NewCmdClient(c *Client, binary string) *CmdClient {
	if binary == "" {
		binary = "lotus"
	}
	return &CmdClient{Client: c, Binary: binary}
}

func (c *CmdClient) StartDeal(ctx context.Context, params *StartDealParams) (cid.Cid, error) {
	if params.Data == nil {
		return cid.Undef, xerrors.New("deal params carry no data reference")
	}

	args := []interface{}{
		"client", "deal",
		params.Data.Root.String(),
		params.Miner.String(),
		FormatFIL(params.EpochPrice),
		strconv.FormatUint(params.MinBlocksDuration, 10),
	}
	log.Infow("lotus client deal", "args", args)

	out, err := c.output(ctx, args...)
	if err != nil {
		return cid.Undef, xerrors.Errorf("lotus client deal: %w", err)
	}

	dealCid, err := cid.Decode(removeLineBreaks(string(out)))
	if err != nil {
		return cid.Undef, xerrors.Errorf("unexpected lotus client deal output %q: %w", out, err)
	}
	return dealCid, nil
}

func (c *CmdClient) Retrieve(ctx context.Context, order RetrievalOrder, outPath string) error {
	out, err := c.output(ctx, "client", "retrieve", order.Root.String(), outPath)
	if err != nil {
		return xerrors.Errorf("lotus client retrieve: %w", err)
	}
	log.Infow("lotus client retrieve", "root", order.Root, "output", removeLineBreaks(string(out)))
	return nil
}

// output runs the binary and returns its stdout. The process is killed as
// soon as ctx is done.
func (c *CmdClient) output(ctx context.Context, args ...interface{}) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var stdout bytes.Buffer
	s := sh.Command(c.Binary, args...)
	s.Stdout = &stdout
	if err := s.Start(); err != nil {
		return nil, err
	}

	select {
	case err := <-sh.Go(s.Wait):
		return stdout.Bytes(), err
	case <-ctx.Done():
		s.Kill(syscall.SIGKILL)
		return nil, ctx.Err()
	}
}

var attoPerFIL = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// FormatFIL renders an attoFIL amount as a decimal FIL string, the unit the
// lotus CLI expects prices in
func FormatFIL(atto filbig.Int) string {
	if atto.Int == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(atto.Int, attoPerFIL)
	s := strings.TrimRight(r.FloatString(18), "0")
	return strings.TrimSuffix(s, ".")
}

func removeLineBreaks(s string) string {
	return strings.NewReplacer("\r\n", "", "\n", "", "\r", "").Replace(s)
}
