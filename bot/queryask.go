package main

import (
	"fmt"

	"github.com/NewMai/QABot/internal/app"
	"github.com/NewMai/QABot/internal/lotusrpc"
	"github.com/NewMai/QABot/internal/providers"
	"github.com/dustin/go-humanize"
	"github.com/ribasushi/go-toolbox-interplanetary/fil"
	"github.com/ribasushi/go-toolbox/cmn"
	"github.com/ribasushi/go-toolbox/ufcli"
	"golang.org/x/xerrors"
)

var queryAsk = &ufcli.Command{
	Usage:     "Query the storage ask of a single provider",
	Name:      "query-ask",
	ArgsUsage: "<provider id>",
	Action: func(cctx *ufcli.Context) error {
		ctx, _, _, gctx := app.UnpackCtx(cctx.Context)

		if cctx.Args().Len() != 1 {
			return xerrors.New("expected exactly one provider id")
		}
		aid, err := fil.ParseActorString(cctx.Args().First())
		if err != nil {
			return cmn.WrErr(err)
		}
		maddr := aid.AsFilAddr()

		ic, err := providers.NewInfoCache(gctx.Lotus, providers.DefaultInfoTTL)
		if err != nil {
			return cmn.WrErr(err)
		}
		defer ic.Close()

		md, err := ic.Get(ctx, maddr)
		if err != nil {
			return cmn.WrErr(err)
		}
		ask, err := gctx.Lotus.QueryAsk(ctx, md.PeerID, maddr)
		if err != nil {
			return xerrors.Errorf("ClientQueryAsk failed : %w", err)
		}

		fmt.Printf("Provider:       %s\n", maddr)
		fmt.Printf("PeerID:         %s\n", md.PeerID)
		fmt.Printf("SectorSize:     %s\n", humanize.IBytes(uint64(md.SectorSize)))
		fmt.Printf("Price:          %s FIL\n", lotusrpc.FormatFIL(ask.Price))
		fmt.Printf("VerifiedPrice:  %s FIL\n", lotusrpc.FormatFIL(ask.VerifiedPrice))
		fmt.Printf("MinPieceSize:   %s\n", humanize.IBytes(uint64(ask.MinPieceSize)))
		fmt.Printf("MaxPieceSize:   %s\n", humanize.IBytes(uint64(ask.MaxPieceSize)))
		for _, ma := range md.Multiaddrs {
			fmt.Printf("Multiaddr:      %s\n", ma)
		}
		return nil
	},
}
