package main

import (
	"fmt"
	"sort"

	"github.com/NewMai/QABot/internal/app"
	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/ribasushi/go-toolbox/ufcli"
)

var listProviders = &ufcli.Command{
	Usage: "Print the providers the configured source currently lists",
	Name:  "list-providers",
	Flags: []ufcli.Flag{
		&ufcli.BoolFlag{
			Name: "standalone",
		},
		ufcli.ConfStringFlag(&ufcli.StringFlag{
			Name:  "provider-source",
			Value: "backend",
		}),
		ufcli.ConfStringFlag(&ufcli.StringFlag{
			Name: "s3-provider-list",
		}),
		ufcli.ConfStringFlag(&ufcli.StringFlag{
			Name: "s3-profile",
		}),
		ufcli.ConfStringFlag(&ufcli.StringFlag{
			Name:  "s3-region",
			Value: "us-east-1",
		}),
		&ufcli.UintFlag{
			Name:  "standalone-refresh-interval-minutes",
			Value: 60,
		},
	},
	Action: func(cctx *ufcli.Context) error {
		ctx, log, _, gctx := app.UnpackCtx(cctx.Context)

		src, err := providerSource(cctx, gctx.Lotus, gctx.Backend, clock.New())
		if err != nil {
			return err
		}
		list, err := src.ListProviders(ctx)
		if err != nil {
			log.Warnf("listing incomplete: %s", err)
		}

		sort.Slice(list, func(i, j int) bool { return list[i].Capacity > list[j].Capacity })
		var total int64
		for _, p := range list {
			total += p.Capacity
			fmt.Printf("%s\t%s\n", p.Address, humanize.IBytes(uint64(p.Capacity)))
		}
		log.Infow("listed", "providers", len(list), "totalCapacity", humanize.IBytes(uint64(total)))
		return nil
	},
}
