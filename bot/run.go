package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NewMai/QABot/internal/admission"
	"github.com/NewMai/QABot/internal/allowance"
	"github.com/NewMai/QABot/internal/app"
	"github.com/NewMai/QABot/internal/backend"
	"github.com/NewMai/QABot/internal/deals"
	"github.com/NewMai/QABot/internal/lotusrpc"
	"github.com/NewMai/QABot/internal/metrics"
	"github.com/NewMai/QABot/internal/orchestrator"
	"github.com/NewMai/QABot/internal/providers"
	"github.com/NewMai/QABot/internal/report"
	"github.com/NewMai/QABot/internal/retrieval"
	"github.com/NewMai/QABot/internal/stats"
	"github.com/NewMai/QABot/internal/statusapi"
	"github.com/NewMai/QABot/internal/testfile"
	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/ribasushi/go-toolbox/cmn"
	"github.com/ribasushi/go-toolbox/ufcli"
	"golang.org/x/xerrors"
)

var runBot = &ufcli.Command{
	Usage: "Run the deal cycle until interrupted",
	Name:  "run",
	Flags: []ufcli.Flag{
		&ufcli.BoolFlag{
			Name:  "standalone",
			Usage: "Discover providers from chain state and do not report outcomes to the backend",
		},
		&ufcli.BoolFlag{
			Name:  "cmd-mode",
			Usage: "Start deals and retrievals through the lotus binary instead of the RPC API",
		},
		ufcli.ConfStringFlag(&ufcli.StringFlag{
			Name:  "lotus-binary",
			Value: "lotus",
		}),
		ufcli.ConfStringFlag(&ufcli.StringFlag{
			Name:  "size",
			Usage: "Size of every test file, capped by the provider's sector size",
			Value: "5GiB",
		}),
		&ufcli.IntFlag{
			Name:  "max-pending",
			Usage: "Maximum amount of storage deals in flight",
			Value: admission.DefaultMaxPending,
		},
		ufcli.ConfStringFlag(&ufcli.StringFlag{
			Name:  "min-daily-rate",
			Value: "10GiB",
		}),
		ufcli.ConfStringFlag(&ufcli.StringFlag{
			Name:  "max-daily-rate",
			Value: "250GiB",
		}),
		&ufcli.UintFlag{
			Name:  "deal-timeout-hours",
			Value: uint(deals.DefaultDealTimeout / time.Hour),
		},
		&ufcli.UintFlag{
			Name:  "retrieve-timeout",
			Usage: "Seconds a single retrieval may take",
			Value: uint(retrieval.DefaultTimeout / time.Second),
		},
		&ufcli.UintFlag{
			Name:  "proposal-pause-ms",
			Value: uint(orchestrator.DefaultProposalPause / time.Millisecond),
		},
		&ufcli.UintFlag{
			Name:  "poll-pause-ms",
			Value: 100,
		},
		&ufcli.UintFlag{
			Name:  "retrieve-pause-ms",
			Value: 1000,
		},
		&ufcli.UintFlag{
			Name:  "cycle-sleep-ms",
			Value: uint(orchestrator.DefaultCyclePause / time.Millisecond),
		},
		&ufcli.IntFlag{
			Name:  "batch-size",
			Usage: "Amount of concurrent deal status and ask queries",
			Value: deals.DefaultBatchSize,
		},
		&ufcli.BoolFlag{
			Name:  "refresh-asks",
			Usage: "Query every provider's ask once per cycle",
		},
		ufcli.ConfStringFlag(&ufcli.StringFlag{
			Name:  "import-dir",
			Usage: "Where test files are written, must be readable by the lotus node",
			Value: os.TempDir(),
		}),
		ufcli.ConfStringFlag(&ufcli.StringFlag{
			Name:  "retrieve-dir",
			Value: os.TempDir(),
		}),
		ufcli.ConfStringFlag(&ufcli.StringFlag{
			Name:  "status-listen-address",
			Usage: "Serve /status and /metrics on this address, empty disables it",
			Value: "localhost:8180",
		}),
		ufcli.ConfStringFlag(&ufcli.StringFlag{
			Name: "status-api-token",
		}),
		&ufcli.UintFlag{
			Name:  "shutdown-grace-seconds",
			Value: 3,
		},
		ufcli.ConfStringFlag(&ufcli.StringFlag{
			Name:  "provider-source",
			Usage: "One of backend, lotus or s3. --standalone implies lotus",
			Value: "backend",
		}),
		ufcli.ConfStringFlag(&ufcli.StringFlag{
			Name:  "s3-provider-list",
			Usage: "bucket/prefix holding JSON provider lists",
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
		ctx, log, db, gctx := app.UnpackCtx(cctx.Context)

		size, err := bytesFlag(cctx, "size")
		if err != nil {
			return err
		}
		minRate, err := bytesFlag(cctx, "min-daily-rate")
		if err != nil {
			return err
		}
		maxRate, err := bytesFlag(cctx, "max-daily-rate")
		if err != nil {
			return err
		}
		if minRate > maxRate {
			return xerrors.Errorf("min-daily-rate %s exceeds max-daily-rate %s", humanize.IBytes(uint64(minRate)), humanize.IBytes(uint64(maxRate)))
		}

		var node lotusrpc.Node = gctx.Lotus
		if cctx.Bool("cmd-mode") {
			node = lotusrpc.NewCmdClient(gctx.Lotus, cctx.String("lotus-binary"))
		}

		clk := clock.New()

		src, err := providerSource(cctx, node, gctx.Backend, clk)
		if err != nil {
			return err
		}

		infoCache, err := providers.NewInfoCache(node, providers.DefaultInfoTTL)
		if err != nil {
			return cmn.WrErr(err)
		}
		defer infoCache.Close()

		var stores []report.Store
		if gctx.Backend != nil && !cctx.Bool("standalone") {
			stores = append(stores, report.BackendStore{Backend: gctx.Backend})
		}
		var outcomes statusapi.OutcomeLister
		if db != nil {
			pg := report.PGStore{DB: db}
			if err := pg.EnsureSchema(ctx); err != nil {
				return cmn.WrErr(err)
			}
			stores = append(stores, pg)
			outcomes = pg
		}
		reporter := report.NewAsync(report.DefaultAsyncOptions, stores...)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := reporter.Close(closeCtx); err != nil {
				log.Warnf("outcomes left unreported: %s", err)
			}
		}()

		agg := stats.New(metrics.Gauges{}, clk)
		allow := allowance.NewTracker(allowance.Config{MinDailyRate: minRate, MaxDailyRate: maxRate}, clk)
		verifier := retrieval.NewVerifier(
			retrieval.Config{
				Timeout: time.Duration(cctx.Uint("retrieve-timeout")) * time.Second,
				OutDir:  cctx.String("retrieve-dir"),
				Pause:   time.Duration(cctx.Uint("retrieve-pause-ms")) * time.Millisecond,
			},
			node, agg, reporter, clk,
		)
		tracker := deals.NewTracker(
			deals.TrackerConfig{
				DealTimeout: time.Duration(cctx.Uint("deal-timeout-hours")) * time.Hour,
				BatchSize:   cctx.Int("batch-size"),
				Pause:       time.Duration(cctx.Uint("poll-pause-ms")) * time.Millisecond,
			},
			node, verifier, allow, agg, reporter, clk,
		)

		o := orchestrator.New(
			orchestrator.Config{
				Version:       app.Version,
				ProposalPause: time.Duration(cctx.Uint("proposal-pause-ms")) * time.Millisecond,
				CyclePause:    time.Duration(cctx.Uint("cycle-sleep-ms")) * time.Millisecond,
				RefreshAsks:   cctx.Bool("refresh-asks"),
				AskBatchSize:  cctx.Int("batch-size"),
			},
			orchestrator.Deps{
				Node:      node,
				Source:    src,
				Info:      infoCache,
				Allowance: allow,
				Admission: &admission.Controller{MaxPending: cctx.Int("max-pending")},
				Proposer: &deals.Proposer{
					Node:     node,
					Info:     infoCache,
					Files:    &testfile.Generator{Dir: cctx.String("import-dir")},
					FileSize: size,
					Clock:    clk,
				},
				Deals:      tracker,
				Retrievals: verifier,
				Stats:      agg,
				Reporter:   reporter,
				Clock:      clk,
			},
		)

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigs)
		orchestrator.HandleSignals(sigs, cancel, time.Duration(cctx.Uint("shutdown-grace-seconds"))*time.Second, func() { os.Exit(0) })

		if addr := cctx.String("status-listen-address"); addr != "" {
			srv := &statusapi.Server{
				Snapshots: o,
				Outcomes:  outcomes,
				Metrics:   metrics.Exporter(app.AppName),
				Token:     cctx.String("status-api-token"),
			}
			go func() {
				if err := srv.Start(runCtx, addr); err != nil {
					log.Errorf("status api failed: %s", err)
					cancel()
				}
			}()
		}

		log.Infow("qabot starting",
			"version", app.Version,
			"testFileSize", humanize.IBytes(uint64(size)),
			"maxPending", cctx.Int("max-pending"),
			"cmdMode", cctx.Bool("cmd-mode"),
			"standalone", cctx.Bool("standalone"),
			"outcomeStores", len(stores),
		)
		return o.Run(runCtx)
	},
}

func bytesFlag(cctx *ufcli.Context, name string) (int64, error) {
	v, err := humanize.ParseBytes(cctx.String(name))
	if err != nil {
		return 0, xerrors.Errorf("invalid %s '%s': %w", name, cctx.String(name), err)
	}
	if v == 0 || v > 1<<62 {
		return 0, xerrors.Errorf("%s '%s' is out of range", name, cctx.String(name))
	}
	return int64(v), nil
}

func providerSource(cctx *ufcli.Context, node lotusrpc.Node, be *backend.Client, clk clock.Clock) (providers.Source, error) {
	kind := cctx.String("provider-source")
	if cctx.Bool("standalone") {
		kind = "lotus"
	}

	switch kind {
	case "lotus":
		return &providers.CachedSource{
			Source: &providers.LotusSource{Node: node},
			MaxAge: time.Duration(cctx.Uint("standalone-refresh-interval-minutes")) * time.Minute,
			Clock:  clk,
		}, nil
	case "backend":
		if be == nil {
			return nil, xerrors.New("provider-source 'backend' requires --backend-url, or use --standalone")
		}
		return &providers.BackendSource{Lister: be}, nil
	case "s3":
		if cctx.String("s3-provider-list") == "" {
			return nil, xerrors.New("provider-source 's3' requires --s3-provider-list")
		}
		s, err := providers.NewS3Source(cctx.Context, cctx.String("s3-provider-list"), cctx.String("s3-profile"), cctx.String("s3-region"))
		if err != nil {
			return nil, cmn.WrErr(err)
		}
		return s, nil
	default:
		return nil, xerrors.Errorf("unknown provider-source '%s'", kind)
	}
}
