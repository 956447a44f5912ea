package app

import (
	"context"
	"time"

	"github.com/NewMai/QABot/internal/backend"
	"github.com/NewMai/QABot/internal/lotusrpc"
	logging "github.com/ipfs/go-log/v2"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/ribasushi/go-toolbox/cmn"
	"github.com/ribasushi/go-toolbox/ufcli"
)

const AppName = "qabot"

// Version is overridden at link time
var Version = "v1.1.0-dev"

const (
	DbMain = dbtype(iota)
)

type (
	dbtype        int
	DbConns       map[dbtype]*pgxpool.Pool
	GlobalContext struct {
		Db      DbConns
		Lotus   *lotusrpc.Client
		Backend *backend.Client
		Logger  ufcli.Logger
	}
	ctxKey string
)

var ck = ctxKey("🤖")

func GetGlobalCtx(ctx context.Context) GlobalContext {
	return ctx.Value(ck).(GlobalContext)
}

// UnpackCtx returns the main DB as nil when no pg-connstring is configured
func UnpackCtx(ctx context.Context) (
	origCtx context.Context,
	logger ufcli.Logger,
	mainDB *pgxpool.Pool,
	globalCtx GlobalContext,
) {
	gctx := GetGlobalCtx(ctx)
	return ctx, gctx.Logger, gctx.Db[DbMain], gctx
}

var CommonFlags = []ufcli.Flag{
	ufcli.ConfStringFlag(&ufcli.StringFlag{
		Name:  "lotus-api",
		Value: "http://127.0.0.1:1234/rpc/v0",
	}),
	ufcli.ConfStringFlag(&ufcli.StringFlag{
		Name:  "lotus-api-token",
		Usage: "JWT with at least sign permissions on the lotus node",
	}),
	ufcli.ConfStringFlag(&ufcli.StringFlag{
		Name:  "backend-url",
		Usage: "base URL of the outcome reporting backend, empty disables it",
	}),
	ufcli.ConfStringFlag(&ufcli.StringFlag{
		Name: "backend-token",
	}),
	ufcli.ConfStringFlag(&ufcli.StringFlag{
		Name:  "pg-connstring",
		Usage: "postgres outcome store, empty disables it",
	}),
	ufcli.ConfStringFlag(&ufcli.StringFlag{
		Name:  "log-level",
		Value: "INFO",
	}),
}

func GlobalInit(cctx *ufcli.Context, uf *ufcli.UFcli) (func() error, error) {
	if err := logging.SetLogLevel("*", cctx.String("log-level")); err != nil {
		return nil, cmn.WrErr(err)
	}

	gctx := GlobalContext{
		Logger: uf.Logger,
		Db:     make(DbConns, 1),
	}

	lc, err := lotusrpc.NewClient(cctx.Context, cctx.String("lotus-api"), cctx.String("lotus-api-token"))
	if err != nil {
		return nil, cmn.WrErr(err)
	}
	gctx.Lotus = lc

	if u := cctx.String("backend-url"); u != "" {
		gctx.Backend = backend.New(u, cctx.String("backend-token"))
	}

	if cs := cctx.String("pg-connstring"); cs != "" {
		dbConnCfg, err := pgxpool.ParseConfig(cs)
		if err != nil {
			lc.Close()
			return nil, cmn.WrErr(err)
		}
		dbConnCfg.MaxConns = 4
		dbConnCfg.AfterConnect = func(ctx context.Context, c *pgx.Conn) error {
			_, err := c.Exec(ctx, `SET STATEMENT_TIMEOUT = 30000`)
			return cmn.WrErr(err)
		}
		ctx, cancel := context.WithTimeout(cctx.Context, 30*time.Second)
		defer cancel()
		gctx.Db[DbMain], err = pgxpool.ConnectConfig(ctx, dbConnCfg)
		if err != nil {
			lc.Close()
			return nil, cmn.WrErr(err)
		}
	}

	cctx.Context = context.WithValue(cctx.Context, ck, gctx)

	return func() error {
		lc.Close()
		if db := gctx.Db[DbMain]; db != nil {
			db.Close()
		}
		return nil
	}, nil
}
