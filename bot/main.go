package main

import (
	"context"
	"fmt"
	"os"

	"github.com/NewMai/QABot/internal/app"
	logging "github.com/ipfs/go-log/v2"
	"github.com/ribasushi/go-toolbox/cmn"
	"github.com/ribasushi/go-toolbox/ufcli"
)

func main() {
	cmdName := app.AppName
	log := logging.Logger(fmt.Sprintf("%s(%d)", cmdName, os.Getpid()))
	logging.SetLogLevel("*", "INFO") //nolint:errcheck

	home, err := os.UserHomeDir()
	if err != nil {
		log.Error(cmn.WrErr(err))
		os.Exit(1)
	}

	(&ufcli.UFcli{
		Logger:   log,
		TOMLPath: fmt.Sprintf("%s/%s.toml", home, app.AppName),
		AppConfig: ufcli.App{
			Name:  cmdName,
			Usage: "Continuously exercise storage and retrieval deals against storage providers (" + app.Version + ")",
			Commands: []*ufcli.Command{
				runBot,
				listProviders,
				queryAsk,
			},
			Flags: app.CommonFlags,
		},
		GlobalInit: app.GlobalInit,
	}).RunAndExit(context.Background())
}
