package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"brokerdash/cmd/importer"
	"brokerdash/cmd/leverage"
	"brokerdash/src/connectors"
	"brokerdash/src/controller"
	"brokerdash/src/database"
	"brokerdash/src/executors"
	"brokerdash/src/repository"
	"brokerdash/src/server"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "brokerdash"
	app.Usage = "Brokerage back-office command line interface"
	app.Version = Version

	app.Commands = []cli.Command{
		leverageUpdateCMD,
		importClientsCMD,
		importAccountsCMD,
		importSymbolsCMD,
		exportEmailsCMD,
		dealingWatchCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

const (
	leverageUsage = "<api_token> <accounts_file_or_inline_list> <new_leverage>"
	emailsUsage   = "<logins_file_or_inline_list>"
)

var (
	leverageUpdateCMD = cli.Command{
		Name:        "leverage_update",
		Usage:       "set one leverage on a list of CRM accounts",
		Action:      leverageUpdateAction,
		ArgsUsage:   leverageUsage,
		Flags:       []cli.Flag{},
		Description: `Accounts are "serverId-login" or "serverId login" entries, one per line in a file or comma separated inline.`,
	}
	importClientsCMD = cli.Command{
		Name:        "import_clients",
		Usage:       "mirror CRM users and their entities",
		Action:      importAction(importClients),
		Description: `Insert-or-ignore every CRM user into the local mirror`,
	}
	importAccountsCMD = cli.Command{
		Name:        "import_accounts",
		Usage:       "mirror CRM trading accounts and their groups",
		Action:      importAction(importAccounts),
		Description: `Run import_clients first so accounts can be linked to clients`,
	}
	importSymbolsCMD = cli.Command{
		Name:   "import_symbols",
		Usage:  "mirror symbols of open MT5 positions",
		Action: importAction(importSymbols),
	}
	exportEmailsCMD = cli.Command{
		Name:      "export_emails",
		Usage:     "write login,email CSV for a list of MT5 logins",
		Action:    exportEmailsAction,
		ArgsUsage: emailsUsage,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "out", Usage: "output CSV path (default EMAILS_OUTPUT)"},
		},
	}
	dealingWatchCMD = cli.Command{
		Name:        "dealing_watch",
		Usage:       "log dealing desk metrics every refresh period",
		Action:      dealingWatchAction,
		Description: `Polls the MT5 proxy for today's dealing snapshot until interrupted`,
	}
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func leverageUpdateAction(c *cli.Context) error {
	if c.NArg() != 3 {
		return fmt.Errorf("usage: %s leverage_update %s", c.App.Name, leverageUsage)
	}
	log := logrus.WithField("cmd", "leverage_update")
	log.Info("Starting leverage update CMD")

	ctx, stop := signalContext()
	defer stop()

	cmd := &leverage.LeverageUpdate{
		Log:      log,
		Updater:  connectors.NewCRMClientFromConfig(c.Args().Get(0)),
		Accounts: c.Args().Get(1),
		Leverage: c.Args().Get(2),
		OutDir:   ".",
		Out:      os.Stdout,
	}
	if _, err := cmd.Start(ctx); err != nil {
		log.WithError(err).Error("leverage update failed")
		return err
	}
	return nil
}

func newImporter(log *logrus.Entry) (*importer.Importer, error) {
	if err := database.InitMirrorDB(); err != nil {
		return nil, err
	}
	return &importer.Importer{
		Log:         log,
		CRM:         connectors.NewCRMClientFromConfig(""),
		MT5:         connectors.NewMT5ProxyClientFromConfig(server.SelfProxyURL(server.GetConfig().Port)),
		Mirror:      repository.NewMirrorRepository(),
		EntityField: controller.GetConfig().EntityField,
	}, nil
}

func importAction(run func(ctx context.Context, imp *importer.Importer) error) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		log := logrus.WithField("cmd", c.Command.Name)
		log.Info("Starting import CMD")

		imp, err := newImporter(log)
		if err != nil {
			log.WithError(err).Error("Failed to open mirror database")
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		if err := run(ctx, imp); err != nil {
			log.WithError(err).Error("import failed")
			return err
		}
		return nil
	}
}

func importClients(ctx context.Context, imp *importer.Importer) error {
	_, err := imp.ImportClients(ctx)
	return err
}

func importAccounts(ctx context.Context, imp *importer.Importer) error {
	_, err := imp.ImportAccounts(ctx)
	return err
}

func importSymbols(ctx context.Context, imp *importer.Importer) error {
	_, err := imp.ImportSymbols(ctx, importer.GetConfig().SymbolGroups)
	return err
}

func exportEmailsAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: %s export_emails %s", c.App.Name, emailsUsage)
	}
	log := logrus.WithField("cmd", "export_emails")
	logins := importer.ParseLogins(c.Args().Get(0))
	if len(logins) == 0 {
		return fmt.Errorf("no logins found in input")
	}

	path := c.String("out")
	if path == "" {
		path = importer.GetConfig().EmailsOutput
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	ctx, stop := signalContext()
	defer stop()

	imp := &importer.Importer{Log: log, CRM: connectors.NewCRMClientFromConfig("")}
	if err := imp.ExportEmails(ctx, logins, f); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"file": path, "logins": len(logins)}).Info("emails exported")
	return nil
}

func dealingWatchAction(_ *cli.Context) error {
	log := logrus.WithField("cmd", "dealing_watch")
	log.Info("Starting dealing watch CMD")

	ctx, stop := signalContext()
	defer stop()

	proxy := connectors.NewMT5ProxyClientFromConfig(server.SelfProxyURL(server.GetConfig().Port))
	svc := controller.NewDealingService(proxy, controller.GetConfig().DealingGroups)
	loop := executors.NewDealingLoop(svc, executors.LogMetrics)
	if err := loop.Run(ctx); err != nil {
		log.WithError(err).Error("dealing watch stopped")
		return err
	}
	return nil
}
