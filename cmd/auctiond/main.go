// Command auctiond runs the sealed-bid auction engine together with its
// decryption relay, deadline keeper and HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/cloudx-io/sealedbid/api"
	"github.com/cloudx-io/sealedbid/auction"
	"github.com/cloudx-io/sealedbid/config"
	"github.com/cloudx-io/sealedbid/keeper"
	"github.com/cloudx-io/sealedbid/oracle"
	"github.com/cloudx-io/sealedbid/registry"
	"github.com/cloudx-io/sealedbid/store/mysql"
)

var (
	// configPathFlag specifies the daemon config file path.
	configPathFlag = &cli.StringFlag{
		Name:  "config-file",
		Usage: "The filepath to a yaml config file; defaults and SEALEDBID_* variables apply without it",
	}

	// verbosityFlag overrides log.level.
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info, warn, error, fatal, panic)",
	}

	// logFormatFlag overrides log.format.
	logFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Specify log formatting. Supports: text, json.",
	}
)

func main() {
	app := cli.App{
		Name:   "auctiond",
		Usage:  "encrypted sealed-bid NFT auction settlement engine",
		Action: exec,
		Flags: []cli.Flag{
			configPathFlag,
			verbosityFlag,
			logFormatFlag,
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("running auction daemon failed")
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(configPathFlag.Name))
	if err != nil {
		return nil, err
	}
	if v := c.String(verbosityFlag.Name); v != "" {
		cfg.Log.Level = v
	}
	if v := c.String(logFormatFlag.Name); v != "" {
		cfg.Log.Format = v
	}
	return cfg, cfg.Validate()
}

func openStore(cfg *config.Config) (auction.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreMySQL:
		db, err := mysql.NewMySQLDB(cfg.Store.MySQL)
		if err != nil {
			return nil, errors.Wrap(err, "initialize mysql db")
		}
		store := mysql.NewStore(db)
		if err := store.Migrate(); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return auction.NewMemoryStore(), nil
	}
}

func exec(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return errors.Wrap(err, "reading daemon config failed")
	}
	log := logrus.StandardLogger()
	if err := cfg.ConfigureLogger(log); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	relay, err := oracle.New(oracle.Config{
		Identity:        cfg.OracleAddress(),
		KMS:             be.kms,
		Workers:         cfg.Oracle.Workers,
		QueueSize:       cfg.Oracle.QueueSize,
		MaxElapsed:      cfg.Oracle.MaxElapsed,
		InitialInterval: cfg.Oracle.InitialInterval,
		Log:             log,
	})
	if err != nil {
		return err
	}

	reg := registry.New(log)
	events := auction.NewEventLog()
	engine, err := auction.New(ctx, auction.Config{
		Address:         cfg.EngineAddress(),
		Oracle:          cfg.OracleAddress(),
		OracleKey:       be.oracleKey,
		Operators:       cfg.Operators(),
		Keepers:         cfg.Keepers(),
		AllowPlainClose: cfg.Engine.AllowPlainClose,
		Coprocessor:     be.cop,
		Decrypter:       be.decrypter,
		Registry:        reg,
		Store:           store,
		Dispatcher:      relay,
		Events:          events,
		Log:             log,
	})
	if err != nil {
		return errors.Wrap(err, "start engine")
	}
	relay.Bind(engine)

	server := api.New(api.Config{
		Port:      cfg.API.Port,
		RateLimit: cfg.API.RateLimit,
		RateBurst: cfg.API.RateBurst,
		Log:       log,
	}, api.Service{
		Engine:   engine,
		Registry: reg,
		Keys:     be.keys,
		Events:   events,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(ctx) })
	g.Go(func() error { return server.Run(ctx) })
	if cfg.Keeper.Enabled {
		k, err := keeper.New(engine, keeper.Config{
			Identity: cfg.KeeperAddress(),
			Interval: cfg.Keeper.Interval,
			Plain:    cfg.Keeper.Plain,
			Log:      log,
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			k.Run(ctx)
			return nil
		})
	}

	log.WithFields(logrus.Fields{
		"engine":  cfg.EngineAddress().Hex(),
		"enclave": cfg.Enclave.Mode,
		"store":   cfg.Store.Driver,
		"keeper":  cfg.Keeper.Enabled,
	}).Info("auction daemon started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("auction daemon stopped")
	return nil
}
