// Package cmd implements the gls command line application to keep the lot
// ledger of a grid bot.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/etnz/gridledger"
	"github.com/etnz/gridledger/config"
	"github.com/etnz/gridledger/exchange"
	"github.com/etnz/gridledger/renderer"
	"github.com/etnz/gridledger/store"
	"github.com/google/subcommands"
	"go.uber.org/zap"
)

// Register the subcommands.
// A main package will call Register() to allow subcommands, and Execute() on the user-selected one.
func Register(c *subcommands.Commander) {
	c.Register(&fillCmd{side: exchange.Buy}, "fills")
	c.Register(&fillCmd{side: exchange.Sell}, "fills")
	c.Register(&importCmd{}, "fills")
	c.Register(&legacyCmd{}, "fills")

	c.Register(&lotsCmd{}, "reports")
	c.Register(&profitCmd{}, "reports")
	c.Register(&fifoCmd{}, "reports")
	c.Register(&historyCmd{}, "reports")

	c.Register(&reconcileCmd{}, "reconciliation")
	c.Register(&mergeCmd{}, "reconciliation")
	c.Register(&resolveCmd{}, "reconciliation")
	c.Register(&estimateCmd{}, "reconciliation")
	c.Register(&archiveCmd{}, "reconciliation")

	c.Register(&exportCmd{}, "snapshots")
	c.Register(&restoreCmd{}, "snapshots")

	c.Register(&watchCmd{}, "")
	c.Register(&topicCmd{}, "")
}

// as a CLI application, it has a very short lived lifecycle, so it is ok to use global variables.

var configFile = flag.String("config", "gridledger.yaml", "Path to the configuration file (YAML or JSON)")
var dbFile = flag.String("db", "", "Path to the SQLite database, overrides the configuration store.db_path")

// Verbose turns on debug logging.
var Verbose = flag.Bool("v", false, "verbose logging")

// logger is the app logger, set by SetupLogger.
var logger = zap.NewNop()

// SetupLogger installs the app and ledger logger. Corrections are logged at
// info level, so they are always visible.
func SetupLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !*Verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	logger = l
	gridledger.SetLogger(l)
	return l, nil
}

// LoadConfig reads the app configuration file.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromFile(*configFile)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning, configuration %q does not exist, using the default configuration instead\n", *configFile)
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	if *dbFile != "" {
		cfg.Store.DBPath = *dbFile
	}
	return cfg, nil
}

// session gives access to the books of the configured pairs.
type session struct {
	cfg   *config.Config
	store *store.SQLite
}

func openSession() (*session, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	s, err := store.NewSQLite(cfg.Store.DBPath)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, store: s}, nil
}

func (s *session) Close() error { return s.store.Close() }

// pair returns the pair flag value, or the only configured pair.
func (s *session) pair(flagValue string) (string, error) {
	if flagValue != "" {
		return strings.ToUpper(flagValue), nil
	}
	if len(s.cfg.Pairs) == 1 {
		return strings.ToUpper(s.cfg.Pairs[0].Pair), nil
	}
	return "", errors.New("-pair is required when several pairs are configured")
}

// book loads the latest saved book of a pair, or creates an empty one.
func (s *session) book(ctx context.Context, pair string) (*gridledger.Book, error) {
	cfg, err := s.cfg.Pair(pair)
	if err != nil {
		return nil, err
	}
	snap, err := s.store.Load(ctx, cfg.Pair)
	if errors.Is(err, store.ErrNotFound) {
		return gridledger.NewBook(cfg)
	}
	if err != nil {
		return nil, err
	}
	return gridledger.RestoreBook(cfg, snap)
}

// engine loads the books of every configured pair.
func (s *session) engine(ctx context.Context) (*gridledger.Engine, error) {
	e, err := gridledger.NewEngine()
	if err != nil {
		return nil, err
	}
	cfgs, err := s.cfg.PairConfigs()
	if err != nil {
		return nil, err
	}
	for _, cfg := range cfgs {
		b, err := s.book(ctx, cfg.Pair)
		if err != nil {
			return nil, err
		}
		if err := e.Add(b); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (s *session) save(ctx context.Context, b *gridledger.Book) error {
	_, err := s.store.Save(ctx, b.Snapshot(), time.Now())
	return err
}

// reconciler reads the exchange data described in the configuration.
func (s *session) reconciler() (*gridledger.Reconciler, error) {
	if s.cfg.Exchange.TradesFile == "" {
		return nil, errors.New("exchange.trades_file is not configured")
	}
	balances, err := s.cfg.Balances()
	if err != nil {
		return nil, err
	}
	src := make(exchange.Balances, len(balances))
	for asset, total := range balances {
		src[asset] = exchange.Balance{Asset: asset, Free: total, Total: total}
	}
	backoff := exchange.DefaultBackoff
	if s.cfg.Exchange.Attempts > 0 {
		backoff.Attempts = s.cfg.Exchange.Attempts
	}
	return &gridledger.Reconciler{
		Trades:   exchange.NewFile(s.cfg.Exchange.TradesFile),
		Balances: src,
		Backoff:  backoff,
	}, nil
}

// printMarkdown prints markdown for the terminal, or as is when it cannot be rendered.
func printMarkdown(md string) {
	out, err := renderer.Terminal(md, 120)
	if err != nil {
		fmt.Print(md)
		return
	}
	fmt.Print(out)
}

// parseTime parses a RFC 3339 time, an empty string is now.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, expected RFC 3339", s)
}
