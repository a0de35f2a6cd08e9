package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/etnz/gridledger"
	"github.com/etnz/gridledger/metrics"
	"github.com/google/subcommands"
	"go.uber.org/zap"
)

// stopSignals end the watch loop.
var stopSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// notifyStop returns a context cancelled by the first stop signal.
func notifyStop(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, stopSignals...)
}

type watchCmd struct {
	addr     string
	interval time.Duration
	apply    bool

	saved map[string]string // last saved snapshot by pair
}

func (*watchCmd) Name() string     { return "watch" }
func (*watchCmd) Synopsis() string { return "keep the books in sync and serve their metrics" }
func (*watchCmd) Usage() string {
	return `gls watch [-addr <host:port>] [-interval <duration>] [-apply]

  Periodically records the new trades of the configured dump file, reconciles
  every pair and saves the books. Metrics are served on /metrics.
  With -apply, reports are applied when every finding is repairable.
`
}

func (c *watchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.addr, "addr", ":9108", "Address of the metrics server")
	f.DurationVar(&c.interval, "interval", time.Minute, "Time between two rounds")
	f.BoolVar(&c.apply, "apply", false, "Apply the repairable reports")
}

func (c *watchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	l := logger
	s, err := openSession()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer s.Close()
	r, err := s.reconciler()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	e, err := s.engine(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading books: %v\n", err)
		return subcommands.ExitFailure
	}

	ctx, stop := notifyStop(ctx)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: c.addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("metrics server stopped", zap.Error(err))
			stop()
		}
	}()
	defer srv.Shutdown(context.Background())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		c.round(ctx, l, s, e, r)
		select {
		case <-ctx.Done():
			return subcommands.ExitSuccess
		case <-ticker.C:
		}
	}
}

// round syncs, reconciles and saves every book once.
func (c *watchCmd) round(ctx context.Context, l *zap.Logger, s *session, e *gridledger.Engine, r *gridledger.Reconciler) {
	if err := e.Sync(ctx, r.Trades, r.Backoff); err != nil {
		l.Warn("sync", zap.Error(err))
	}
	reports, err := e.ReconcileAll(ctx, r)
	if err != nil {
		l.Warn("reconcile", zap.Error(err))
	}
	for pair, rep := range reports {
		b, _ := e.Book(pair)
		if c.apply && !rep.Clean() && rep.Err() == nil {
			if err := b.Apply(rep); err != nil {
				l.Warn("apply", zap.String("pair", pair), zap.Error(err))
			}
		}
		if err := s.store.SaveReport(ctx, rep); err != nil {
			l.Error("save report", zap.String("pair", pair), zap.Error(err))
		}
	}
	if c.saved == nil {
		c.saved = make(map[string]string)
	}
	for _, pair := range e.Pairs() {
		b, _ := e.Book(pair)
		data, err := json.Marshal(b.Snapshot())
		if err != nil || c.saved[pair] == string(data) {
			continue
		}
		if err := s.save(ctx, b); err != nil {
			l.Error("save book", zap.String("pair", pair), zap.Error(err))
			continue
		}
		c.saved[pair] = string(data)
	}
}

