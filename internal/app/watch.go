package app

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nuetzliches/dokq/queue"
	"github.com/nuetzliches/dokq/worker"
)

// watchCmd drains the queue until interrupted, printing each claimed item to
// stdout as one JSON line and acknowledging it.
func watchCmd(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	queueType := fs.String("queue", "", "")
	workers := fs.Int("workers", 0, "")
	pollInterval := fs.Duration("poll-interval", 0, "")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "watch: unexpected positional arguments")
		return 2
	}

	env, err := newCmdEnv(*queueType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		return 1
	}
	defer env.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if env.cfg.TracingEndpoint != "" {
		shutdown, err := initTracing(ctx, env.cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "watch: init tracing: %v\n", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				env.logger.Error("tracing_shutdown_failed", slog.Any("err", err))
			}
		}()
	}

	n := env.cfg.Workers
	if *workers > 0 {
		n = *workers
	}
	poll := env.cfg.PollInterval
	if *pollInterval > 0 {
		poll = *pollInterval
	}

	var stdoutMu sync.Mutex
	pool := worker.New(env.queue, func(ctx context.Context, item *queue.Item) error {
		stdoutMu.Lock()
		defer stdoutMu.Unlock()
		return printItem(os.Stdout, item)
	},
		worker.WithWorkers(n),
		worker.WithPollInterval(poll),
		worker.WithLogger(env.logger),
	)

	env.logger.Info("watch_started",
		slog.String("queue_type", env.queue.QueueType()),
		slog.Int("workers", n),
		slog.Duration("poll_interval", poll),
	)
	if err := pool.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		return 1
	}
	return 0
}
