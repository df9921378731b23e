package app

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/nuetzliches/dokq/queue"
)

// cmdEnv bundles everything a subcommand needs: parsed config, a logger, and
// an open queue over the configured store.
type cmdEnv struct {
	cfg    Config
	logger *slog.Logger
	queue  *queue.Queue
}

func (e *cmdEnv) close() {
	if e.queue == nil {
		return
	}
	if err := e.queue.Close(); err != nil {
		e.logger.Error("store_close_failed", slog.Any("err", err))
	}
}

func openStore(cfg Config) (queue.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return queue.NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		return queue.NewPostgresStore(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

func newCmdEnv(queueType string, opts ...queue.Option) (*cmdEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	if queueType == "" {
		queueType = cfg.Queue
	}
	opts = append([]queue.Option{
		queue.WithQueueType(queueType),
		queue.WithMaxAttempts(cfg.MaxAttempts),
		queue.WithLease(cfg.Lease),
		queue.WithLogger(logger),
	}, opts...)

	return &cmdEnv{
		cfg:    cfg,
		logger: logger,
		queue:  queue.New(store, opts...),
	}, nil
}

func printItem(stdout io.Writer, item *queue.Item) error {
	enc := json.NewEncoder(stdout)
	return enc.Encode(item)
}

func enqueueCmd(args []string) int {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	queueType := fs.String("queue", "", "")
	delay := fs.Duration("delay", 0, "")
	at := fs.String("at", "", "")
	attempts := fs.Int("attempts", 0, "")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "enqueue: %v\n", err)
		return 2
	}

	var payload []byte
	switch fs.NArg() {
	case 0:
		// No payload argument: read it from stdin.
		var err error
		payload, err = io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "enqueue: read stdin: %v\n", err)
			return 1
		}
	case 1:
		payload = []byte(fs.Arg(0))
	default:
		fmt.Fprintln(os.Stderr, "enqueue: expected at most one json payload argument")
		return 2
	}
	if !json.Valid(payload) {
		fmt.Fprintln(os.Stderr, "enqueue: payload is not valid json")
		return 2
	}

	var sendOpts []queue.SendOption
	if *at != "" {
		t, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			fmt.Fprintf(os.Stderr, "enqueue: invalid --at (want RFC3339): %v\n", err)
			return 2
		}
		sendOpts = append(sendOpts, queue.WithVisibleAt(t))
	}
	if *delay > 0 {
		sendOpts = append(sendOpts, queue.WithDelay(*delay))
	}
	if *attempts > 0 {
		sendOpts = append(sendOpts, queue.WithAttempts(*attempts))
	}

	env, err := newCmdEnv(*queueType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "enqueue: %v\n", err)
		return 1
	}
	defer env.close()

	item, err := env.queue.Enqueue(context.Background(), json.RawMessage(payload), sendOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "enqueue: %v\n", err)
		return 1
	}
	if err := printItem(os.Stdout, item); err != nil {
		fmt.Fprintf(os.Stderr, "enqueue: %v\n", err)
		return 1
	}
	return 0
}

func claimCmd(args []string) int {
	fs := flag.NewFlagSet("claim", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	queueType := fs.String("queue", "", "")
	lease := fs.Duration("lease", 0, "")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "claim: %v\n", err)
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "claim: unexpected positional arguments")
		return 2
	}

	env, err := newCmdEnv(*queueType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "claim: %v\n", err)
		return 1
	}
	defer env.close()

	var claimOpts []queue.ClaimOption
	if *lease > 0 {
		claimOpts = append(claimOpts, queue.WithLeaseFor(*lease))
	}

	item, err := env.queue.Claim(context.Background(), claimOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "claim: %v\n", err)
		return 1
	}
	if item == nil {
		// Empty queue is a normal outcome, distinct from a store fault.
		fmt.Fprintln(os.Stderr, "claim: no eligible item")
		return 3
	}
	if err := printItem(os.Stdout, item); err != nil {
		fmt.Fprintf(os.Stderr, "claim: %v\n", err)
		return 1
	}
	return 0
}

func ackCmd(args []string) int {
	fs := flag.NewFlagSet("ack", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	queueType := fs.String("queue", "", "")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "ack: %v\n", err)
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "ack: expected exactly one item id argument")
		return 2
	}

	env, err := newCmdEnv(*queueType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ack: %v\n", err)
		return 1
	}
	defer env.close()

	n, err := env.queue.Acknowledge(context.Background(), fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ack: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stdout, "%d\n", n)
	return 0
}

func purgeCmd(args []string) int {
	fs := flag.NewFlagSet("purge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	queueType := fs.String("queue", "", "")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "purge: %v\n", err)
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "purge: unexpected positional arguments")
		return 2
	}

	env, err := newCmdEnv(*queueType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "purge: %v\n", err)
		return 1
	}
	defer env.close()

	n, err := env.queue.Purge(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "purge: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stdout, "%d\n", n)
	return 0
}

func countCmd(args []string) int {
	fs := flag.NewFlagSet("count", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	queueType := fs.String("queue", "", "")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "count: %v\n", err)
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "count: unexpected positional arguments")
		return 2
	}

	env, err := newCmdEnv(*queueType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "count: %v\n", err)
		return 1
	}
	defer env.close()

	n, err := env.queue.Count(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "count: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stdout, "%d\n", n)
	return 0
}

func statsCmd(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	queueType := fs.String("queue", "", "")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "stats: %v\n", err)
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "stats: unexpected positional arguments")
		return 2
	}

	env, err := newCmdEnv(*queueType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stats: %v\n", err)
		return 1
	}
	defer env.close()

	stats, err := env.queue.Stats(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "stats: %v\n", err)
		return 1
	}
	out := struct {
		Queue string `json:"queue"`
		queue.Stats
	}{Queue: env.queue.QueueType(), Stats: stats}
	if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "stats: %v\n", err)
		return 1
	}
	return 0
}
