// Команда migrate применяет, откатывает и показывает миграции схемы PostgreSQL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/ordercore/internal/storage/postgres"
)

const dsnEnv = "ORDERCORE_POSTGRES_DSN"

var errDSNRequired = errors.New(dsnEnv + " (or -dsn) is required")

// step меняет схему; steps == 0 означает значение по умолчанию для направления.
type step func(ctx context.Context, store *postgres.Store, steps int) error

var directions = map[string]step{
	"up": func(ctx context.Context, store *postgres.Store, steps int) error {
		return store.MigrateUp(ctx, steps)
	},
	"down": func(ctx context.Context, store *postgres.Store, steps int) error {
		return store.MigrateDown(ctx, steps)
	},
	// redo откатывает и заново применяет последние steps миграций (по умолчанию одну).
	"redo": func(ctx context.Context, store *postgres.Store, steps int) error {
		steps = max(steps, 1)
		if err := store.MigrateDown(ctx, steps); err != nil {
			return err
		}
		return store.MigrateUp(ctx, steps)
	},
	"status": nil,
}

type options struct {
	direction string
	steps     int
	dsn       string
	timeout   time.Duration
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fail("load .env: %v", err)
	}
	if err := run(os.Args[1:], os.Getenv, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	var opts options

	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVar(&opts.direction, "direction", "up", "up|down|redo|status")
	flags.IntVar(&opts.steps, "steps", 0, "migrations to apply or roll back (up: 0 = all, down/redo: 0 = one)")
	flags.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN, defaults to $"+dsnEnv)
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "deadline for the whole run")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	if _, ok := directions[opts.direction]; !ok {
		names := make([]string, 0, len(directions))
		for name := range directions {
			names = append(names, name)
		}
		slices.Sort(names)
		return options{}, fmt.Errorf("unsupported direction %q (use %s)", opts.direction, strings.Join(names, "|"))
	}
	switch {
	case opts.steps < 0:
		return options{}, fmt.Errorf("steps must be >= 0, got %d", opts.steps)
	case opts.timeout <= 0:
		return options{}, fmt.Errorf("timeout must be > 0, got %s", opts.timeout)
	}

	if opts.dsn = strings.TrimSpace(opts.dsn); opts.dsn == "" && getenv != nil {
		opts.dsn = strings.TrimSpace(getenv(dsnEnv))
	}
	if opts.dsn == "" {
		return options{}, errDSNRequired
	}
	return opts, nil
}

func run(args []string, getenv func(string) string, out io.Writer) error {
	opts, err := parseOptions(args, getenv)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	pool := postgres.DefaultPoolConfig()
	pool.MaxOpenConns, pool.MaxIdleConns = 2, 1
	pool.ApplicationName = "ordercore-migrate"
	store, err := postgres.OpenWithPool(ctx, opts.dsn, pool)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	if apply := directions[opts.direction]; apply != nil {
		if err := apply(ctx, store, opts.steps); err != nil {
			return fmt.Errorf("migrate %s: %w", opts.direction, err)
		}
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}
	_, err = fmt.Fprintln(out, formatState(opts.direction, state))
	return err
}

func formatState(direction string, state postgres.MigrationState) string {
	head := "migration status"
	if direction != "status" {
		head = "migrate " + direction + " ok"
	}
	return fmt.Sprintf("%s: version=%d applied=%d pending=%d", head, state.Version, state.Applied, state.Pending())
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
