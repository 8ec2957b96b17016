package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/yungbote/habitbridge-backend/internal/data/db"
	"github.com/yungbote/habitbridge-backend/internal/data/repos"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/envutil"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
	"github.com/yungbote/habitbridge-backend/internal/sync/outbox"
)

type idList []int64

func (l *idList) String() string {
	parts := make([]string, 0, len(*l))
	for _, id := range *l {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

func (l *idList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid dead letter id %q", v)
	}
	*l = append(*l, id)
	return nil
}

type options struct {
	ids    idList
	all    bool
	dryRun bool
	limit  int
}

func main() {
	var opts options
	flag.Var(&opts.ids, "id", "dead letter id to replay (repeatable)")
	flag.BoolVar(&opts.all, "all", false, "replay every dead letter that was never replayed")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "print what would be replayed without writing")
	flag.IntVar(&opts.limit, "limit", 1000, "max dead letters considered with -all")
	flag.Parse()

	if len(opts.ids) == 0 && !opts.all {
		fmt.Fprintln(os.Stderr, "usage: replay -id N [-id M ...] | -all [-dry-run]")
		os.Exit(2)
	}

	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := db.ConfigFromEnv()
	pg, err := db.NewPostgresService(log, cfg)
	if err != nil {
		fmt.Printf("init postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	theDB := pg.DB()
	tx := db.NewGormTxRunner(theDB, db.TxOptions{AcquireTimeout: cfg.AcquireTimeout, Retries: cfg.TxRetries}, log)
	ob := outbox.New(repos.NewOutboxEventRepo(theDB, log), repos.NewDeadLetterRepo(theDB, log), tx, log)

	if err := run(ctx, ob, opts, os.Stdout); err != nil {
		fmt.Printf("replay: %v\n", err)
		os.Exit(1)
	}
}

// run replays the selected dead letters, or only prints them with dryRun.
// Unknown ids are reported and fail the run after every other id was tried.
func run(ctx context.Context, ob outbox.Outbox, opts options, out io.Writer) error {
	dbc := dbctx.Context{Ctx: ctx}

	if opts.all {
		if opts.dryRun {
			pending, err := ob.ListDeadLetters(dbc, opts.limit, true)
			if err != nil {
				return err
			}
			for _, dl := range pending {
				fmt.Fprintf(out, "would replay %d %s %s/%s attempts=%d error=%q\n",
					dl.ID, dl.EventType, dl.EntityType, dl.EntityID, dl.AttemptCount, dl.LastError)
			}
			fmt.Fprintf(out, "%d dead letters\n", len(pending))
			return nil
		}
		done, err := ob.ReplayAll(dbc, opts.limit)
		for _, id := range done {
			fmt.Fprintf(out, "replayed %d\n", id)
		}
		fmt.Fprintf(out, "%d replayed\n", len(done))
		return err
	}

	var missing []string
	var errs []error
	replayed := 0
	for _, id := range opts.ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if opts.dryRun {
			dl, err := ob.DeadLetter(dbc, id)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if dl == nil {
				missing = append(missing, strconv.FormatInt(id, 10))
				continue
			}
			fmt.Fprintf(out, "would replay %d %s %s/%s attempts=%d replays=%d error=%q\n",
				dl.ID, dl.EventType, dl.EntityType, dl.EntityID, dl.AttemptCount, dl.ReplayCount, dl.LastError)
			continue
		}
		ok, err := ob.Replay(dbc, id)
		switch {
		case err != nil:
			errs = append(errs, err)
		case !ok:
			missing = append(missing, strconv.FormatInt(id, 10))
		default:
			replayed++
			fmt.Fprintf(out, "replayed %d\n", id)
		}
	}
	if !opts.dryRun {
		fmt.Fprintf(out, "%d replayed\n", replayed)
	}
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("no dead letter with id %s", strings.Join(missing, ", ")))
	}
	return errors.Join(errs...)
}
