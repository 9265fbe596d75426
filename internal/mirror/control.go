package mirror

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/cockroachdb/errors"
)

// Options controls Run.
type Options struct {
	// DryRun computes and reports plans without transferring anything.
	DryRun bool
	// Progress receives per-item events; nil discards them.
	Progress Progress
	// Fetcher overrides the HTTP fetcher built from Config.MaxConns.
	Fetcher Fetcher
}

// Run synchronizes mirrors one after the other.
//
// ids is a list of mirror IDs defined in the configuration file (or keys
// in config.Mirrors). If ids is empty, all mirrors are synchronized.
//
// Each destination directory is locked with flock for the duration of
// its session. A fatal error in one mirror does not stop the others; the
// returned error combines them. Per-gem failures are only reported.
func Run(ctx context.Context, config *Config, ids []string, opts Options) ([]*Report, error) {
	if len(ids) == 0 {
		ids = config.MirrorIDs()
	}
	for _, id := range ids {
		if _, ok := config.Mirrors[id]; !ok {
			return nil, &ConfigError{Mirror: id, Err: errors.New("no such mirror")}
		}
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(config.MaxConns)
	}

	if opts.DryRun {
		slog.Info("dry-run mode: computing plans without transferring gems")
	} else {
		slog.Info("update starts")
	}

	var reports []*Report
	var fatal error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			fatal = errors.CombineErrors(fatal, err)
			break
		}

		report, err := runOne(ctx, config, id, fetcher, opts)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			slog.Error("mirror failed", "repo", id, "error", err)
			fatal = errors.CombineErrors(fatal, err)
		}
	}

	slog.Info("update ends", "mirrors", len(reports))
	return reports, fatal
}

func runOne(ctx context.Context, config *Config, id string, fetcher Fetcher, opts Options) (*Report, error) {
	mc := config.Mirrors[id]
	session, err := NewSession(id, mc, fetcher, SessionOptions{
		Parallelism: config.Parallelism(id),
		Progress:    opts.Progress,
		DryRun:      opts.DryRun,
	})
	if err != nil {
		return nil, err
	}

	unlock, err := lockDir(mc.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: destination is in use", id)
	}
	defer unlock()

	return session.Run(ctx)
}

// Failed returns the total number of per-gem failures in reports.
func Failed(reports []*Report) int {
	n := 0
	for _, r := range reports {
		n += r.Failed
	}
	return n
}

// WriteSummary prints one block per report to w.
func WriteSummary(w io.Writer, reports []*Report, dryRun bool) {
	title := "Sync Summary"
	if dryRun {
		title = "Sync Plan (Dry Run)"
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "=== %s ===\n", title)
	fmt.Fprintln(w)

	var totalFetch, totalDelete int
	for _, r := range reports {
		fmt.Fprintf(w, "Repository: %s (%s)\n", r.Mirror, r.State)
		fmt.Fprintf(w, "  Remote gems:    %d\n", r.Remote)
		if r.Plan != nil {
			fmt.Fprintf(w, "  To fetch:       %d\n", len(r.Plan.ToFetch))
			fmt.Fprintf(w, "  To delete:      %d\n", len(r.Plan.ToDelete))
			totalFetch += len(r.Plan.ToFetch)
			totalDelete += len(r.Plan.ToDelete)
		}
		if !dryRun {
			fmt.Fprintf(w, "  Fetched:        %d\n", r.Fetched)
			fmt.Fprintf(w, "  Deleted:        %d\n", r.Deleted)
			fmt.Fprintf(w, "  Failed:         %d\n", r.Failed)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total across all repositories: %d to fetch, %d to delete\n", totalFetch, totalDelete)
	if dryRun {
		fmt.Fprintf(w, "\nNote: In dry-run mode, index files are downloaded to compute the plan,\n")
		fmt.Fprintf(w, "but gem files are neither downloaded nor deleted.\n")
	}
	fmt.Fprintln(w)
}
