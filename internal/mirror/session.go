package mirror

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/steakknife/rubygems-mirror/internal/gem"
)

// State is the position of a Session in its run.
type State int

// Session states. Failed is reachable from any state on a fatal error.
const (
	StateIdle State = iota
	StateIndexesUpdated
	StatePlanComputed
	StateFetching
	StateDeleting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateIndexesUpdated:
		return "indexes-updated"
	case StatePlanComputed:
		return "plan-computed"
	case StateFetching:
		return "fetching"
	case StateDeleting:
		return "deleting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Report summarizes a finished Session.
type Report struct {
	Mirror string
	State  State
	Remote int
	// Plan is the computed plan until the delete phase starts; ToDelete
	// then becomes the set that phase works on, read after the fetches.
	Plan     *SyncPlan
	Fetched  int
	Deleted  int
	Failed   int
	Failures []error
}

// SessionOptions tunes a Session.
type SessionOptions struct {
	// Parallelism is the number of workers per phase; DefaultParallelism
	// if not positive.
	Parallelism int
	// Progress receives per-item events; nil discards them.
	Progress Progress
	// DryRun stops after the plan is computed.
	DryRun bool
}

// Session synchronizes one mirror: it updates the index documents,
// computes the plan, then runs the fetch and delete phases.
type Session struct {
	id       string
	mc       *MirrConfig
	storage  *Storage
	reader   *IndexReader
	fetcher  Fetcher
	progress Progress
	opts     SessionOptions

	state  State
	remote NameSet
	plan   *SyncPlan
	report *Report

	// serializes progress notifications
	mu sync.Mutex
}

// NewSession constructs a Session for the mirror id.
func NewSession(id string, mc *MirrConfig, fetcher Fetcher, opts SessionOptions) (*Session, error) {
	if !IsValidID(id) {
		return nil, &ConfigError{Mirror: id, Err: errors.New("invalid id")}
	}
	if err := mc.Check(); err != nil {
		return nil, &ConfigError{Mirror: id, Err: err}
	}
	storage, err := NewStorage(mc.Dir)
	if err != nil {
		return nil, errors.Wrap(err, id)
	}

	progress := opts.Progress
	if progress == nil {
		progress = NopProgress{}
	}

	return &Session{
		id:       id,
		mc:       mc,
		storage:  storage,
		reader:   NewIndexReader(id, mc, storage, fetcher),
		fetcher:  fetcher,
		progress: progress,
		opts:     opts,
		state:    StateIdle,
		report:   &Report{Mirror: id, State: StateIdle},
	}, nil
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Report returns the report of the session so far.
func (s *Session) Report() *Report {
	return s.report
}

func (s *Session) setState(state State) {
	slog.Debug("session state", "repo", s.id, "from", s.state.String(), "to", state.String())
	s.state = state
	s.report.State = state
}

func (s *Session) fail(err error) error {
	s.setState(StateFailed)
	return errors.Wrap(err, s.id)
}

// UpdateIndexes downloads and decodes the index documents. The decoded
// names are kept for the rest of the session.
func (s *Session) UpdateIndexes(ctx context.Context) error {
	if s.state != StateIdle {
		return errors.Newf("%s: cannot update indexes in state %s", s.id, s.state)
	}

	for _, doc := range s.mc.IndexDocuments() {
		slog.Info("updating index", "repo", s.id, "doc", doc, "url", s.mc.Resolve(doc).String())
	}

	ids, err := s.reader.Read(ctx, s.mc.ReuseIndexes)
	if err != nil {
		return s.fail(err)
	}
	ids = applyPackageFilters(s.id, s.mc.Filters, ids)

	s.remote = make(NameSet, len(ids))
	for _, id := range ids {
		name := id.ArtifactName()
		if !gem.SafeArtifactName(name) {
			slog.Warn("skipping gem with unsafe file name", "repo", s.id, "name", name)
			continue
		}
		s.remote[name] = struct{}{}
	}
	s.report.Remote = len(s.remote)

	slog.Info("total gems", "repo", s.id, "total", len(s.remote))
	s.setState(StateIndexesUpdated)
	return nil
}

// Plan compares the remote names with the local inventory.
func (s *Session) Plan() (*SyncPlan, error) {
	if s.state != StateIndexesUpdated {
		return nil, errors.Newf("%s: cannot compute plan in state %s", s.id, s.state)
	}

	local, err := s.storage.Inventory()
	if err != nil {
		return nil, s.fail(err)
	}

	s.plan = Diff(s.remote, local)
	s.report.Plan = s.plan
	slog.Info("sync plan computed", "repo", s.id, "local", len(local),
		"to_fetch", len(s.plan.ToFetch), "to_delete", len(s.plan.ToDelete))
	s.setState(StatePlanComputed)
	return s.plan, nil
}

// Fetch downloads every gem of the plan missing locally.
func (s *Session) Fetch(ctx context.Context) error {
	if s.state != StatePlanComputed {
		return errors.Newf("%s: cannot fetch in state %s", s.id, s.state)
	}
	s.setState(StateFetching)

	done, failures := s.runPhase(ctx, PhaseFetch, s.plan.ToFetch, func(name string) error {
		dest, err := s.storage.ArtifactPath(name)
		if err != nil {
			return &ArtifactFetchError{Name: name, Err: err}
		}
		if err := s.fetcher.Fetch(ctx, s.mc.ArtifactURL(name), dest); err != nil {
			return &ArtifactFetchError{Name: name, Err: err}
		}
		return nil
	})
	s.report.Fetched = done
	s.report.Failed += len(failures)
	s.report.Failures = append(s.report.Failures, failures...)
	return nil
}

// Delete removes local gems that are no longer in the remote index. The
// inventory is read again so that it reflects the fetch phase.
func (s *Session) Delete(ctx context.Context) error {
	if s.state != StateFetching {
		return errors.Newf("%s: cannot delete in state %s", s.id, s.state)
	}
	s.setState(StateDeleting)

	toDelete := s.plan.ToDelete
	if local, err := s.storage.Inventory(); err != nil {
		slog.Warn("failed to re-read inventory, using the computed plan", "repo", s.id, "error", err)
	} else {
		toDelete = difference(local, s.remote)
	}
	s.report.Plan = &SyncPlan{ToFetch: s.plan.ToFetch, ToDelete: toDelete}

	done, failures := s.runPhase(ctx, PhaseDelete, toDelete, func(name string) error {
		if err := ctx.Err(); err != nil {
			return &ArtifactDeleteError{Name: name, Err: err}
		}
		if err := s.storage.RemoveArtifact(name); err != nil {
			return &ArtifactDeleteError{Name: name, Err: err}
		}
		return nil
	})
	s.report.Deleted = done
	s.report.Failed += len(failures)
	s.report.Failures = append(s.report.Failures, failures...)
	return nil
}

// runPhase runs op for every name on a fresh pool and reports each
// completion. It returns the number of successes and the failures.
func (s *Session) runPhase(ctx context.Context, phase Phase, names []string, op func(name string) error) (int, []error) {
	total := len(names)
	if total == 0 {
		slog.Info("nothing to do", "repo", s.id, "phase", string(phase))
	} else {
		slog.Info("phase starts", "repo", s.id, "phase", string(phase), "total", total)
	}

	s.progress.PhaseStarted(s.id, phase, total)

	pool := NewPool(s.opts.Parallelism)
	completed := 0
	for _, name := range names {
		name := name
		pool.Submit(func() error {
			return op(name)
		}, func(err error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			completed++
			if err != nil {
				slog.Warn("item failed", "repo", s.id, "phase", string(phase), "name", name, "error", err)
			}
			s.progress.ItemDone(s.id, phase, name, completed, total, err)
		})
	}
	failures := pool.Wait()

	done := total - len(failures)
	s.progress.PhaseFinished(s.id, phase, done, len(failures))
	slog.Info("phase ends", "repo", s.id, "phase", string(phase), "total", total, "succeeded", done, "failed", len(failures))
	return done, failures
}

// Run performs a whole synchronization and returns its report. The error
// is non-nil only for a fatal failure; per-gem failures are in the
// report.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	if err := s.UpdateIndexes(ctx); err != nil {
		return s.report, err
	}
	if _, err := s.Plan(); err != nil {
		return s.report, err
	}

	if s.opts.DryRun {
		slog.Info("dry run, skipping transfers", "repo", s.id)
		s.setState(StateDone)
		return s.report, nil
	}

	if err := s.Fetch(ctx); err != nil {
		return s.report, s.fail(err)
	}
	if err := s.Delete(ctx); err != nil {
		return s.report, s.fail(err)
	}

	s.setState(StateDone)
	slog.Info("update succeeded", "repo", s.id, "fetched", s.report.Fetched,
		"deleted", s.report.Deleted, "failed", s.report.Failed)
	return s.report, nil
}
