package coordinator

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/mdsentry/internal/conflict"
	serrors "github.com/Aman-CERP/mdsentry/internal/errors"
	"github.com/Aman-CERP/mdsentry/internal/filestate"
	"github.com/Aman-CERP/mdsentry/internal/watcher"
)

// probeConcurrency bounds parallel stats of newly discovered include targets.
const probeConcurrency = 8

type detectOpts struct {
	// appeared marks a create event or a newly discovered include target.
	appeared bool
	// force bypasses the mtime pre-filter.
	force bool
}

// timerKey identifies one scheduled follow-up for a path.
type timerKey struct {
	path    string
	purpose string
}

const (
	purposeRecheck     = "recheck"
	purposeRetrySave   = "retry"
	purposeRetryNative = "retry-native"
)

// tracked reports whether path has a record.
func (c *Coordinator) tracked(path string) bool {
	_, ok := c.store.Observe(path)
	return ok
}

// detectLocked probes path and queues whatever it classifies to. It returns
// include targets discovered by adopting the file, which the caller must
// expand once the turn ends.
func (c *Coordinator) detectLocked(path string, o detectOpts) []string {
	var recp *filestate.Record
	if rec, ok := c.store.Observe(path); ok {
		recp = &rec
	}
	disk := conflict.Probe(c.fs, path, recp, o.force)
	return c.evaluateLocked(path, recp, disk, o)
}

func (c *Coordinator) evaluateLocked(path string, rec *filestate.Record, disk conflict.DiskStat, o detectOpts) []string {
	cb := c.breakers.Get(path)
	if disk.Err != nil && disk.Err.Retryable {
		if !cb.RecordFailure() {
			delay := c.retry.Delay(cb.Failures() - 1)
			c.logger.Debug("transient probe failure, rechecking",
				slog.String("path", path),
				slog.Int("failures", cb.Failures()),
				slog.Duration("delay", delay))
			c.scheduleLocked(path, purposeRecheck, delay, func() { c.recheck(path) })
			return nil
		}
		c.logger.Warn("probe keeps failing, escalating",
			slog.String("path", path),
			slog.Int("failures", cb.Failures()))
		disk.Err = serrors.PermissionError(path, disk.Err)
	} else if disk.Err == nil {
		cb.RecordSuccess()
	}

	if rec != nil && disk.Err == nil {
		c.store.MarkMissing(path, !disk.Exists)
		if disk.Exists {
			c.store.SetIdentity(path, disk.Info)
		}
	}

	sig := conflict.Signals{
		Appeared:         o.appeared,
		FirstSinceSwitch: c.sinceSwitch[path],
	}
	if st, ok := c.watch.State(path); ok {
		sig.Health = st
	} else if rec != nil {
		sig.Health = rec.WatchState
	}
	if o.appeared {
		if owner, ok := c.store.SlotOwner(path); ok {
			if holder, ok := c.store.Observe(owner); ok {
				sig.SlotHolder = &holder
			}
		}
	}

	found := c.classifier.Classify(path, rec, disk, sig)
	if found == nil {
		if rec != nil && !rec.Known() && disk.Exists && disk.Content != nil {
			return c.adoptLocked(path, disk)
		}
		return nil
	}
	if found.Kind == conflict.KindExternalDeleted && rec != nil && !rec.Known() {
		found.Cause = "include target does not exist"
	}
	if c.admitLocked(found) {
		c.pushLocked(found)
	}
	return nil
}

// admitLocked filters detections the user already answered.
func (c *Coordinator) admitLocked(found *conflict.Conflict) bool {
	switch found.Kind {
	case conflict.KindExternalModified:
		if h, ok := c.ignored[found.Path]; ok && h == found.DiskHash {
			return false
		}
	case conflict.KindPermissionDenied:
		if c.readOnly[found.Path] {
			return false
		}
	case conflict.KindWatchFailure:
		if cur, ok := c.queue.InFlightFor(found.Path); ok && cur.Kind == conflict.KindWatchFailure {
			return false
		}
	}
	return true
}

func (c *Coordinator) pushLocked(found *conflict.Conflict) {
	if c.tracked(found.Path) {
		found.RelatedEdges = append(c.graph.Outgoing(found.Path), c.graph.Incoming(found.Path)...)
	}
	coalesced := c.queue.Push(found, c.now())
	c.metrics.RecordDetection(found.Path, found.Kind, coalesced)
	c.logger.Info("conflict detected",
		slog.String("path", found.Path),
		slog.String("kind", string(found.Kind)),
		slog.String("severity", found.Severity.String()),
		slog.Bool("coalesced", coalesced))
	c.signal()
}

// adoptLocked accepts the disk content of a tracked file that has never
// been committed.
func (c *Coordinator) adoptLocked(path string, disk conflict.DiskStat) []string {
	c.store.Commit(path, disk.Content, disk.Hash, disk.ModTime)
	c.store.SetIdentity(path, disk.Info)
	return c.reparseLocked(path, disk.Content)
}

// commitLocked accepts content as the saved state of path and clears
// every per-path flag the save answers.
func (c *Coordinator) commitLocked(path string, content []byte, hash string) []string {
	var mtime time.Time
	info, err := c.fs.Stat(path)
	if err == nil {
		mtime = info.ModTime()
	}
	c.store.Commit(path, content, hash, mtime)
	if info != nil {
		c.store.SetIdentity(path, info)
	}
	delete(c.readOnly, path)
	delete(c.pendingSaves, path)
	delete(c.attempts, path)
	delete(c.ignored, path)
	c.breakers.Get(path).RecordSuccess()

	if cur, ok := c.queue.InFlightFor(path); ok && cur.Kind == conflict.KindPermissionDenied {
		c.cancelPromptLocked(path, cur.ID)
		c.queue.Complete(path)
	}
	return c.reparseLocked(path, content)
}

// reparseLocked replaces the outgoing include edges of path from content,
// queues newly rejected cycles and drops files no document reaches any
// more. It returns the targets that are not tracked yet.
func (c *Coordinator) reparseLocked(path string, content []byte) []string {
	edges := c.extractor.Edges(path, content)
	for _, cycle := range c.graph.SetEdges(path, edges) {
		c.logger.Warn("include cycle rejected",
			slog.String("from", cycle.Edge.From),
			slog.String("to", cycle.Edge.To))
		c.pushLocked(conflict.ForCycle(cycle, c.now()))
	}

	var discovered []string
	for _, e := range c.graph.Outgoing(path) {
		if !c.tracked(e.To) {
			discovered = append(discovered, e.To)
		}
	}
	c.collectLocked()
	return discovered
}

// collectLocked untracks every file no registered document reaches.
func (c *Coordinator) collectLocked() {
	roots := make([]string, 0, len(c.docs))
	for _, root := range c.docs {
		roots = append(roots, root)
	}
	live := c.graph.Reachable(roots...)
	for _, p := range c.store.Paths() {
		if !live[p] {
			c.untrackLocked(p)
		}
	}
}

func (c *Coordinator) trackLocked(path string) {
	if !c.store.Track(path) {
		return
	}
	h, err := c.watch.Start(path)
	if err != nil {
		c.logger.Warn("failed to watch file",
			slog.String("path", path),
			slog.String("error", err.Error()))
	} else {
		c.handles[path] = h
	}
	if st, ok := c.watch.State(path); ok {
		c.store.SetWatchState(path, st)
	}
}

func (c *Coordinator) untrackLocked(path string) {
	if h, ok := c.handles[path]; ok {
		c.watch.Stop(h)
		delete(c.handles, path)
	}
	c.store.Forget(path)
	c.graph.RemoveAllFor(path)
	c.queue.CancelAll(path)
	if p, ok := c.prompts[path]; ok {
		p.cancel()
		delete(c.prompts, path)
	}
	c.breakers.Forget(path)
	c.policy.ForgetSession(path)
	for key, t := range c.timers {
		if key.path == path {
			t.Stop()
			delete(c.timers, key)
		}
	}
	delete(c.sinceSwitch, path)
	delete(c.readOnly, path)
	delete(c.ignored, path)
	delete(c.attempts, path)
	delete(c.pendingSaves, path)
	c.logger.Debug("file untracked", slog.String("path", path))
}

// expand tracks and evaluates newly discovered include targets until no
// new target turns up. Targets are probed in parallel outside the turn.
func (c *Coordinator) expand(ctx context.Context, frontier []string) error {
	for len(frontier) > 0 {
		probes, err := c.probeAll(ctx, frontier)
		if err != nil {
			return err
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return c.closedError()
		}
		var next []string
		for i, p := range frontier {
			next = append(next, c.admitTargetLocked(p, probes[i])...)
		}
		c.mu.Unlock()
		c.signal()
		frontier = next
	}
	return nil
}

func (c *Coordinator) probeAll(ctx context.Context, paths []string) ([]conflict.DiskStat, error) {
	probes := make([]conflict.DiskStat, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			probes[i] = conflict.Probe(c.fs, p, nil, true)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return probes, nil
}

func (c *Coordinator) admitTargetLocked(path string, disk conflict.DiskStat) []string {
	if c.tracked(path) {
		return c.detectLocked(path, detectOpts{})
	}
	if !c.reachableLocked(path) {
		return nil
	}
	c.trackLocked(path)
	rec, _ := c.store.Observe(path)
	return c.evaluateLocked(path, &rec, disk, detectOpts{appeared: disk.Exists})
}

// reachableLocked reports whether a registered document reaches path.
func (c *Coordinator) reachableLocked(path string) bool {
	for _, root := range c.docs {
		if root == path {
			return true
		}
	}
	roots := make([]string, 0, len(c.docs))
	for _, root := range c.docs {
		roots = append(roots, root)
	}
	return c.graph.Reachable(roots...)[path]
}

// expandDetached runs expand for follow-ups that start outside any API call.
func (c *Coordinator) expandDetached(discovered []string) {
	if len(discovered) == 0 {
		return
	}
	if err := c.expand(c.baseCtx, discovered); err != nil && c.baseCtx.Err() == nil {
		c.logger.Warn("failed to track include targets", slog.String("error", err.Error()))
	}
}

// HandleEvents runs one turn for a batch of watcher events.
func (c *Coordinator) HandleEvents(ctx context.Context, batch []watcher.Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	var discovered []string
	for _, ev := range batch {
		if !c.tracked(ev.Path) {
			continue
		}
		c.logger.Debug("file event",
			slog.String("path", ev.Path),
			slog.String("op", ev.Op.String()),
			slog.Bool("synthesized", ev.Synthesized))
		discovered = append(discovered, c.detectLocked(ev.Path, detectOpts{appeared: ev.Op == watcher.OpCreated})...)
	}
	c.mu.Unlock()

	if len(discovered) > 0 {
		if err := c.expand(ctx, discovered); err != nil && ctx.Err() == nil {
			c.logger.Warn("failed to track include targets", slog.String("error", err.Error()))
		}
	}
}

// HandleHealth runs one turn for a watch health transition. A switch to
// POLLING is reported once as a watch-failure until acknowledged.
func (c *Coordinator) HandleHealth(ctx context.Context, ev watcher.HealthEvent) {
	c.mu.Lock()
	if c.closed || !c.tracked(ev.Path) {
		c.mu.Unlock()
		return
	}
	c.store.SetWatchState(ev.Path, ev.State)
	var discovered []string
	switch ev.State {
	case watcher.HealthPolling:
		c.sinceSwitch[ev.Path] = true
		discovered = c.detectLocked(ev.Path, detectOpts{})
	case watcher.HealthActive:
		delete(c.sinceSwitch, ev.Path)
	}
	c.mu.Unlock()

	if len(discovered) > 0 {
		if err := c.expand(ctx, discovered); err != nil && ctx.Err() == nil {
			c.logger.Warn("failed to track include targets", slog.String("error", err.Error()))
		}
	}
}

// CheckNow forces classification of path, bypassing the mtime pre-filter.
// An empty path checks every tracked file.
func (c *Coordinator) CheckNow(ctx context.Context, path string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.closedError()
	}
	var paths []string
	if path == "" {
		paths = c.store.Paths()
	} else {
		p := canonical(path)
		if !c.tracked(p) {
			c.mu.Unlock()
			return serrors.New(serrors.ErrCodeUnknownDocument, "path is not tracked", nil).WithDetail("path", p)
		}
		paths = []string{p}
	}
	var discovered []string
	for _, p := range paths {
		discovered = append(discovered, c.detectLocked(p, detectOpts{force: true})...)
	}
	c.mu.Unlock()

	return c.expand(ctx, discovered)
}

// scheduleLocked runs fn after d, replacing any follow-up with the same
// purpose for path. fn runs outside the turn.
func (c *Coordinator) scheduleLocked(path, purpose string, d time.Duration, fn func()) {
	key := timerKey{path: path, purpose: purpose}
	if t, ok := c.timers[key]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		c.mu.Lock()
		if c.closed || c.timers[key] != t {
			c.mu.Unlock()
			return
		}
		delete(c.timers, key)
		c.mu.Unlock()
		fn()
	})
	c.timers[key] = t
}

func (c *Coordinator) recheck(path string) {
	c.mu.Lock()
	if c.closed || !c.tracked(path) {
		c.mu.Unlock()
		return
	}
	discovered := c.detectLocked(path, detectOpts{force: true})
	c.mu.Unlock()
	c.expandDetached(discovered)
}
