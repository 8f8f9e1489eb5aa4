// Package daemon implements the main update loop of §4.8: a ticker-driven
// discover-then-dispatch cycle over this host's available nodes and
// groups, grounded on the corpus's own scheduler (scheduler.go's
// time.After/select shape) and replication controller (discover jobs,
// then hand each to the worker pool) idioms.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"github.com/radiocosmology/alpenhorn/pkg/alptypes"
	"github.com/radiocosmology/alpenhorn/pkg/autoimport"
	"github.com/radiocosmology/alpenhorn/pkg/byteshuman"
	"github.com/radiocosmology/alpenhorn/pkg/config"
	"github.com/radiocosmology/alpenhorn/pkg/duration"
	"github.com/radiocosmology/alpenhorn/pkg/errtag"
	"github.com/radiocosmology/alpenhorn/pkg/importscan"
	"github.com/radiocosmology/alpenhorn/pkg/index"
	"github.com/radiocosmology/alpenhorn/pkg/ioclass"
	"github.com/radiocosmology/alpenhorn/pkg/nodefs"
	"github.com/radiocosmology/alpenhorn/pkg/taskqueue"
	"github.com/radiocosmology/alpenhorn/pkg/transfer"
)

// Daemon owns this host's view of the Index: which nodes and groups it is
// responsible for, and the I/O class instances built for each.
type Daemon struct {
	idx  *index.Index
	pool *taskqueue.Pool
	cfg  *config.Config
	logl *logex.Leveled

	host     string
	detector *importscan.Chain

	nodes    map[string]ioclass.NodeIO
	watchers map[string]*autoimport.Watcher
	groups   map[string]ioclass.GroupIO

	metrics *Metrics
}

// New builds a Daemon. detector is the I/O-class-independent import
// detector chain built at startup from the configured extension list
// (§4.9); metrics may be nil to disable instrumentation entirely.
func New(idx *index.Index, pool *taskqueue.Pool, cfg *config.Config, logging *config.Logging, detector *importscan.Chain, metrics *Metrics) *Daemon {
	return &Daemon{
		idx:      idx,
		pool:     pool,
		cfg:      cfg,
		logl:     logging.For("daemon"),
		host:     cfg.Host,
		detector: detector,
		nodes:    map[string]ioclass.NodeIO{},
		watchers: map[string]*autoimport.Watcher{},
		groups:   map[string]ioclass.GroupIO{},
		metrics:  metrics,
	}
}

// Run drives the tick loop until ctx is cancelled, on the schedule named
// in cfg.UpdateInterval (§4.8's "every update_interval"). Each tick runs
// its Index queries (active nodes, groups, pending requests) and the node
// marker checks on the loop's own goroutine; the per-file work (imports,
// pulls, deletes, checks, tidy-ups) is handed to the pool.
func (d *Daemon) Run(ctx context.Context) error {
	schedule, err := cron.ParseStandard(fmt.Sprintf("@every %s", d.cfg.UpdateInterval))
	if err != nil {
		return fmt.Errorf("daemon: parsing update_interval as a schedule: %w", err)
	}

	next := schedule.Next(time.Now())

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-time.After(time.Until(next)):
			started := time.Now()

			if err := d.tick(ctx); err != nil {
				if errtag.IsTransient(err) {
					// deadlock/lock-wait already exhausted its own
					// retries inside pkg/index; the next tick tries again.
					d.logl.Debug.Printf("tick: transient: %v", err)
				} else {
					d.logl.Error.Printf("tick: %v", err)
				}
			}

			elapsed := time.Since(started)
			if d.metrics != nil {
				d.metrics.ObserveTick(elapsed)
			}
			if elapsed > d.cfg.UpdateInterval {
				d.logl.Error.Printf("tick took %s, longer than update_interval %s",
					duration.Humanize(elapsed), duration.Humanize(d.cfg.UpdateInterval))
			} else {
				d.logl.Debug.Printf("tick completed in %s", duration.Humanize(elapsed))
			}

			next = schedule.Next(now)
		}
	}
}

// tick performs the four steps of §4.8 once.
func (d *Daemon) tick(ctx context.Context) error {
	if err := d.refreshAvailableNodes(ctx); err != nil {
		return fmt.Errorf("refreshing nodes: %w", err)
	}

	for name, node := range d.nodes {
		d.dispatchNodeWork(ctx, name, node)
	}

	groups, err := d.idx.ActiveGroups()
	if err != nil {
		return fmt.Errorf("listing groups: %w", err)
	}
	for _, g := range groups {
		if err := d.dispatchGroupWork(ctx, g); err != nil {
			d.logl.Error.Printf("group %s: %v", g.Name, err)
		}
	}

	d.emitQueueStats()

	return nil
}

// refreshAvailableNodes applies §4.8 step 1: for nodes active on this host
// that we don't yet have an I/O instance for, build one, and either queue
// an init (marker missing) or bring the node fully online (tidy-up,
// catch-up scan, watcher).
func (d *Daemon) refreshAvailableNodes(ctx context.Context) error {
	active, err := d.idx.FindActiveNodes(d.host)
	if err != nil {
		return err
	}

	activeNames := lo.Map(active, func(n alptypes.Node, _ int) string { return n.Name })

	for name := range d.nodes {
		if !lo.Contains(activeNames, name) {
			d.retireNode(name)
		}
	}

	for _, info := range active {
		if _, known := d.nodes[info.Name]; known {
			continue
		}
		d.bringNodeOnline(ctx, info)
	}

	return nil
}

func (d *Daemon) bringNodeOnline(ctx context.Context, info alptypes.Node) {
	node, err := newNodeIO(info, d.detector)
	if err != nil {
		d.logl.Error.Printf("node %s: %v", info.Name, err)
		return
	}

	state, err := node.CheckInit(ctx)
	if err != nil {
		d.logl.Error.Printf("node %s: check-init: %v", info.Name, err)
		return
	}

	switch state {
	case ioclass.InitError:
		d.logl.Error.Printf("node %s: marker mismatch, refusing", info.Name)
		return
	case ioclass.NotInitialised:
		name := info.Name
		root := node.Root()
		d.pool.Submit(&taskqueue.Task{
			Name:        fmt.Sprintf("init %s", name),
			AffinityKey: name,
			Run: func(ctx context.Context) taskqueue.Result {
				return taskqueue.Done(nodefs.WriteMarker(root, name))
			},
		})
		return
	}

	d.nodes[info.Name] = node
	d.logl.Info.Printf("node %s online (io_class=%s, capacity=%s)",
		info.Name, info.IOClass, byteshuman.Humanize(uint64(info.CapacityGB)<<30))

	d.submitTidyUp(info.Name, node)

	if info.AutoImport {
		d.startWatcher(ctx, info, node)
	}
}

func (d *Daemon) startWatcher(ctx context.Context, info alptypes.Node, node ioclass.NodeIO) {
	scanOnly := false
	scanInterval := time.Duration(0)
	if p, ok := node.(interface{ ScanInterval() time.Duration }); ok {
		scanOnly = true
		scanInterval = p.ScanInterval()
	}

	w, err := autoimport.New(watcherImporter{node}, node.Root(), d.idx, d.pool, scanOnly, scanInterval)
	if err != nil {
		d.logl.Error.Printf("node %s: starting watcher: %v", info.Name, err)
		return
	}

	d.watchers[info.Name] = w
	w.Start(ctx)
}

func (d *Daemon) retireNode(name string) {
	if w, ok := d.watchers[name]; ok {
		_ = w.Close()
		delete(d.watchers, name)
	}
	delete(d.nodes, name)
	d.logl.Info.Printf("node %s no longer available on this host", name)
}

// watcherImporter adapts ioclass.NodeIO to autoimport.Importer's narrower
// method set.
type watcherImporter struct{ node ioclass.NodeIO }

func (w watcherImporter) Name() string { return w.node.Name() }
func (w watcherImporter) Import(ctx context.Context, idx *index.Index, relPath string, registerNew bool) error {
	return w.node.Import(ctx, idx, relPath, registerNew)
}
func (w watcherImporter) TidyUp(ctx context.Context, idx *index.Index) error {
	return w.node.TidyUp(ctx, idx)
}

// dispatchNodeWork applies §4.8 step 2 for one node: import requests,
// Suspect verifications, Released deletions, and a quota refresh.
func (d *Daemon) dispatchNodeWork(ctx context.Context, name string, node ioclass.NodeIO) {
	reqs, err := d.idx.PendingImportRequests(name, d.cfg.PerTickImportCap)
	if err != nil {
		d.logl.Error.Printf("node %s: pending import requests: %v", name, err)
	}
	for _, req := range reqs {
		d.submitImportRequest(name, node, req)
	}

	suspects, err := d.idx.SuspectCopies(name, d.cfg.PerTickVerifyCap)
	if err != nil {
		d.logl.Error.Printf("node %s: suspect copies: %v", name, err)
	}
	for _, fc := range suspects {
		d.submitVerify(name, node, fc)
	}

	released, err := d.idx.ReleasedCopies(name, d.cfg.PerTickDeleteCap)
	if err != nil {
		d.logl.Error.Printf("node %s: released copies: %v", name, err)
	}
	for _, fc := range released {
		d.submitDelete(name, node, fc)
	}

	d.pool.Submit(&taskqueue.Task{
		Name:           fmt.Sprintf("refresh available_bytes %s", name),
		AffinityKey:    name,
		Parallelizable: true,
		Run: func(ctx context.Context) taskqueue.Result {
			_, err := node.AvailableBytes(ctx)
			return taskqueue.Done(err)
		},
	})
}

func (d *Daemon) submitImportRequest(name string, node ioclass.NodeIO, req alptypes.ImportRequest) {
	d.pool.Submit(&taskqueue.Task{
		Name:        fmt.Sprintf("import request %d on %s", req.ID, name),
		AffinityKey: name,
		Run: func(ctx context.Context) taskqueue.Result {
			err := d.importRequestPaths(ctx, node, req)
			if err == nil {
				err = d.idx.CompleteRequest(index.ImportRequestKind, req.ID)
			}
			return taskqueue.Done(err)
		},
	})
}

func (d *Daemon) importRequestPaths(ctx context.Context, node ioclass.NodeIO, req alptypes.ImportRequest) error {
	if !req.Recurse {
		return node.Import(ctx, d.idx, req.Path, req.RegisterNew)
	}

	return importscan.ScanDirectory(ctx, node.Root(), req.Path, func(relPath string) error {
		return node.Import(ctx, d.idx, relPath, req.RegisterNew)
	})
}

func (d *Daemon) submitVerify(name string, node ioclass.NodeIO, fc alptypes.FileCopy) {
	d.pool.Submit(&taskqueue.Task{
		Name:        fmt.Sprintf("verify file %d on %s", fc.FileID, name),
		AffinityKey: name,
		Run: func(ctx context.Context) taskqueue.Result {
			file, err := d.idx.FileByID(fc.FileID)
			if err != nil {
				return taskqueue.Done(err)
			}
			return taskqueue.Done(node.Check(ctx, d.idx, file))
		},
	})
}

func (d *Daemon) submitDelete(name string, node ioclass.NodeIO, fc alptypes.FileCopy) {
	d.pool.Submit(&taskqueue.Task{
		Name:        fmt.Sprintf("delete file %d on %s", fc.FileID, name),
		AffinityKey: name,
		Run: func(ctx context.Context) taskqueue.Result {
			file, err := d.idx.FileByID(fc.FileID)
			if err != nil {
				return taskqueue.Done(err)
			}
			return taskqueue.Done(node.Delete(ctx, d.idx, file))
		},
	})
}

func (d *Daemon) submitTidyUp(name string, node ioclass.NodeIO) {
	d.pool.Submit(&taskqueue.Task{
		Name:        fmt.Sprintf("tidy-up %s", name),
		AffinityKey: name,
		Run: func(ctx context.Context) taskqueue.Result {
			return taskqueue.Done(node.TidyUp(ctx, d.idx))
		},
	})
}

// dispatchGroupWork applies §4.8 step 3: pending CopyRequests whose
// destination is group, one Pull task per request.
func (d *Daemon) dispatchGroupWork(ctx context.Context, group alptypes.Group) error {
	// Rebuilt every tick rather than cached: membership tracks whichever
	// nodes are currently online on this host, and a GroupIO instance is
	// cheap (it just wraps already-built NodeIO values).
	gio, err := newGroupIO(group, d.groupMembers(group.Name))
	if err != nil {
		return err
	}
	d.groups[group.Name] = gio

	reqs, err := d.idx.PendingCopyRequests(group.Name, d.cfg.PerTickCopyCap)
	if err != nil {
		return err
	}

	for _, req := range reqs {
		d.submitCopyRequest(group.Name, gio, req)
	}

	return nil
}

func (d *Daemon) groupMembers(groupName string) []ioclass.NodeIO {
	var members []ioclass.NodeIO
	for _, n := range d.nodes {
		if n.Info().GroupName == groupName {
			members = append(members, n)
		}
	}
	return members
}

func (d *Daemon) submitCopyRequest(groupName string, gio ioclass.GroupIO, req alptypes.CopyRequest) {
	d.pool.Submit(&taskqueue.Task{
		Name:           fmt.Sprintf("copy request %d into %s", req.ID, groupName),
		AffinityKey:    groupName,
		Parallelizable: true,
		Run: func(ctx context.Context) taskqueue.Result {
			res := d.runCopyRequest(ctx, gio, req)
			if res.Defer > 0 {
				// the failed attempt is now counted in n_requests; keep
				// this task's copy in step for its deferred re-run.
				req.NRequests++
			}
			return res
		},
	})
}

// runCopyRequest attempts one pull for req. A failed pull bumps the
// request's attempt count and re-defers itself along §4.7 step 6's backoff
// ladder; once the count reaches transfer.MaxAttempts the destination copy
// is marked Missing and the request is left pending rather than completed
// or cancelled, so an operator (or a later sync) can still pick it up.
func (d *Daemon) runCopyRequest(ctx context.Context, gio ioclass.GroupIO, req alptypes.CopyRequest) taskqueue.Result {
	file, err := d.idx.FileByID(req.FileID)
	if err != nil {
		return taskqueue.Done(err)
	}

	source, err := d.idx.NodeByName(req.SourceNode)
	if err != nil {
		return taskqueue.Done(err)
	}

	destNode, pullErr := gio.Pull(ctx, d.idx, ioclass.PullRequest{File: file, SourceNode: source, CopyReqID: req.ID})
	if pullErr == nil {
		return taskqueue.Done(d.idx.CompleteRequest(index.CopyRequestKind, req.ID))
	}

	// n_requests starts at 1 for a new request and is bumped once per
	// failed pull, so before this failure is recorded it is the failure's
	// 1-based attempt number.
	attempt := req.NRequests
	if attempt < 1 {
		attempt = 1
	}
	if err := d.idx.IncrementCopyRequestAttempts(req.ID); err != nil {
		d.logl.Error.Printf("copy request %d: recording attempt %d: %v", req.ID, attempt, err)
	}

	if attempt >= transfer.MaxAttempts {
		d.logl.Error.Printf("copy request %d: giving up on %s after %d attempts, marking file %d missing there: %v",
			req.ID, destNode, attempt, req.FileID, pullErr)
		if destNode != "" {
			if err := d.idx.SetCopyState(req.FileID, destNode, alptypes.CopyMissing, 0); err != nil {
				d.logl.Error.Printf("copy request %d: marking %s missing: %v", req.ID, destNode, err)
			}
		}
		return taskqueue.Done(pullErr)
	}

	backoff := transfer.NextBackoff(attempt)
	d.logl.Debug.Printf("copy request %d: attempt %d on %s failed, retrying in %s: %v",
		req.ID, attempt, destNode, duration.Humanize(backoff), pullErr)
	return taskqueue.Result{Err: pullErr, Defer: backoff}
}

// emitQueueStats applies §4.8 step 4.
func (d *Daemon) emitQueueStats() {
	depth, deferred, inProgress := d.pool.QueueDepth(), d.pool.DeferredDepth(), d.pool.InProgress()

	d.logl.Info.Printf("queue: ready=%d deferred=%d in_progress=%d nodes=%d groups=%d",
		depth, deferred, inProgress, len(d.nodes), len(d.groups))

	if d.metrics != nil {
		d.metrics.SetQueueDepth(depth, deferred, inProgress)
	}
}
