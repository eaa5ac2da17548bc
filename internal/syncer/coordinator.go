// Package syncer keeps houses in line with the dream house template and the
// criteria service. Local edits apply immediately; remote work runs in the
// background with at most one sync per house in flight.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/denisok6893-rgb/open-house/internal/domain"
	"github.com/denisok6893-rgb/open-house/internal/house"
	"github.com/denisok6893-rgb/open-house/internal/matching"
	"github.com/denisok6893-rgb/open-house/internal/storage"
)

// Remote is the part of the criteria service the coordinator needs.
type Remote interface {
	Criteria(ctx context.Context, hid int64) ([]domain.Criterion, error)
	UpdateCriterion(ctx context.Context, req domain.UpdateCriterionRequest) error
	AddCriterion(ctx context.Context, req domain.AddCriterionRequest) error
	RemoveCriterion(ctx context.Context, req domain.RemoveCriterionRequest) error
}

type TokenSource interface {
	Token() string
}

// Persister stores the local copy of a house.
type Persister interface {
	SaveLocalHouse(ctx context.Context, h storage.LocalHouse) error
}

// Dispatcher runs completions on the context that owns the houses.
type Dispatcher func(func())

// Outcome is the result of a sync. Skipped means no remote call was made.
type Outcome struct {
	Err     error
	Skipped bool
}

func (o Outcome) OK() bool { return o.Err == nil }

type Coordinator struct {
	remote   Remote
	tokens   TokenSource
	template *house.Template
	engine   *matching.Engine
	persist  Persister
	dispatch Dispatcher
	logger   *slog.Logger
	metrics  *Metrics
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group
	wg     sync.WaitGroup

	mu     sync.Mutex
	states map[string]*houseState
	hooks  []func(Event)
}

// houseState is guarded by its own mutex, which also serializes every store
// mutation made through the coordinator for that house. Store subscribers run
// under it and must not call back into the coordinator for the same house.
type houseState struct {
	mu       sync.Mutex
	syncing  bool
	sending  bool
	inflight int64
	outbox   []int64
	detached bool
	// unsent holds user criteria the service has not stored yet, removed
	// the ones it still has after a local remove.
	unsent  map[int64]struct{}
	removed map[int64]struct{}
}

func mark(m *map[int64]struct{}, id int64) {
	if *m == nil {
		*m = make(map[int64]struct{})
	}
	(*m)[id] = struct{}{}
}

// dirtyLocked returns ids whose latest local value the service has not acknowledged.
func (hs *houseState) dirtyLocked() map[int64]struct{} {
	out := make(map[int64]struct{}, len(hs.outbox)+1)
	for _, id := range hs.outbox {
		out[id] = struct{}{}
	}
	if hs.sending && hs.inflight != 0 {
		out[hs.inflight] = struct{}{}
	}
	return out
}

type Option func(*Coordinator)

func WithPersister(p Persister) Option { return func(c *Coordinator) { c.persist = p } }

func WithDispatcher(d Dispatcher) Option { return func(c *Coordinator) { c.dispatch = d } }

func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

func WithMetrics(m *Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// WithTimeout bounds each remote call.
func WithTimeout(d time.Duration) Option { return func(c *Coordinator) { c.timeout = d } }

func New(remote Remote, tokens TokenSource, tmpl *house.Template, engine *matching.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		remote:   remote,
		tokens:   tokens,
		template: tmpl,
		engine:   engine,
		dispatch: func(f func()) { f() },
		logger:   slog.Default(),
		timeout:  15 * time.Second,
		states:   make(map[string]*houseState),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	if c.engine == nil {
		c.engine = matching.NewEngine(nil)
	}
	if c.template == nil {
		c.template = house.NewTemplate()
	}
	c.logger = c.logger.With("component", "syncer")
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// OnEvent registers fn for remote results of every attached house.
func (c *Coordinator) OnEvent(fn func(Event)) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Wait blocks until all background work started so far has finished.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Close cancels outstanding remote calls and waits for background work.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// Detach is called when the view showing h goes away. Pending edits are
// still sent, but completions for h become no-ops.
func (c *Coordinator) Detach(h *house.House) {
	c.mu.Lock()
	hs, ok := c.states[h.Key]
	delete(c.states, h.Key)
	c.mu.Unlock()
	if !ok {
		return
	}
	hs.mu.Lock()
	hs.detached = true
	hs.mu.Unlock()
}

func (c *Coordinator) state(h *house.House) *houseState {
	c.mu.Lock()
	defer c.mu.Unlock()
	hs, ok := c.states[h.Key]
	if !ok {
		hs = &houseState{}
		c.states[h.Key] = hs
	}
	return hs
}

// Syncing reports whether a sync of h is in flight.
func (c *Coordinator) Syncing(h *house.House) bool {
	hs := c.state(h)
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.syncing
}

// ---- template ----

// SyncWithDreamHouse adds missing template criteria to h. It is idempotent.
func (c *Coordinator) SyncWithDreamHouse(ctx context.Context, h *house.House) bool {
	return c.syncTemplate(ctx, h, c.state(h))
}

// syncTemplate works on a state the caller already holds, so a detached
// house is not registered again.
func (c *Coordinator) syncTemplate(ctx context.Context, h *house.House, hs *houseState) bool {
	hs.mu.Lock()
	changed := h.SyncCriteriaWithDreamHouse(c.template)
	hs.mu.Unlock()
	if changed {
		c.logger.Debug("dream house criteria merged", "house", h.Key, "hid", h.HID())
	}
	c.refresh(ctx, h)
	return changed
}

// HousesAvailable runs the template merge on every house of a freshly loaded list.
func (c *Coordinator) HousesAvailable(ctx context.Context, houses []*house.House) {
	for _, h := range houses {
		c.SyncWithDreamHouse(ctx, h)
	}
}

// ---- local mutations ----

// UpdateValue applies a new value locally and queues it for the service.
// Only local validation errors are returned; the remote result arrives as an Event.
func (c *Coordinator) UpdateValue(ctx context.Context, h *house.House, ref domain.Ref, v float64) error {
	hs := c.state(h)
	hs.mu.Lock()
	cr, err := h.Criteria.UpdateValue(ref, v)
	if err != nil {
		hs.mu.Unlock()
		return err
	}
	start := false
	if c.remoteEnabled(h) {
		start = hs.enqueueLocked(cr.ID)
		c.metrics.Updates.WithLabelValues("queued").Inc()
	} else {
		c.metrics.Updates.WithLabelValues("local_only").Inc()
	}
	hs.mu.Unlock()

	c.refresh(ctx, h)
	if start {
		c.startDrain(h, hs)
	}
	return nil
}

// Add appends a user criterion and queues it for the service. A zero id is
// replaced by a free one from the user range, so it never collides with a
// criterion the dream house gains later.
func (c *Coordinator) Add(ctx context.Context, h *house.House, category domain.Category, cr domain.Criterion) (domain.Criterion, error) {
	if cr.ID != 0 && cr.ID < domain.FirstUserCriterionID {
		return domain.Criterion{}, fmt.Errorf("%w: %d", domain.ErrReservedID, cr.ID)
	}
	hs := c.state(h)
	hs.mu.Lock()
	if cr.ID == 0 {
		cr.ID = max(h.Criteria.NextID(), domain.FirstUserCriterionID)
	}
	cr.IsDream = false
	if err := h.Criteria.Add(category, cr); err != nil {
		hs.mu.Unlock()
		return domain.Criterion{}, err
	}
	start := false
	if c.remoteEnabled(h) {
		mark(&hs.unsent, cr.ID)
		start = hs.enqueueLocked(cr.ID)
		c.metrics.Updates.WithLabelValues("queued").Inc()
	}
	hs.mu.Unlock()

	cr.Category = category
	c.refresh(ctx, h)
	if start {
		c.startDrain(h, hs)
	}
	return cr, nil
}

// Remove deletes a user criterion locally and, once the service has it,
// remotely too.
func (c *Coordinator) Remove(ctx context.Context, h *house.House, ref domain.Ref) error {
	hs := c.state(h)
	hs.mu.Lock()
	cr, err := h.Criteria.Remove(ref)
	if err != nil {
		hs.mu.Unlock()
		return err
	}
	start := false
	if c.remoteEnabled(h) {
		_, unsent := hs.unsent[cr.ID]
		delete(hs.unsent, cr.ID)
		// an add already on the wire may still land
		if !unsent || hs.inflight == cr.ID {
			mark(&hs.removed, cr.ID)
			start = hs.enqueueLocked(cr.ID)
		}
	}
	hs.mu.Unlock()

	c.refresh(ctx, h)
	if start {
		c.startDrain(h, hs)
	}
	return nil
}

func (c *Coordinator) Move(ctx context.Context, h *house.House, from, to domain.Ref) error {
	hs := c.state(h)
	hs.mu.Lock()
	err := h.Criteria.Move(from, to)
	hs.mu.Unlock()
	if err != nil {
		return err
	}
	c.refresh(ctx, h)
	return nil
}

// remoteEnabled is false for houses the service does not know yet. Without a
// hid there is nothing to key an update by, with or without a token.
func (c *Coordinator) remoteEnabled(h *house.House) bool {
	return h.HID() != 0
}

// refresh recalculates the rank and stores the local copy.
func (c *Coordinator) refresh(ctx context.Context, h *house.House) {
	h.CalculateRank(c.engine)
	if c.persist == nil {
		return
	}
	if err := c.persist.SaveLocalHouse(ctx, ToLocal(h)); err != nil {
		c.logger.Warn("persist house failed", "house", h.Key, "err", err)
	}
}

// ---- remote sync ----

// SyncCriteria reconciles h with the service in the background and calls
// done with the outcome. A request for a house that is already syncing joins
// the running sync instead of starting another.
func (c *Coordinator) SyncCriteria(h *house.House, done func(Outcome)) {
	c.syncCriteria(h, done, nil)
}

// syncCriteria calls dropped instead of done when h was detached meanwhile.
func (c *Coordinator) syncCriteria(h *house.House, done func(Outcome), dropped func()) {
	hs := c.state(h)
	c.metrics.SyncRequests.Inc()

	ch := c.group.DoChan(h.Key, func() (any, error) {
		return c.syncOnce(h, hs), nil
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res := <-ch
		out, _ := res.Val.(Outcome)
		delivered := c.deliver(h, hs, func() {
			if done != nil {
				done(out)
			}
		})
		if !delivered && dropped != nil {
			dropped()
		}
	}()
}

// SyncCriteriaWait is SyncCriteria for callers that can block. A house
// detached before the sync completes yields ErrStaleReference.
func (c *Coordinator) SyncCriteriaWait(ctx context.Context, h *house.House) Outcome {
	ch := make(chan Outcome, 1)
	c.syncCriteria(h,
		func(o Outcome) { ch <- o },
		func() { ch <- Outcome{Err: domain.ErrStaleReference} })
	select {
	case o := <-ch:
		return o
	case <-ctx.Done():
		return Outcome{Err: ctx.Err()}
	}
}

func (c *Coordinator) syncOnce(h *house.House, hs *houseState) (out Outcome) {
	hs.mu.Lock()
	if hs.detached {
		hs.mu.Unlock()
		return Outcome{Err: domain.ErrStaleReference}
	}
	hs.syncing = true
	// an edit in flight now may land after the snapshot is read
	dirty := hs.dirtyLocked()
	hs.mu.Unlock()

	defer func() {
		hs.mu.Lock()
		hs.syncing = false
		start := hs.claimDrainLocked()
		hs.mu.Unlock()
		if start {
			c.startDrain(h, hs)
		}
		label := "ok"
		switch {
		case out.Err != nil:
			label = "failed"
		case out.Skipped:
			label = "skipped"
		}
		c.metrics.SyncRuns.WithLabelValues(label).Inc()
	}()

	hid := h.HID()
	if c.tokens.Token() == "" || hid == 0 {
		c.syncTemplate(c.ctx, h, hs)
		return Outcome{Skipped: true}
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()
	list, err := c.remote.Criteria(ctx, hid)
	if err != nil {
		c.logger.Warn("sync criteria failed", "house", h.Key, "hid", hid, "err", err)
		return Outcome{Err: err}
	}

	hs.mu.Lock()
	for id := range hs.dirtyLocked() {
		dirty[id] = struct{}{}
	}
	changed := merge(h, list, dirty)
	hs.mu.Unlock()
	c.logger.Debug("criteria synced", "house", h.Key, "hid", hid, "remote", len(list), "changed", changed)

	c.syncTemplate(c.ctx, h, hs)
	return Outcome{}
}

// merge overwrites local values with the service's, except for criteria with
// unacknowledged local edits, and appends criteria only the service has.
func merge(h *house.House, remote []domain.Criterion, dirty map[int64]struct{}) bool {
	changed := false
	h.Criteria.Apply(func(lists map[domain.Category][]domain.Criterion) bool {
		type pos struct {
			cat domain.Category
			i   int
		}
		local := make(map[int64]pos)
		for cat, list := range lists {
			for i, l := range list {
				local[l.ID] = pos{cat, i}
			}
		}

		var added []domain.Criterion
		seen := make(map[int64]struct{}, len(remote))
		for _, r := range remote {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			if _, ok := dirty[r.ID]; ok {
				continue
			}
			p, ok := local[r.ID]
			if !ok {
				if r.Validate() == nil {
					added = append(added, r)
				}
				continue
			}
			l := &lists[p.cat][p.i]
			if l.Value != r.Value && l.Type.Accepts(r.Value) {
				l.Value = r.Value
				changed = true
			}
		}
		for _, r := range added {
			lists[r.Category] = append(lists[r.Category], r)
			changed = true
		}
		return changed
	})
	return changed
}

// ---- outbound updates ----

// enqueueLocked queues id and reports whether the caller must start a drain.
func (hs *houseState) enqueueLocked(id int64) bool {
	queued := false
	for _, q := range hs.outbox {
		if q == id {
			queued = true
			break
		}
	}
	if !queued {
		hs.outbox = append(hs.outbox, id)
	}
	return hs.claimDrainLocked()
}

// claimDrainLocked marks the house as sending when there is work and no
// sync or drain is running.
func (hs *houseState) claimDrainLocked() bool {
	if hs.syncing || hs.sending || len(hs.outbox) == 0 {
		return false
	}
	hs.sending = true
	return true
}

func (c *Coordinator) startDrain(h *house.House, hs *houseState) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.drain(h, hs)
	}()
}

// drain sends queued edits one at a time, in order, reading each value at
// send time. It stops when the queue empties or a sync begins.
func (c *Coordinator) drain(h *house.House, hs *houseState) {
	for {
		hs.mu.Lock()
		if hs.syncing || len(hs.outbox) == 0 {
			hs.sending = false
			hs.inflight = 0
			hs.mu.Unlock()
			return
		}
		id := hs.outbox[0]
		hs.outbox = hs.outbox[1:]
		hs.inflight = id
		hs.mu.Unlock()

		c.send(h, hs, id)
	}
}

// send pushes the current state of one criterion: a pending remove first,
// then an add for a criterion the service lacks, else a value update.
func (c *Coordinator) send(h *house.House, hs *houseState, id int64) {
	hs.mu.Lock()
	_, cr, ok := h.Criteria.Find(id)
	_, unsent := hs.unsent[id]
	_, removed := hs.removed[id]
	hs.mu.Unlock()
	if !ok && !removed {
		return
	}
	req := domain.UpdateCriterionRequest{HID: h.HID(), ID: id, Value: cr.Value}

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	var err error
	if removed {
		err = c.removeRemote(ctx, h, hs, id)
	}
	switch {
	case err != nil || !ok:
	case unsent:
		err = c.addRemote(ctx, h, hs, cr)
	default:
		err = c.remote.UpdateCriterion(ctx, req)
		// a user criterion added while offline is stored on first use
		if isStatus(err, http.StatusNotFound) && id >= domain.FirstUserCriterionID {
			err = c.addRemote(ctx, h, hs, cr)
		}
	}
	cancel()

	ev := Event{Kind: EventUpdateSent, HouseKey: h.Key, HID: req.HID, CriterionID: id, Value: req.Value}
	if err != nil {
		ev.Kind = EventUpdateFailed
		ev.Err = err
		c.metrics.Updates.WithLabelValues("failed").Inc()
		c.logger.Warn("update criterion failed", "house", h.Key, "hid", req.HID, "id", id, "err", err, "auth", errors.Is(err, domain.ErrAuth))
	} else {
		c.metrics.Updates.WithLabelValues("sent").Inc()
	}
	c.emit(h, hs, ev)
}

// addRemote stores a user criterion on the service with its current value.
// A conflict means an earlier attempt landed, so the value goes as an update.
func (c *Coordinator) addRemote(ctx context.Context, h *house.House, hs *houseState, cr domain.Criterion) error {
	err := c.remote.AddCriterion(ctx, domain.AddCriterionRequest{HID: h.HID(), Criterion: cr})
	if isStatus(err, http.StatusConflict) {
		err = c.remote.UpdateCriterion(ctx, domain.UpdateCriterionRequest{HID: h.HID(), ID: cr.ID, Value: cr.Value})
	}
	if err == nil {
		hs.mu.Lock()
		delete(hs.unsent, cr.ID)
		hs.mu.Unlock()
	}
	return err
}

// removeRemote deletes a user criterion on the service. Missing is fine.
func (c *Coordinator) removeRemote(ctx context.Context, h *house.House, hs *houseState, id int64) error {
	err := c.remote.RemoveCriterion(ctx, domain.RemoveCriterionRequest{HID: h.HID(), ID: id})
	if isStatus(err, http.StatusNotFound) {
		err = nil
	}
	if err == nil {
		hs.mu.Lock()
		delete(hs.removed, id)
		hs.mu.Unlock()
	}
	return err
}

func isStatus(err error, status int) bool {
	var rerr *domain.RemoteError
	return errors.As(err, &rerr) && rerr.Status == status
}

// ---- completion ----

func (c *Coordinator) emit(h *house.House, hs *houseState, ev Event) {
	c.mu.Lock()
	hooks := slices.Clone(c.hooks)
	c.mu.Unlock()
	if len(hooks) == 0 {
		return
	}
	c.deliver(h, hs, func() {
		for _, fn := range hooks {
			fn(ev)
		}
	})
}

// deliver runs f through the dispatcher unless the house has been detached,
// and reports whether it did.
func (c *Coordinator) deliver(h *house.House, hs *houseState, f func()) bool {
	hs.mu.Lock()
	detached := hs.detached
	hs.mu.Unlock()
	if detached {
		c.logger.Debug("completion dropped", "house", h.Key, "err", domain.ErrStaleReference)
		return false
	}
	c.dispatch(f)
	return true
}
