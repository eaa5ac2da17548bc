package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"

	"golang.org/x/sync/errgroup"

	"github.com/denisok6893-rgb/open-house/internal/config"
	"github.com/denisok6893-rgb/open-house/internal/domain"
	"github.com/denisok6893-rgb/open-house/internal/house"
	"github.com/denisok6893-rgb/open-house/internal/matching"
	"github.com/denisok6893-rgb/open-house/internal/remote"
	"github.com/denisok6893-rgb/open-house/internal/storage"
	"github.com/denisok6893-rgb/open-house/internal/syncer"
)

type app struct {
	cfg    config.Config
	out    io.Writer
	logger *slog.Logger
	client *remote.Client
	cache  *storage.SQLiteStore
	engine *matching.Engine
}

func newApp(cfg config.Config, out io.Writer, logger *slog.Logger) (*app, error) {
	cache, err := storage.OpenSQLite(cfg.CachePath)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if err := cache.EnsureSchema(); err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("cache schema: %w", err)
	}

	token, err := os.ReadFile(cfg.TokenPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("read token", "path", cfg.TokenPath, "err", err)
	}
	opts := []remote.Option{
		remote.WithSession(remote.NewSession(strings.TrimSpace(string(token)))),
		remote.WithLogger(logger),
		remote.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, remote.WithRateLimit(cfg.RateLimit, max(cfg.RateBurst, 1)))
	}

	w, err := matching.LoadWeightsFromFile(cfg.WeightsPath)
	if err != nil {
		logger.Debug("use default weights", "reason", err)
	}

	return &app{
		cfg:    cfg,
		out:    out,
		logger: logger,
		client: remote.NewClient(cfg.Server, opts...),
		cache:  cache,
		engine: matching.NewEngine(w),
	}, nil
}

func (a *app) close() { _ = a.cache.Close() }

func (a *app) run(ctx context.Context, args []string) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "register", "login":
		if len(args) != 2 {
			return fmt.Errorf("%s needs <email> <password>", cmd)
		}
		auth := a.client.Login
		if cmd == "register" {
			auth = a.client.Register
		}
		if err := auth(ctx, args[0], args[1]); err != nil {
			return err
		}
		if err := os.WriteFile(a.cfg.TokenPath, []byte(a.client.Token()), 0o600); err != nil {
			return fmt.Errorf("save token: %w", err)
		}
		fmt.Fprintf(a.out, "signed in as %s\n", args[0])
		return nil
	case "logout":
		a.client.Session().Clear()
		if err := os.Remove(a.cfg.TokenPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	case "add-house":
		return a.addHouse(ctx, args)
	case "houses":
		return a.houses(ctx)
	case "show", "set", "add", "remove", "move":
		if len(args) == 0 {
			return fmt.Errorf("%s needs a house", cmd)
		}
		return a.withHouse(ctx, args[0], func(c *syncer.Coordinator, h *house.House) error {
			switch cmd {
			case "set":
				return a.set(ctx, c, h, args[1:])
			case "add":
				return a.add(ctx, c, h, args[1:])
			case "remove":
				return a.remove(ctx, c, h, args[1:])
			case "move":
				return a.move(ctx, c, h, args[1:])
			}
			a.show(h)
			return nil
		})
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) addHouse(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("add-house", flag.ContinueOnError)
	local := flags.Bool("local", false, "keep the house on this machine only")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		return errors.New("add-house needs <name>")
	}
	name, address := flags.Arg(0), flags.Arg(1)

	if !*local {
		s, err := a.client.CreateHouse(ctx, name, address)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "created house %d\n", s.HID)
		return nil
	}

	c, _, err := a.load(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	h := house.New(name, address)
	c.SyncWithDreamHouse(ctx, h)
	fmt.Fprintf(a.out, "created local house %s\n", h.Key)
	return nil
}

// load builds the house list from the cache and, when signed in, the service.
func (a *app) load(ctx context.Context) (*syncer.Coordinator, []*house.House, error) {
	cached, err := a.cache.LocalHouses(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read cache: %w", err)
	}
	houses := make([]*house.House, 0, len(cached))
	byHID := make(map[int64]*house.House)
	for _, lh := range cached {
		h, err := syncer.FromLocal(lh)
		if err != nil {
			a.logger.Warn("skip cached house", "key", lh.Key, "err", err)
			continue
		}
		houses = append(houses, h)
		if h.HID() != 0 {
			byHID[h.HID()] = h
		}
	}

	tmpl := cachedTemplate(houses)
	if a.client.Token() != "" {
		if dream, err := a.client.DreamHouse(ctx); err != nil {
			a.logger.Warn("dream house unavailable, using cached criteria", "err", err)
		} else if err := tmpl.Replace(dream); err != nil {
			return nil, nil, fmt.Errorf("dream house: %w", err)
		}

		if summaries, err := a.client.Houses(ctx); err != nil {
			a.logger.Warn("house list unavailable, using cache", "err", err)
		} else {
			houses = a.reconcile(ctx, houses, byHID, summaries)
		}
	}

	c := syncer.New(a.client, a.client, tmpl, a.engine,
		syncer.WithPersister(a.cache),
		syncer.WithLogger(a.logger),
		syncer.WithTimeout(a.cfg.Timeout),
	)
	c.HousesAvailable(ctx, houses)
	return c, houses, nil
}

// reconcile adds houses new on the service and drops cached ones it no longer has.
func (a *app) reconcile(ctx context.Context, houses []*house.House, byHID map[int64]*house.House, summaries []domain.HouseSummary) []*house.House {
	known := make(map[int64]bool, len(summaries))
	for _, s := range summaries {
		known[s.HID] = true
		if _, ok := byHID[s.HID]; !ok {
			houses = append(houses, house.FromSummary(s))
		}
	}
	kept := houses[:0]
	for _, h := range houses {
		if h.HID() != 0 && !known[h.HID()] {
			if _, err := a.cache.DeleteLocalHouse(ctx, h.Key); err != nil {
				a.logger.Warn("drop cached house", "key", h.Key, "err", err)
			}
			continue
		}
		kept = append(kept, h)
	}
	return kept
}

// cachedTemplate rebuilds the dream house from cached houses for offline use.
func cachedTemplate(houses []*house.House) *house.Template {
	t := house.NewTemplate()
	for _, h := range houses {
		for _, c := range h.Criteria.All() {
			if c.IsDream {
				_ = t.Add(c) // first copy wins
			}
		}
	}
	return t
}

// syncAll syncs every house concurrently. Failures keep the cached values.
func (a *app) syncAll(ctx context.Context, c *syncer.Coordinator, houses []*house.House) {
	var g errgroup.Group
	for _, h := range houses {
		g.Go(func() error {
			out := c.SyncCriteriaWait(ctx, h)
			if !out.OK() {
				a.logger.Warn("sync failed, showing cached criteria", "house", h.Name, "err", out.Err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (a *app) houses(ctx context.Context) error {
	c, houses, err := a.load(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	a.syncAll(ctx, c, houses)

	ranked := make([]matching.Ranked, 0, len(houses))
	byKey := make(map[string]*house.House, len(houses))
	for _, h := range houses {
		ranked = append(ranked, matching.Ranked{Key: h.Key, Name: h.Name, Rank: h.Rank()})
		byKey[h.Key] = h
	}
	matching.SortByRank(ranked)

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tHOUSE\tID\tADDRESS")
	for _, r := range ranked {
		h := byKey[r.Key]
		fmt.Fprintf(tw, "%.1f\t%s\t%s\t%s\n", r.Rank, h.Name, houseID(h), h.Address)
	}
	return tw.Flush()
}

func houseID(h *house.House) string {
	if h.HID() != 0 {
		return strconv.FormatInt(h.HID(), 10)
	}
	return h.Key
}

func (a *app) withHouse(ctx context.Context, id string, fn func(*syncer.Coordinator, *house.House) error) error {
	c, houses, err := a.load(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	for _, h := range houses {
		if id == h.Key || id == strconv.FormatInt(h.HID(), 10) {
			a.syncAll(ctx, c, []*house.House{h})
			return fn(c, h)
		}
	}
	return fmt.Errorf("no house %q", id)
}

func (a *app) show(h *house.House) {
	fmt.Fprintf(a.out, "%s (%s)  rank %.1f\n", h.Name, houseID(h), h.Rank())
	ratios := h.MatchingRatio()
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for i, cat := range domain.Categories() {
		fmt.Fprintf(tw, "\n%s\t%.0f%%\t\n", strings.ToUpper(string(cat)), ratios[i]*100)
		for _, cr := range h.Criteria.Criteria(cat) {
			mark := ""
			if cr.IsDream {
				mark = "*"
			}
			fmt.Fprintf(tw, "  %d%s\t%s\t%s\n", cr.ID, mark, cr.Name, domain.InputFor(cr).Render())
		}
	}
	_ = tw.Flush()
}

func (a *app) set(ctx context.Context, c *syncer.Coordinator, h *house.House, args []string) error {
	if len(args) != 2 {
		return errors.New("set needs <criterion-id> <value>")
	}
	ref, err := a.ref(h, args[0])
	if err != nil {
		return err
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}

	failed, err := a.sent(c, func() error { return c.UpdateValue(ctx, h, ref, v) })
	if err != nil {
		return err
	}
	if failed != nil {
		fmt.Fprintf(a.out, "saved locally, not sent: %v\n", failed)
		return nil
	}
	fmt.Fprintf(a.out, "saved, rank %.1f\n", h.Rank())
	return nil
}

// sent runs a local edit and waits for the service to take it. failed is the
// last remote error; err is the local one.
func (a *app) sent(c *syncer.Coordinator, edit func() error) (failed, err error) {
	var mu sync.Mutex
	c.OnEvent(func(e syncer.Event) {
		if e.Kind == syncer.EventUpdateFailed {
			mu.Lock()
			failed = e.Err
			mu.Unlock()
		}
	})
	if err := edit(); err != nil {
		return nil, err
	}
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	return failed, nil
}

func (a *app) add(ctx context.Context, c *syncer.Coordinator, h *house.House, args []string) error {
	if len(args) < 3 {
		return errors.New("add needs <category> <binary|ternary> <name>")
	}
	var cr domain.Criterion
	failed, err := a.sent(c, func() error {
		var err error
		cr, err = c.Add(ctx, h, domain.Category(args[0]), domain.Criterion{
			Name: strings.Join(args[2:], " "),
			Type: domain.CriterionType(args[1]),
		})
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "added criterion %d\n", cr.ID)
	if failed != nil {
		fmt.Fprintf(a.out, "saved locally, not sent: %v\n", failed)
	}
	return nil
}

func (a *app) remove(ctx context.Context, c *syncer.Coordinator, h *house.House, args []string) error {
	if len(args) != 1 {
		return errors.New("remove needs <criterion-id>")
	}
	ref, err := a.ref(h, args[0])
	if err != nil {
		return err
	}
	failed, err := a.sent(c, func() error { return c.Remove(ctx, h, ref) })
	if err != nil {
		return err
	}
	if failed != nil {
		fmt.Fprintf(a.out, "removed locally, not sent: %v\n", failed)
	}
	return nil
}

func (a *app) move(ctx context.Context, c *syncer.Coordinator, h *house.House, args []string) error {
	if len(args) != 3 {
		return errors.New("move needs <category> <from> <to>")
	}
	cat := domain.Category(args[0])
	from, err1 := strconv.Atoi(args[1])
	to, err2 := strconv.Atoi(args[2])
	if err := errors.Join(err1, err2); err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	return c.Move(ctx, h, domain.Ref{Category: cat, Index: from}, domain.Ref{Category: cat, Index: to})
}

func (a *app) ref(h *house.House, arg string) (domain.Ref, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return domain.Ref{}, fmt.Errorf("criterion id: %w", err)
	}
	ref, _, ok := h.Criteria.Find(id)
	if !ok {
		return domain.Ref{}, fmt.Errorf("%w: %d", domain.ErrCriterionMissing, id)
	}
	return ref, nil
}
