package offlinecache

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	platformerrors "github.com/jmgilman/go/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/spdeepak/offlinecache/cache"
)

const tracerName = "github.com/spdeepak/offlinecache"

// State is the lifecycle position of a Worker.
type State int

const (
	StateNew State = iota
	StateInstalling
	// StateInstalled means installed and waiting for activation.
	StateInstalled
	StateActivating
	StateActivated
	// StateRedundant is reached when installation fails.
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// Worker intercepts requests for one origin and answers them from the
// current namespace of a durable response store.
type Worker struct {
	store   cache.Store
	fetcher Fetcher
	cfg     *Config
	clients *Clients
	logger  *slog.Logger
	tracer  trace.Tracer

	mu    sync.Mutex
	state State

	// background tracks stale-while-revalidate refreshes.
	background sync.WaitGroup
}

// NewWorker creates a worker in StateNew. A nil cfg uses DefaultConfig.
func NewWorker(store cache.Store, fetcher Fetcher, cfg *Config) *Worker {
	cfg = cfg.withDefaults()
	clients := NewClients(cfg.Logger)
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = ClientNotifier{Clients: clients}
	}
	cfg.Notifier = notifier
	return &Worker{
		store:   store,
		fetcher: fetcher,
		cfg:     cfg,
		clients: clients,
		logger:  cfg.Logger,
		tracer:  tracerProvider(cfg).Tracer(tracerName),
	}
}

func tracerProvider(cfg *Config) trace.TracerProvider {
	if cfg.TracerProvider != nil {
		return cfg.TracerProvider
	}
	return otel.GetTracerProvider()
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Clients returns the registry of connected foreground clients.
func (w *Worker) Clients() *Clients {
	return w.clients
}

// Start installs the worker and, with SkipWaiting, activates it.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return err
	}
	if w.cfg.SkipWaiting {
		return w.Activate(ctx)
	}
	return nil
}

// Install precaches the manifest into the current namespace. Any failed
// manifest entry aborts the install and nothing is stored.
func (w *Worker) Install(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateNew && w.state != StateRedundant {
		state := w.state
		w.mu.Unlock()
		return platformerrors.Newf(platformerrors.CodeConflict, "install not allowed in state %s", state)
	}
	w.state = StateInstalling
	w.mu.Unlock()

	err := w.precache(ctx, w.cfg.Precache)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.state = StateRedundant
		w.logger.Error("Install failed", slog.String("cacheName", w.cfg.CacheName), slog.Any("error", err))
		return err
	}
	w.state = StateInstalled
	w.logger.Info("Installed", slog.String("cacheName", w.cfg.CacheName), slog.Int("assets", len(w.cfg.Precache)))
	return nil
}

// SkipWaiting activates an installed worker that is waiting. It is a no-op
// in every other state.
func (w *Worker) SkipWaiting(ctx context.Context) error {
	if w.State() != StateInstalled {
		return nil
	}
	return w.Activate(ctx)
}

// Activate deletes every namespace other than the current one and claims
// connected clients without waiting for a reload.
func (w *Worker) Activate(ctx context.Context) error {
	w.mu.Lock()
	switch w.state {
	case StateActivated:
		w.mu.Unlock()
		return nil
	case StateInstalled:
		w.state = StateActivating
	default:
		state := w.state
		w.mu.Unlock()
		return platformerrors.Newf(platformerrors.CodeConflict, "activate not allowed in state %s", state)
	}
	w.mu.Unlock()

	purged, err := w.purgeStale(ctx)

	w.mu.Lock()
	if err != nil {
		w.state = StateInstalled
		w.mu.Unlock()
		return err
	}
	w.state = StateActivated
	w.mu.Unlock()

	claimed := w.clients.Claim()
	w.clients.Broadcast(Message{Type: MessageControllerChange, Payload: mustJSON(map[string]string{"cacheName": w.cfg.CacheName})}, true)
	w.logger.Info("Activated",
		slog.String("cacheName", w.cfg.CacheName),
		slog.Any("purged", purged),
		slog.Int("claimed", claimed),
	)
	return nil
}

// Wait blocks until background refreshes have finished.
func (w *Worker) Wait() {
	w.background.Wait()
}

func (w *Worker) purgeStale(ctx context.Context) ([]string, error) {
	names, err := w.store.Names(ctx)
	if err != nil {
		return nil, storageFailure(err, "list")
	}
	var purged []string
	for _, name := range names {
		if name == w.cfg.CacheName {
			continue
		}
		if _, err := w.store.Delete(ctx, name); err != nil {
			return purged, storageFailure(err, "delete")
		}
		purged = append(purged, name)
	}
	return purged, nil
}

// namespace opens the current namespace for one event.
func (w *Worker) namespace(ctx context.Context) (cache.Namespace, error) {
	ns, err := w.store.Open(ctx, w.cfg.CacheName)
	if err != nil {
		return nil, storageFailure(err, "open")
	}
	return ns, nil
}

// precache fetches paths concurrently and stores them all, or none.
func (w *Worker) precache(ctx context.Context, paths []string) error {
	fetched := make([]*cache.ResponseCacheEntry, len(paths))
	keys := make([]string, len(paths))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, path := range paths {
		group.Go(func() error {
			request, err := http.NewRequestWithContext(groupCtx, http.MethodGet, path, nil)
			if err != nil {
				return invalidInput(err, fmt.Sprintf("precache path %q", path))
			}
			entry, err := w.fetcher.Fetch(groupCtx, request)
			if err != nil {
				return err
			}
			if !w.cacheable(entry) {
				return platformerrors.WrapWithContext(
					fmt.Errorf("unexpected status %d", entry.StatusCode),
					platformerrors.CodeNetwork, "precache rejected", map[string]interface{}{"url": path},
				)
			}
			keys[i] = w.cfg.KeyGenerator(request)
			fetched[i] = w.storedCopy(entry)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	ns, err := w.namespace(ctx)
	if err != nil {
		return err
	}
	entries := make(map[string]*cache.ResponseCacheEntry, len(paths))
	for i := range paths {
		entries[keys[i]] = fetched[i]
	}
	if err := ns.SetAll(ctx, entries); err != nil {
		return storageFailure(err, "write")
	}
	return nil
}

func (w *Worker) cacheable(entry *cache.ResponseCacheEntry) bool {
	if entry == nil || !w.cfg.ShouldCache(entry.StatusCode) {
		return false
	}
	return w.cfg.MaxBodyBytes <= 0 || int64(len(entry.Body)) <= w.cfg.MaxBodyBytes
}

func (w *Worker) storedCopy(entry *cache.ResponseCacheEntry) *cache.ResponseCacheEntry {
	stored := entry.Clone()
	stored.Headers = w.cfg.StripHeaders(stored.Headers)
	stored.CreatedAt = w.cfg.Clock()
	return stored
}
