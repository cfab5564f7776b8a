package provider

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"wopa/internal/platform/config"
	"wopa/internal/wire"
)

// registryFile is the on-disk shape of the dynamic instance registry: a
// map from provider kind to its instance list.
type registryFile map[wire.ProviderKind][]registryEntry

type registryEntry struct {
	Endpoint string            `json:"endpoint"`
	Capacity int               `json:"capacity"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Registry owns one Pool per provider kind and knows how to (re)populate
// them from static config plus an optional dynamic registry file, reloaded
// on file change or SIGHUP. Config and instance pools are read-mostly;
// reload swaps each Pool's instance list under its own lock so readers
// never observe a partially updated snapshot.
type Registry struct {
	path  string
	pools map[wire.ProviderKind]*Pool
	cfg   config.Config
}

// NewRegistry builds a Registry with an empty pool for each known kind and
// loads it once from cfg plus path (path may be empty).
func NewRegistry(cfg config.Config, path string) (*Registry, error) {
	r := &Registry{
		path: path,
		cfg:  cfg,
		pools: map[wire.ProviderKind]*Pool{
			wire.KindLLMChat:   NewPool(wire.KindLLMChat),
			wire.KindLLMVision: NewPool(wire.KindLLMVision),
			wire.KindSandbox:   NewPool(wire.KindSandbox),
			wire.KindEmulator:  NewPool(wire.KindEmulator),
		},
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Pool returns the pool for kind, or nil if kind is not one of the four
// recognized provider kinds.
func (r *Registry) Pool(kind wire.ProviderKind) *Pool {
	return r.pools[kind]
}

// Reload recomputes every pool's instance list from static config merged
// with the dynamic registry file (if configured and present), then swaps
// each pool's contents atomically via Pool.Reset.
func (r *Registry) Reload() error {
	specs := map[wire.ProviderKind][]wire.ProviderInstance{
		wire.KindLLMChat:   staticInstances(r.cfg.LLM.Endpoint),
		wire.KindLLMVision: staticInstances(r.cfg.LLM.Endpoint),
		wire.KindSandbox:   staticInstancesList(r.cfg.Sandbox.Endpoints),
		wire.KindEmulator:  staticInstancesList(r.cfg.Emulator.Endpoints),
	}

	if r.path != "" {
		data, err := os.ReadFile(r.path)
		switch {
		case os.IsNotExist(err):
			// no dynamic registry yet; static config stands alone.
		case err != nil:
			return fmt.Errorf("provider: read registry %s: %w", r.path, err)
		default:
			var file registryFile
			if err := json.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("provider: parse registry %s: %w", r.path, err)
			}
			for kind, entries := range file {
				for _, e := range entries {
					specs[kind] = append(specs[kind], wire.ProviderInstance{
						Kind:     kind,
						Endpoint: e.Endpoint,
						Capacity: e.Capacity,
						Metadata: e.Metadata,
					})
				}
			}
		}
	}

	for kind, pool := range r.pools {
		pool.Reset(specs[kind])
	}
	return nil
}

func staticInstances(endpoint string) []wire.ProviderInstance {
	if endpoint == "" {
		return nil
	}
	return []wire.ProviderInstance{{Endpoint: endpoint, Capacity: 1}}
}

func staticInstancesList(endpoints []string) []wire.ProviderInstance {
	out := make([]wire.ProviderInstance, 0, len(endpoints))
	for _, e := range endpoints {
		out = append(out, wire.ProviderInstance{Endpoint: e, Capacity: 1})
	}
	return out
}

// Watch blocks watching the registry file's directory for changes,
// debouncing bursts of writes the way a provisioner's atomic
// write-then-rename tends to produce, and calling Reload on settle or on
// a signal from reload. It returns when stop is closed or the watcher's
// channels close; if the watcher cannot be set up it logs the failure and
// waits for stop.
// Mirrors the debounced fsnotify loop the teacher uses for its policy
// bundle reloads.
func (r *Registry) Watch(reload <-chan struct{}, stop <-chan struct{}) {
	if r.path == "" {
		<-stop
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("provider: fsnotify watcher failed, dynamic reload disabled", "error", err)
		<-stop
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		slog.Error("provider: watch registry dir failed", "dir", dir, "error", err)
		<-stop
		return
	}

	debounce := time.NewTimer(time.Hour)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-stop:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == filepath.Clean(r.path) {
				debounce.Reset(200 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("provider: registry watch error", "error", err)
		case <-reload:
			r.doReload()
		case <-debounce.C:
			r.doReload()
		}
	}
}

func (r *Registry) doReload() {
	if err := r.Reload(); err != nil {
		slog.Error("provider: registry reload failed", "error", err)
		return
	}
	slog.Info("provider: registry reloaded", "path", r.path)
}
