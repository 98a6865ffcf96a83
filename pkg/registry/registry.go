// Package registry keeps the apps available to flows, keyed by app key.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"sort"
	"sync"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

var (
	ErrAppNotFound     = errors.New("app not registered")
	ErrTriggerNotFound = errors.New("trigger not registered")
	ErrActionNotFound  = errors.New("action not registered")
)

type Registry struct {
	logger *slog.Logger
	mu     sync.RWMutex
	apps   map[string]protocol.App
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger: log,
		apps:   make(map[string]protocol.App),
	}
}

// LoadAppPlugins opens every shared object under <pluginsPath>/apps and looks up its App symbol.
func (r *Registry) LoadAppPlugins(pluginsPath string) ([]protocol.App, error) {
	return loadPlugin[protocol.App](r.logger, pluginsPath, "App")
}

// RegisterApp adds an app, replacing any app already registered under the same key.
func (r *Registry) RegisterApp(app protocol.App) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.apps[app.Key()] = app
}

func (r *Registry) App(appKey string) (protocol.App, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	app, ok := r.apps[appKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAppNotFound, appKey)
	}

	return app, nil
}

// Apps returns the registered apps ordered by key.
func (r *Registry) Apps() []protocol.App {
	r.mu.RLock()
	defer r.mu.RUnlock()

	apps := make([]protocol.App, 0, len(r.apps))
	for _, app := range r.apps {
		apps = append(apps, app)
	}

	sort.Slice(apps, func(i, j int) bool { return apps[i].Key() < apps[j].Key() })

	return apps
}

func (r *Registry) Trigger(appKey, key string) (protocol.Trigger, error) {
	app, err := r.App(appKey)
	if err != nil {
		return nil, err
	}

	for _, trigger := range app.Triggers() {
		if trigger.Key() == key {
			return trigger, nil
		}
	}

	return nil, fmt.Errorf("%w: %s/%s", ErrTriggerNotFound, appKey, key)
}

func (r *Registry) Action(appKey, key string) (protocol.Action, error) {
	app, err := r.App(appKey)
	if err != nil {
		return nil, err
	}

	for _, action := range app.Actions() {
		if action.Key() == key {
			return action, nil
		}
	}

	return nil, fmt.Errorf("%w: %s/%s", ErrActionNotFound, appKey, key)
}

// Fields returns the parameter schema of the adapter behind a step.
func (r *Registry) Fields(step *models.Step) ([]models.Field, error) {
	if step.IsTrigger() {
		trigger, err := r.Trigger(step.AppKey, step.Key)
		if err != nil {
			return nil, err
		}

		return trigger.Fields(), nil
	}

	action, err := r.Action(step.AppKey, step.Key)
	if err != nil {
		return nil, err
	}

	return action.Fields(), nil
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := pluginsPath + "/apps"
	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "*/*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.Info("Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s has no %s symbol: %w", p, symbolName, err)
		}

		castV, ok := v.(T)
		if !ok {
			// Exported variables come back as pointers.
			ptr, isPtr := v.(*T)
			if !isPtr {
				return nil, fmt.Errorf("plugin %s: %s has unexpected type %T", p, symbolName, v)
			}

			castV = *ptr
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded app plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
