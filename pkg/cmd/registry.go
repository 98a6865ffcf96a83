// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/stepflow/pkg/apps"
	"github.com/dukex/stepflow/pkg/registry"
)

const adapterHTTPTimeout = 30 * time.Second

// NewRegistry registers the built-in apps and then the app plugins found under pluginsPath.
func NewRegistry(log *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)

	for _, app := range apps.Builtin(&http.Client{Timeout: adapterHTTPTimeout}) {
		reg.RegisterApp(app)
	}

	plugins, err := reg.LoadAppPlugins(pluginsPath)
	if err != nil {
		return nil, err
	}

	for _, plugin := range plugins {
		reg.RegisterApp(plugin)
	}

	return reg, nil
}
