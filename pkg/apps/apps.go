// Package apps lists the apps compiled into the binaries.
package apps

import (
	"net/http"

	"github.com/dukex/stepflow/pkg/apps/formatter"
	httpapp "github.com/dukex/stepflow/pkg/apps/http"
	"github.com/dukex/stepflow/pkg/apps/scheduler"
	"github.com/dukex/stepflow/pkg/apps/webhook"
	"github.com/dukex/stepflow/pkg/protocol"
)

// Builtin returns the built-in apps. client is shared by apps calling remote services.
func Builtin(client *http.Client) []protocol.App {
	return []protocol.App{
		webhook.New(),
		scheduler.New(nil),
		httpapp.New(client),
		formatter.New(),
	}
}
