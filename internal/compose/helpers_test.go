package compose

import (
	"testing"

	"github.com/aureuma/dockpilot/internal/terminal"
)

func newTestRegistry(t *testing.T) *terminal.Registry {
	t.Helper()
	return terminal.NewRegistry(nil)
}
