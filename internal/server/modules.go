package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nfrund/roomrelay/internal/module"
	"github.com/nfrund/roomrelay/internal/modules/chat"
)

// AppModules returns the application modules in boot order.
func AppModules() []module.Module {
	return []module.Module{
		chat.New(),
	}
}

// InitModules runs the register phase of every module, then boots each one
// on the root group. Background tasks started by the modules live until ctx
// is cancelled. Calling it again is a no-op.
func (s *Server) InitModules(ctx context.Context) error {
	if s.booted {
		return nil
	}

	for _, m := range s.Modules {
		if err := m.Register(s.Registry); err != nil {
			return fmt.Errorf("register module %s: %w", m.Name(), err)
		}
	}

	root := s.E.Group("")
	for _, m := range s.Modules {
		slog.Info("Booting module", "module", m.Name())
		if err := m.Boot(ctx, root, s.Registry); err != nil {
			return fmt.Errorf("boot module %s: %w", m.Name(), err)
		}
	}

	s.booted = true
	return nil
}
