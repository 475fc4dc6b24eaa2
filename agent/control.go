package agent

import (
	"fmt"

	"github.com/nstehr/vimy/vimy-farm/ipc"
)

// Controller is the run control surface shared by every client transport.
// *farm.Engine satisfies it.
type Controller interface {
	Start(autoInit bool) error
	Stop()
	Switch() error
}

// Control applies a start/stop/switch action. It must run on the engine loop.
func Control(c Controller, action string) error {
	switch action {
	case ipc.ActionStart:
		return c.Start(false)
	case ipc.ActionStop:
		c.Stop()
		return nil
	case ipc.ActionSwitch:
		return c.Switch()
	default:
		return fmt.Errorf("unknown control action %q", action)
	}
}
