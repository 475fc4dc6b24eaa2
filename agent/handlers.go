package agent

import (
	"log/slog"

	"github.com/nstehr/vimy/vimy-farm/farm"
	"github.com/nstehr/vimy/vimy-farm/ipc"
	"github.com/nstehr/vimy/vimy-farm/model"
)

func ok() (*ipc.Envelope, error) {
	ack, err := ipc.NewEnvelope(ipc.TypeAck, ipc.AckMessage{Status: "ok"})
	if err != nil {
		return nil, err
	}
	return &ack, nil
}

func refused(err error) (*ipc.Envelope, error) {
	ack, encErr := ipc.NewEnvelope(ipc.TypeAck, ipc.AckMessage{Status: "error", Error: err.Error()})
	if encErr != nil {
		return nil, encErr
	}
	return &ack, nil
}

// handleHello completes the handshake so the client knows the bridge is ready.
// A hello on a new connection after an earlier one counts as a reconnect.
func (a *Agent) handleHello(c *ipc.Connection) ipc.Handler {
	return func(env ipc.Envelope) (*ipc.Envelope, error) {
		var hello ipc.HelloMessage
		if err := env.Decode(&hello); err != nil {
			return nil, err
		}

		a.mu.Lock()
		a.player, a.playerID = hello.Player, hello.PlayerID
		a.mu.Unlock()
		c.Player = hello.Player
		slog.Info("player identified", "player", hello.Player, "id", hello.PlayerID, "world", hello.World)

		if a.attach(c) {
			a.post((*farm.Engine).Reconnected)
		}
		return ok()
	}
}

func (a *Agent) handleVillages(env ipc.Envelope) (*ipc.Envelope, error) {
	var msg ipc.VillagesMessage
	if err := env.Decode(&msg); err != nil {
		return nil, err
	}

	a.mu.Lock()
	diff := diffVillages(a.villages, msg.Villages)
	a.villages = msg.Villages
	a.mu.Unlock()

	if diff.empty() {
		return nil, nil
	}
	slog.Info("villages changed", "added", diff.Added, "removed", diff.Removed, "storage", diff.StorageChanged)
	a.post((*farm.Engine).VillagesChanged)
	return nil, nil
}

func (a *Agent) handleGroups(env ipc.Envelope) (*ipc.Envelope, error) {
	var msg ipc.GroupsMessage
	if err := env.Decode(&msg); err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.groups = msg.Groups
	a.mu.Unlock()
	a.post((*farm.Engine).GroupsChanged)
	return nil, nil
}

func (a *Agent) handleGroupVillages(env ipc.Envelope) (*ipc.Envelope, error) {
	var msg ipc.GroupVillagesMessage
	if err := env.Decode(&msg); err != nil {
		return nil, err
	}
	a.mu.Lock()
	for i, g := range a.groups {
		if g.ID == msg.GroupID {
			a.groups[i].VillageIDs = msg.VillageIDs
		}
	}
	a.mu.Unlock()
	a.post(func(e *farm.Engine) { e.GroupVillagesChanged(msg.GroupID) })
	return nil, nil
}

func (a *Agent) handlePresets(env ipc.Envelope) (*ipc.Envelope, error) {
	var msg ipc.PresetsMessage
	if err := env.Decode(&msg); err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.presets = msg.Presets
	a.mu.Unlock()
	a.post((*farm.Engine).PresetsChanged)
	return nil, nil
}

// handleChunk caches map data. Chunks may also arrive unrequested when the
// player scrolls the map.
func (a *Agent) handleChunk(env ipc.Envelope) (*ipc.Envelope, error) {
	var msg ipc.ChunkMessage
	if err := env.Decode(&msg); err != nil {
		return nil, err
	}
	a.mu.Lock()
	for _, v := range msg.Villages {
		a.targets[v.ID] = v
	}
	a.chunks[model.Chunk{X: msg.X, Y: msg.Y}] = true
	a.mu.Unlock()
	return nil, nil
}

func (a *Agent) handleReport(env ipc.Envelope) (*ipc.Envelope, error) {
	var rep model.Report
	if err := env.Decode(&rep); err != nil {
		return nil, err
	}
	a.post(func(e *farm.Engine) { e.ReportReceived(rep) })
	return nil, nil
}

func (a *Agent) handleCommandReturned(env ipc.Envelope) (*ipc.Envelope, error) {
	var msg ipc.CommandReturnedMessage
	if err := env.Decode(&msg); err != nil {
		return nil, err
	}
	a.post(func(e *farm.Engine) { e.CommandReturned(msg.OriginID) })
	return nil, nil
}

func (a *Agent) handleWindow(env ipc.Envelope) (*ipc.Envelope, error) {
	var msg ipc.WindowMessage
	if err := env.Decode(&msg); err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.windows[msg.Name] = msg.Open
	a.mu.Unlock()
	if !msg.Open {
		a.post(func(e *farm.Engine) { e.WindowClosed(msg.Name) })
	}
	return nil, nil
}

func (a *Agent) handleReconnect(ipc.Envelope) (*ipc.Envelope, error) {
	a.post((*farm.Engine).Reconnected)
	return nil, nil
}

func (a *Agent) handleControl(env ipc.Envelope) (*ipc.Envelope, error) {
	var msg ipc.ControlMessage
	if err := env.Decode(&msg); err != nil {
		return nil, err
	}
	if err := a.call(func(e *farm.Engine) error { return Control(e, msg.Action) }); err != nil {
		return refused(err)
	}
	return ok()
}

func (a *Agent) handleSettings(env ipc.Envelope) (*ipc.Envelope, error) {
	var msg ipc.SettingsMessage
	if err := env.Decode(&msg); err != nil {
		return nil, err
	}
	err := a.call(func(e *farm.Engine) error {
		_, err := e.UpdateSettings(msg.Changes)
		return err
	})
	if err != nil {
		return refused(err)
	}
	return ok()
}
