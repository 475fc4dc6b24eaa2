package ipc

import (
	"encoding/json"

	"github.com/nstehr/vimy/vimy-farm/model"
)

// Message types sent by the game client. These must stay in sync with the
// client script.
const (
	TypeHello           = "hello"
	TypeVillages        = "villages"
	TypeGroups          = "groups"
	TypeGroupVillages   = "group_villages"
	TypePresets         = "presets"
	TypeChunk           = "chunk"
	TypeChunkDone       = "chunk_done"
	TypeReport          = "report"
	TypeReportDetail    = "report_detail"
	TypeCommandResult   = "command_result"
	TypeCommandReturned = "command_returned"
	TypeWindow          = "window"
	TypeReconnect       = "reconnect"
	TypeControl         = "control"
	TypeSettings        = "settings"
)

type HelloMessage struct {
	Player   string `json:"player"`
	PlayerID int    `json:"playerId"`
	World    string `json:"world,omitempty"`
}

type AckMessage struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type VillagesMessage struct {
	Villages []model.Village `json:"villages"`
}

type GroupsMessage struct {
	Groups []model.Group `json:"groups"`
}

type GroupVillagesMessage struct {
	GroupID    int   `json:"groupId"`
	VillageIDs []int `json:"villageIds"`
}

type PresetsMessage struct {
	Presets []model.Preset `json:"presets"`
}

// ChunkMessage carries the villages of one map chunk.
type ChunkMessage struct {
	X        int               `json:"x"`
	Y        int               `json:"y"`
	Villages []model.RawTarget `json:"villages"`
}

type CommandReturnedMessage struct {
	OriginID int `json:"originId"`
}

type WindowMessage struct {
	Name string `json:"name"`
	Open bool   `json:"open"`
}

// Control actions.
const (
	ActionStart  = "start"
	ActionStop   = "stop"
	ActionSwitch = "switch"
)

type ControlMessage struct {
	Action string `json:"action"`
}

type SettingsMessage struct {
	Changes map[string]any `json:"changes"`
}

// EventMessage mirrors one engine event to the client.
type EventMessage struct {
	Type string          `json:"type"`
	At   int64           `json:"at"` // unix milliseconds
	Data json.RawMessage `json:"data"`
}
