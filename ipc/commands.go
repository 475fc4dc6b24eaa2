package ipc

import (
	"time"

	"github.com/nstehr/vimy/vimy-farm/model"
)

// Request types sent by the engine. Each expects a reply echoing its ID.
const (
	TypeAck       = "ack"
	TypeLoadChunk = "load_chunk"
	TypeDispatch  = "dispatch"
	TypeLinkGroup = "link_group"
	TypeGetReport = "get_report"
	TypeEvent     = "event"
)

// LoadChunkCommand asks the client to stream one chunk as TypeChunk messages
// and then reply TypeChunkDone.
type LoadChunkCommand struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// DispatchCommand asks the client to send an attack. The reply is a
// TypeCommandResult carrying a model.DispatchResult.
type DispatchCommand struct {
	OriginID      int            `json:"originId"`
	TargetID      int            `json:"targetId"`
	TargetX       int            `json:"targetX"`
	TargetY       int            `json:"targetY"`
	PresetIDs     []int          `json:"presetIds"`
	Units         map[string]int `json:"units"`
	MaxTravelTime int64          `json:"maxTravelTime"` // seconds
}

func NewDispatchCommand(cmd model.Command) DispatchCommand {
	return DispatchCommand{
		OriginID:      cmd.Origin.ID,
		TargetID:      cmd.Target.ID,
		TargetX:       cmd.Target.X,
		TargetY:       cmd.Target.Y,
		PresetIDs:     cmd.PresetIDs,
		Units:         cmd.Units,
		MaxTravelTime: int64(cmd.MaxTravelTime / time.Second),
	}
}

type LinkGroupCommand struct {
	GroupID   int `json:"groupId"`
	VillageID int `json:"villageId"`
}

type GetReportCommand struct {
	ReportID int `json:"reportId"`
}
