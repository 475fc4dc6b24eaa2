package farm

import (
	"context"

	"github.com/nstehr/vimy/vimy-farm/model"
)

// Player exposes the game account the engine farms with.
type Player interface {
	PlayerID() int
	Villages() []model.Village
	Groups() []model.Group
	Presets() []model.Preset
}

// MapData is the world map cache of the game client. MissingChunks and
// ReadTargets are called on the engine loop; LoadChunk blocks until the chunk
// is available and is called from worker goroutines.
type MapData interface {
	MissingChunks(chunks []model.Chunk) []model.Chunk
	LoadChunk(ctx context.Context, chunk model.Chunk) error
	ReadTargets(region model.Region) []model.RawTarget
}

// Commander sends attack commands. done may be called from any goroutine.
type Commander interface {
	Dispatch(cmd model.Command, done func(model.DispatchResult))
}

// Reports fetches report details and tracks the game client's open windows.
type Reports interface {
	ReportDetail(ctx context.Context, reportID int) (model.ReportDetail, error)
	WindowOpen(name string) bool
}

// GroupWriter edits group membership on the game side.
type GroupWriter interface {
	LinkVillage(ctx context.Context, groupID, villageID int) error
}
