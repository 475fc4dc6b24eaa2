package model

import "time"

// Command is one attack the scheduler asks the Commander to send.
type Command struct {
	Origin        Village        `json:"origin"`
	Target        Target         `json:"target"`
	PresetIDs     []int          `json:"presetIds"`
	Units         map[string]int `json:"units"`
	MaxTravelTime time.Duration  `json:"maxTravelTime"`
}

// Outcome is how a dispatch attempt ended on the game side.
type Outcome string

const (
	OutcomeSent         Outcome = "sent"
	OutcomeNoUnits      Outcome = "noUnits"
	OutcomeCommandLimit Outcome = "commandLimit"
	OutcomeFailed       Outcome = "failed"
)

type DispatchResult struct {
	Outcome  Outcome `json:"outcome"`
	Outgoing int     `json:"outgoing"` // commands currently travelling from the origin
	Err      string  `json:"error,omitempty"`
}

// Report result codes as sent by the game.
const (
	ResultNoCasualties = 1
	ResultCasualties   = 2
	ResultDefeat       = 3
)

const (
	ReportTypeAttack = "attack"
	HaulFull         = "full"
)

// Report is the summary the game pushes when a new report arrives.
type Report struct {
	ID              int    `json:"id"`
	Type            string `json:"type"`
	TargetVillageID int    `json:"targetVillageId"`
	Result          int    `json:"result"`
	Haul            string `json:"haul"`
}

// ReportDetail is the full report, fetched on demand.
type ReportDetail struct {
	ID         int    `json:"id"`
	OriginID   int    `json:"originId"`
	TargetID   int    `json:"targetId"`
	TargetName string `json:"targetName"`
	TargetX    int    `json:"targetX"`
	TargetY    int    `json:"targetY"`
}
