// Package events is the in-process bus the scheduler announces its state
// transitions on. Every topic is a concrete payload type so subscribers are
// checked at compile time.
package events

import (
	"time"

	"github.com/nstehr/vimy/vimy-farm/model"
	"github.com/nstehr/vimy/vimy-farm/settings"
)

// Kind identifies a topic on the bus.
type Kind string

const (
	KindStart               Kind = "start"
	KindPause               Kind = "pause"
	KindNextVillage         Kind = "nextVillage"
	KindIgnoredTarget       Kind = "ignoredTarget"
	KindIgnoredVillage      Kind = "ignoredVillage"
	KindPriorityTargetAdded Kind = "priorityTargetAdded"
	KindNoTargets           Kind = "noTargets"
	KindNoVillages          Kind = "noVillages"
	KindNoUnits             Kind = "noUnits"
	KindNoPreset            Kind = "noPreset"
	KindSingleCycleEnd      Kind = "singleCycleEnd"
	KindSingleCycleNext     Kind = "singleCycleNext"
	KindSettingsChange      Kind = "settingsChange"
	KindSettingError        Kind = "settingError"
	KindCommandSent         Kind = "commandSent"
	KindLoadingTargets      Kind = "loadingTargets"
	KindTargetsLoaded       Kind = "targetsLoaded"
	KindVillagesUpdated     Kind = "villagesUpdated"
	KindRecovered           Kind = "recovered"
	KindEventsReset         Kind = "eventsReset"
	KindNotice              Kind = "notice"
)

// Event is implemented by every payload type.
type Event interface {
	Kind() Kind
}

type Start struct{}

type Pause struct{}

// NextVillage carries the newly selected origin.
type NextVillage struct {
	Village model.Village `json:"village"`
}

// IgnoredTarget is published when the cursor skips an ignored target.
type IgnoredTarget struct {
	Target model.Target `json:"target"`
}

// IgnoredVillage is published once a target was pushed into the ignore group.
type IgnoredVillage struct {
	Target model.Target `json:"target"`
}

type PriorityTargetAdded struct {
	Target model.Target `json:"target"`
}

type NoTargets struct{}

type NoVillages struct{}

type NoUnits struct{}

type NoPreset struct{}

type SingleCycleEnd struct {
	NoVillages bool `json:"noVillages"` // the cycle ended because nothing could attack
}

type SingleCycleNext struct {
	At         time.Time `json:"at"`
	NoVillages bool      `json:"noVillages"`
}

type SettingsChange struct {
	Effects settings.Effects `json:"effects"`
}

type SettingError struct {
	Key    string           `json:"key"`
	Bounds *settings.Bounds `json:"bounds,omitempty"`
}

type CommandSent struct {
	Origin model.Village `json:"origin"`
	Target model.Target  `json:"target"`
}

type LoadingTargets struct {
	OriginID int `json:"originId"`
}

type TargetsLoaded struct {
	OriginID int `json:"originId"`
	Count    int `json:"count"`
}

type VillagesUpdated struct {
	Count int `json:"count"`
}

// Recovered is published when the watchdog restarted a stalled run.
type Recovered struct {
	Reason string `json:"reason"`
}

type EventsReset struct{}

// Notice levels.
const (
	LevelSuccess = "success"
	LevelError   = "error"
)

// Notice is a user-facing message, keyed for localisation by the UI.
type Notice struct {
	Level string         `json:"level"`
	Key   string         `json:"key"`
	Args  map[string]any `json:"args,omitempty"`
}

func (Start) Kind() Kind               { return KindStart }
func (Pause) Kind() Kind               { return KindPause }
func (NextVillage) Kind() Kind         { return KindNextVillage }
func (IgnoredTarget) Kind() Kind       { return KindIgnoredTarget }
func (IgnoredVillage) Kind() Kind      { return KindIgnoredVillage }
func (PriorityTargetAdded) Kind() Kind { return KindPriorityTargetAdded }
func (NoTargets) Kind() Kind           { return KindNoTargets }
func (NoVillages) Kind() Kind          { return KindNoVillages }
func (NoUnits) Kind() Kind             { return KindNoUnits }
func (NoPreset) Kind() Kind            { return KindNoPreset }
func (SingleCycleEnd) Kind() Kind      { return KindSingleCycleEnd }
func (SingleCycleNext) Kind() Kind     { return KindSingleCycleNext }
func (SettingsChange) Kind() Kind      { return KindSettingsChange }
func (SettingError) Kind() Kind        { return KindSettingError }
func (CommandSent) Kind() Kind         { return KindCommandSent }
func (LoadingTargets) Kind() Kind      { return KindLoadingTargets }
func (TargetsLoaded) Kind() Kind       { return KindTargetsLoaded }
func (VillagesUpdated) Kind() Kind     { return KindVillagesUpdated }
func (Recovered) Kind() Kind           { return KindRecovered }
func (EventsReset) Kind() Kind         { return KindEventsReset }
func (Notice) Kind() Kind              { return KindNotice }
