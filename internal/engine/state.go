// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"time"

	"github.com/ManuGH/tsplay/internal/fsm"
)

// State is the engine lifecycle state.
type State string

const (
	StateClosed  State = "closed"
	StateOpening State = "opening"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateClosing State = "closing"
	StateHalted  State = "halted"
)

type trigger string

const (
	evOpen        trigger = "open"
	evStart       trigger = "start"
	evStartPaused trigger = "start_paused"
	evFail        trigger = "fail"
	evPause       trigger = "pause"
	evResume      trigger = "resume"
	evEnd         trigger = "end"
	evClose       trigger = "close"
	evClosed      trigger = "closed"
	evHalt        trigger = "halt"
)

var transitions = []fsm.Transition[State, trigger]{
	{From: StateClosed, Event: evOpen, To: StateOpening},
	{From: StateOpening, Event: evStart, To: StatePlaying},
	{From: StateOpening, Event: evStartPaused, To: StatePaused},
	{From: StateOpening, Event: evFail, To: StateClosed},
	{From: StatePlaying, Event: evPause, To: StatePaused},
	{From: StatePaused, Event: evResume, To: StatePlaying},
	{From: StatePlaying, Event: evEnd, To: StateClosing},
	{From: StatePaused, Event: evEnd, To: StateClosing},
	{From: StatePlaying, Event: evClose, To: StateClosing},
	{From: StatePaused, Event: evClose, To: StateClosing},
	{From: StateOpening, Event: evClose, To: StateClosing},
	{From: StateHalted, Event: evClose, To: StateClosing},
	{From: StateClosing, Event: evClosed, To: StateClosed},
	{From: StateOpening, Event: evHalt, To: StateHalted},
	{From: StatePlaying, Event: evHalt, To: StateHalted},
	{From: StatePaused, Event: evHalt, To: StateHalted},
}

func newMachine() *fsm.Machine[State, trigger] {
	return fsm.MustNew(StateClosed, transitions)
}

// Status is the published snapshot. Only the worker writes it.
type Status struct {
	State           State     `json:"state"`
	SessionID       string    `json:"session_id,omitempty"`
	Path            string    `json:"path,omitempty"`
	PositionMsec    int       `json:"position_ms"`
	DurationMsec    int       `json:"duration_ms"`
	Tot             time.Time `json:"tot,omitzero"`
	Extending       bool      `json:"extending"`
	Paused          bool      `json:"paused"`
	SpeedID         int       `json:"speed_id"`
	Rate            float64   `json:"rate"`
	Muted           bool      `json:"muted"`
	Framing         string    `json:"framing,omitempty"`
	Packets         int64     `json:"packets"`
	Drops           int64     `json:"drops"`
	Discontinuities int64     `json:"discontinuities"`
}

// EventKind classifies asynchronous notices.
type EventKind string

const (
	EventEndOfStream EventKind = "end_of_stream"
	EventHalted      EventKind = "halted"
)

// Event is delivered on Events(). SessionID lets receivers discard notices
// from a session they already closed.
type Event struct {
	Kind      EventKind
	SessionID string
	Status    Status
	Err       error
}
