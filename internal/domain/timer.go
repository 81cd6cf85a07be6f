package domain

import (
	"errors"
	"time"
)

type TimerState string

const (
	TimerStopped    TimerState = "STOPPED"
	TimerStarted    TimerState = "STARTED"
	TimerShortBreak TimerState = "SHORT_BREAK"
	TimerLongBreak  TimerState = "LONG_BREAK"
)

var ErrInvalidTimerProperty = errors.New("invalid timer property")

type TimerProperty struct {
	TimerLengthMinutes int `json:"timerLength"`
	ShortBreakMinutes  int `json:"shortBreak"`
	LongBreakMinutes   int `json:"longBreak"`
	LongBreakInterval  int `json:"longBreakInterval"`
}

func DefaultTimerProperty() TimerProperty {
	return TimerProperty{
		TimerLengthMinutes: 25,
		ShortBreakMinutes:  5,
		LongBreakMinutes:   15,
		LongBreakInterval:  4,
	}
}

func (p TimerProperty) Validate() error {
	if p.TimerLengthMinutes <= 0 || p.ShortBreakMinutes <= 0 ||
		p.LongBreakMinutes <= 0 || p.LongBreakInterval <= 0 {
		return ErrInvalidTimerProperty
	}
	return nil
}

// Timer is the server-authoritative pomodoro state of a room.
type Timer struct {
	State     TimerState    `json:"state"`
	Property  TimerProperty `json:"property"`
	StartedAt time.Time     `json:"startedAt,omitzero"`
}
