package model

import (
	"fmt"
	"time"
)

// Mechanism is the market-making variant of a contract.
type Mechanism int

const (
	// MechanismUnknown covers legacy or malformed records. Engines treat it
	// with zero elasticity and no window breakdown.
	MechanismUnknown Mechanism = iota
	// MechanismCPMM is the constant-product market maker ("cpmm-1").
	MechanismCPMM
	// MechanismDPM is the dynamic parimutuel market ("dpm-2").
	MechanismDPM
)

// ParseMechanism maps a wire name to a Mechanism. Unrecognized names become
// MechanismUnknown rather than an error.
func ParseMechanism(s string) Mechanism {
	switch s {
	case "cpmm-1":
		return MechanismCPMM
	case "dpm-2":
		return MechanismDPM
	}
	return MechanismUnknown
}

func (m Mechanism) String() string {
	switch m {
	case MechanismCPMM:
		return "cpmm-1"
	case MechanismDPM:
		return "dpm-2"
	}
	return "unknown"
}

func (m Mechanism) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mechanism) UnmarshalText(b []byte) error {
	*m = ParseMechanism(string(b))
	return nil
}

// Resolution selects how a bet is paid out: at live market odds, as a
// cancellation refund, or as if a specific outcome had won.
type Resolution string

const (
	ResolutionMarket Resolution = "MKT"
	ResolutionCancel Resolution = "CANCEL"
)

// ResolveAs returns the payout mode for a concrete winning outcome.
func ResolveAs(o Outcome) Resolution {
	return Resolution(o)
}

// Window is a trailing time period used for attribution and rollups.
type Window string

const (
	WindowDay     Window = "day"
	WindowWeek    Window = "week"
	WindowMonth   Window = "month"
	WindowAllTime Window = "allTime"
)

// PeriodWindows are the bounded windows, shortest first.
var PeriodWindows = []Window{WindowDay, WindowWeek, WindowMonth}

// Day is the length of one accounting day.
const Day = 24 * time.Hour

// Days returns the window length in days; 0 for WindowAllTime.
func (w Window) Days() int {
	switch w {
	case WindowDay:
		return 1
	case WindowWeek:
		return 7
	case WindowMonth:
		return 30
	}
	return 0
}

// Start returns the instant the window opens relative to now. All-time starts
// at the zero time.
func (w Window) Start(now time.Time) time.Time {
	if w == WindowAllTime {
		return time.Time{}
	}
	return now.Add(-time.Duration(w.Days()) * Day)
}

// ParseWindow validates a window label.
func ParseWindow(s string) (Window, error) {
	switch w := Window(s); w {
	case WindowDay, WindowWeek, WindowMonth, WindowAllTime:
		return w, nil
	}
	return "", fmt.Errorf("model: unknown window %q", s)
}
