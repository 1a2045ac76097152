package poller

// State is the lifecycle phase of the poll machine
type State int

const (
	StateIdle State = iota
	StatePolling
	StateFailing
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateFailing:
		return "failing"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Tone is the color treatment of the status label
type Tone string

const (
	ToneNeutral  Tone = "neutral"
	ToneOK       Tone = "ok"
	ToneDegraded Tone = "degraded"
	ToneWarning  Tone = "warning"
	ToneError    Tone = "error"
)

// Status is what the machine publishes to its view after every transition.
type Status struct {
	State            State  `json:"state"`
	Text             string `json:"text"`
	Tone             Tone   `json:"tone"`
	Failures         int    `json:"failures"`
	SecondsRemaining int    `json:"seconds_remaining,omitempty"`
}
