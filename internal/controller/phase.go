package controller

type Phase int

const (
	Disconnected Phase = iota
	Connected
	Streaming
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Streaming:
		return "streaming"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Buttons is the enablement of each dashboard control.
type Buttons struct {
	Connect  bool `json:"connect"`
	Start    bool `json:"start"`
	Stop     bool `json:"stop"`
	Save     bool `json:"save"`
	Reset    bool `json:"reset"`
	AddEvent bool `json:"add_event"`
}

// buttonsFor derives enablement from the phase. Save stays enabled once a
// stream has been started, reset does not take it away.
func buttonsFor(p Phase, saveEnabled bool) Buttons {
	b := Buttons{Save: saveEnabled}
	switch p {
	case Disconnected:
		b.Connect = true
	case Connected:
		b.Start = true
	case Streaming:
		b.Stop = true
		b.AddEvent = true
	case Stopped:
		b.Start = true
		b.Reset = true
	}
	return b
}
