package controller

// Messages pushed to dashboard clients. Chart frames come from the chart sink.

type StateMessage struct {
	Type           string   `json:"type"`
	Phase          Phase    `json:"phase"`
	Buttons        Buttons  `json:"buttons"`
	LatestElapsed  *float64 `json:"latest_elapsed"`
	LatestPressure *float64 `json:"latest_pressure"`
	Readings       int      `json:"readings"`
	Busy           bool     `json:"busy"`
}

// LogMessage and ResetMessage share one sequence, increasing for the life of
// the controller. Clients drop anything at or below the Seq of the history
// they joined with.
type LogMessage struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
	Line string `json:"line"`
}

// LogHistoryMessage carries the whole log to a client that just joined. Seq
// is that of the last line or reset it includes.
type LogHistoryMessage struct {
	Type  string   `json:"type"`
	Seq   uint64   `json:"seq"`
	Lines []string `json:"lines"`
}

type AlertMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ResetMessage tells clients to clear the log and the session name field.
type ResetMessage struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
}

func (m LogMessage) LogSeq() uint64 { return m.Seq }
func (m LogHistoryMessage) LogSeq() uint64 { return m.Seq }
func (m ResetMessage) LogSeq() uint64 { return m.Seq }
