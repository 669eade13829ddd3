package pipeline

import (
	"time"

	"github.com/spigell/jobmail/internal/classifier"
)

// State is the terminal state of one processed e-mail.
type State string

const (
	StateCreated    State = "created"
	StateMatched    State = "matched"
	StateUnresolved State = "unresolved"
	StateSkipped    State = "skipped"
	StateFailed     State = "failed"
)

const (
	ReasonTimeout          = "timeout"
	ReasonAlreadyProcessed = "already processed"
)

type Outcome struct {
	MessageID     string           `json:"message_id,omitempty"`
	Stage         classifier.Stage `json:"stage,omitempty"`
	State         State            `json:"state"`
	ApplicationID int64            `json:"application_id,omitempty"`
	RecordID      int64            `json:"record_id,omitempty"`
	Score         float64          `json:"score,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	// Warning carries a recovered failure, such as an application that was
	// stored but could not be indexed.
	Warning string `json:"warning,omitempty"`
}

type Summary struct {
	RunID      string `json:"run_id"`
	User       string `json:"user"`
	Total      int    `json:"total"`
	Created    int    `json:"created"`
	Matched    int    `json:"matched"`
	Unresolved int    `json:"unresolved"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`

	Applications int `json:"applications"`
	Rejections   int `json:"rejections"`
	Interviews   int `json:"interviews"`
	Offers       int `json:"offers"`

	// Watermark is the send time of the newest e-mail before the first
	// failure, safe to persist as the next fetch cursor.
	Watermark time.Time `json:"watermark"`
	Outcomes  []Outcome `json:"outcomes"`
}

func (s *Summary) add(o Outcome) {
	s.Total++
	s.Outcomes = append(s.Outcomes, o)

	switch o.State {
	case StateCreated:
		s.Created++
	case StateMatched:
		s.Matched++
	case StateUnresolved:
		s.Unresolved++
	case StateSkipped:
		s.Skipped++
	case StateFailed:
		s.Failed++
	}

	if o.State != StateCreated && o.State != StateMatched {
		return
	}
	switch o.Stage {
	case classifier.StageApplied:
		s.Applications++
	case classifier.StageRejected:
		s.Rejections++
	case classifier.StageInterview:
		s.Interviews++
	case classifier.StageOffer:
		s.Offers++
	}
}
