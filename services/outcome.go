package services

// OutcomeStatus says how far a trigger got before it stopped.
type OutcomeStatus string

const (
	StatusIgnored      OutcomeStatus = "ignored"
	StatusDuplicate    OutcomeStatus = "duplicate"
	StatusNoRecipients OutcomeStatus = "no_recipients"
	StatusSent         OutcomeStatus = "sent"
	StatusError        OutcomeStatus = "error"
)

// Outcome is what a webhook handler reports. Err is set only with
// StatusError; the HTTP layer still answers 200.
type Outcome struct {
	Status  OutcomeStatus   `json:"status"`
	Push    DispatchSummary `json:"push"`
	Emailed bool            `json:"emailed,omitempty"`
	Err     error           `json:"-"`
}

func outcome(s OutcomeStatus) Outcome {
	return Outcome{Status: s}
}

func failed(err error) Outcome {
	return Outcome{Status: StatusError, Err: err}
}
