package types

// PushMessage is one alert addressed to one device token.
type PushMessage struct {
	UserID     string
	Token      string
	Title      string
	Body       string
	DeepLink   string
	CollapseID string
}

type DeliveryOutcome string

const (
	Delivered        DeliveryOutcome = "delivered"
	DeadToken        DeliveryOutcome = "dead_token"
	TransientFailure DeliveryOutcome = "transient_failure"
	// Failed covers permanent rejections that do not implicate the token,
	// such as a bad topic or payload, and transport errors.
	Failed DeliveryOutcome = "failed"
)

type DeliveryResult struct {
	Message  PushMessage
	Outcome  DeliveryOutcome
	Status   int
	Reason   string
	Attempts int
	Err      error
}
