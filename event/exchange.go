package event

type (
	// ExchangeRequestData is the payload for an ExchangeRequest event.
	ExchangeRequestData struct {
		ExchangeID  string
		UserMessage *Message
		RequestedAt int64
	}

	// ExchangeResponseData is the payload for an ExchangeResponse event.
	ExchangeResponseData struct {
		ExchangeID        string
		AssistantMessage  *Message
		RespondedAt       int64
		DurationMs        int64
		Usage             TokenUsage
		CostUsd           float64
	}
)
