package apitypes

import "time"

// ResponseProviderOutcomes is the response payload returned by the /providers/:provider/outcomes endpoint
type ResponseProviderOutcomes []Outcome

func (ResponseProviderOutcomes) is() isResponsePayload { return isResponsePayload{} }

type Outcome struct {
	OutcomeID int64     `json:"outcome_id"`
	Kind      string    `json:"kind"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	TimeStamp time.Time `json:"timestamp"`
}
