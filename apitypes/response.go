package apitypes

import "time"

type isResponsePayload struct{}

// ResponsePayload is implemented by every payload the status API returns
type ResponsePayload interface {
	is() isResponsePayload
}

// ResponseEnvelope wraps every status API response
type ResponseEnvelope struct {
	RequestID          string          `json:"request_id"`
	ResponseTime       time.Time       `json:"response_timestamp"`
	ResponseStateCycle uint64          `json:"response_state_cycle"`
	ResponseCode       int             `json:"response_code"`
	ErrCode            int             `json:"error_code,omitempty"`
	ErrSlug            string          `json:"error_slug,omitempty"`
	ErrLines           []string        `json:"error_lines,omitempty"`
	InfoLines          []string        `json:"info_lines,omitempty"`
	Response           ResponsePayload `json:"response"`
}
