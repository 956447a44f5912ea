package report

import (
	"context"
	"time"

	filaddr "github.com/filecoin-project/go-address"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("qabot/report")

type Kind string

const (
	KindStorage   = Kind("StoreDeal")
	KindRetrieval = Kind("RetrieveDeal")
)

// Outcome is a single pass/fail verdict about a provider. Detail is only
// logged locally, backends receive Message.
type Outcome struct {
	Kind     Kind
	Provider filaddr.Address
	Success  bool
	Message  string
	Detail   string
	At       time.Time
}

const MsgSuccess = "success"

// Reporter accepts outcomes without blocking the caller
type Reporter interface {
	Report(Outcome)
}

// Store persists outcomes somewhere durable
type Store interface {
	Save(ctx context.Context, o Outcome) error
	Name() string
}

// LogOnly is a Reporter that only writes the PASSED/FAILED line
type LogOnly struct{}

func (LogOnly) Report(o Outcome) { logOutcome(o) }

func logOutcome(o Outcome) {
	kv := []interface{}{
		"kind", o.Kind,
		"provider", o.Provider,
		"msg", o.Message,
	}
	if o.Detail != "" {
		kv = append(kv, "detail", o.Detail)
	}
	if o.Success {
		log.Infow("PASSED", kv...)
	} else {
		log.Warnw("FAILED", kv...)
	}
}
