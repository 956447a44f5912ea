package statusapi

import (
	"fmt"

	"github.com/NewMai/QABot/apitypes"
	"github.com/labstack/echo/v4"
	"github.com/ribasushi/go-toolbox-interplanetary/fil"
)

const (
	outcomesDefaultSize = 100
	outcomesMaxSize     = 5000
)

func (s *Server) apiProviderOutcomes(c echo.Context) error {
	if s.Outcomes == nil {
		return retFail(c, apitypes.ErrOutcomeStoreNotConfigured, "this instance does not persist outcomes")
	}

	aid, err := fil.ParseActorString(c.Param("provider"))
	if err != nil {
		return retFail(c, apitypes.ErrInvalidRequest, "unable to parse provider '%s': %s", c.Param("provider"), err)
	}
	maddr := aid.AsFilAddr()

	lim := uint64(outcomesDefaultSize)
	if c.QueryParams().Has("limit") {
		lim, err = parseUIntQueryParam(c, "limit", 1, outcomesMaxSize)
		if err != nil {
			return retFail(c, apitypes.ErrInvalidRequest, err.Error())
		}
	}

	stored, err := s.Outcomes.ListByProvider(c.Request().Context(), maddr, int(lim))
	if err != nil {
		log.Errorw("outcome listing failed", "provider", maddr, "error", err)
		return retFail(c, apitypes.ErrOutcomeStoreUnavailable, "outcome store query failed")
	}

	ret := make(apitypes.ResponseProviderOutcomes, len(stored))
	var succeeded int
	for i, o := range stored {
		ret[i] = apitypes.Outcome{
			OutcomeID: o.OutcomeID,
			Kind:      o.Kind,
			Success:   o.Success,
			Message:   o.Message,
			TimeStamp: o.EntryCreated.UTC(),
		}
		if o.Success {
			succeeded++
		}
	}

	var cycle uint64
	if snap := s.Snapshots.Snapshot(); snap != nil {
		cycle = snap.Cycle
	}
	return retPayloadAnnotated(c, cycle, ret, fmt.Sprintf(
		"newest %d outcomes for %s, %d of them successful", len(ret), maddr, succeeded,
	))
}
