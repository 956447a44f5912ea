package statusapi

import (
	"github.com/labstack/echo/v4"
)

// This lists in one place all recognized routes & parameters
func (s *Server) registerRoutes(e *echo.Echo) {
	//
	// /status produces the counters, the known providers with their allowances,
	// and the pending deals and retrievals as of the end of the last cycle
	//
	// Recognized parameters: none
	//
	e.GET("/status", s.apiStatus, s.tokenAuth)

	//
	// /providers lists the known providers with their allowances only
	//
	// Recognized parameters: none
	//
	e.GET("/providers", s.apiProviders, s.tokenAuth)

	//
	// /providers/:provider/outcomes lists the newest outcomes persisted for
	// a provider. Only available when a postgres outcome store is configured.
	//
	// Recognized parameters:
	//
	// - limit = <integer>
	//   How many results to return at most
	//   default=outcomesDefaultSize
	//
	e.GET("/providers/:provider/outcomes", s.apiProviderOutcomes, s.tokenAuth)

	//
	// /metrics is the prometheus scrape endpoint, unauthenticated
	//
	if s.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.Metrics))
	}
}
