package statusapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/NewMai/QABot/apitypes"
	"github.com/NewMai/QABot/internal/orchestrator"
	"github.com/NewMai/QABot/internal/report"
	filaddr "github.com/filecoin-project/go-address"
	logging "github.com/ipfs/go-log/v2"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logging.Logger("qabot/statusapi")

// SnapshotSource is satisfied by *orchestrator.Orchestrator
type SnapshotSource interface {
	Snapshot() *orchestrator.Snapshot
}

// OutcomeLister is satisfied by report.PGStore
type OutcomeLister interface {
	ListByProvider(ctx context.Context, provider filaddr.Address, limit int) ([]report.StoredOutcome, error)
}

// Server is the read-only view of a running bot. Outcomes and Metrics are
// optional, Token enables bearer authentication of every route but /metrics.
type Server struct {
	Snapshots SnapshotSource
	Outcomes  OutcomeLister
	Metrics   http.Handler
	Token     string
}

// Echo assembles the http handler
func (s *Server) Echo() *echo.Echo {
	//
	// Server setup
	e := echo.New()

	// logging middleware must be first
	e.Logger.SetLevel(2) // https://github.com/labstack/gommon/blob/v0.4.0/log/log.go#L40-L42
	e.Use(middleware.LoggerWithConfig(
		middleware.LoggerConfig{
			Skipper:          middleware.DefaultSkipper,
			CustomTimeFormat: "2006-01-02 15:04:05.000",
			Format:           logCfg,
		},
	))
	e.Use(requestID)

	// routes
	s.registerRoutes(e)

	//
	// Housekeeping
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = new(rawJSONSerializer)
	e.Any("*", retInvalidRoute)

	return e
}

func (s *Server) tokenAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.Token == "" {
			return next(c)
		}
		got := strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.Token)) != 1 {
			return retFail(c, apitypes.ErrUnauthorizedAccess, "missing or invalid bearer token")
		}
		return next(c)
	}
}

type rawJSONSerializer struct{}

func (rawJSONSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

var defJSONSerializer = echo.DefaultJSONSerializer{}

func (rawJSONSerializer) Deserialize(c echo.Context, i interface{}) error {
	return defJSONSerializer.Deserialize(c, i)
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context, listenAddr string) error {
	e := s.Echo()
	go func() {
		<-ctx.Done()
		if err := e.Close(); err != nil {
			log.Warnw("status api close", "error", err)
		}
	}()

	log.Infow("status api listening", "address", listenAddr)
	if err := e.Start(listenAddr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

var logCfg = fmt.Sprintf("{%s}\n", strings.Join([]string{
	`"timestamp":"${time_custom}"`,
	`"req_uuid":"${header:` + headerRequestID + `}"`,
	`"error":"${error_stacktrace}"`,
	`"http_status":${status}`,
	`"fail_slug":"${header:` + headerFailureSlug + `}"`,
	`"took":"${latency_human}"`,
	`"bytes_out":${bytes_out}`,
	`"op":"${method} ${host}${uri}"`,
	`"user_agent":"${user_agent}"`,
}, ","))
