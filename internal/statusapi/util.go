package statusapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NewMai/QABot/apitypes"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/xerrors"
)

const (
	headerRequestID   = "X-QABOT-REQUEST-UUID"
	headerFailureSlug = "X-QABOT-FAILURE-SLUG"
)

func requestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := uuid.New().String()
		c.Request().Header.Set(headerRequestID, id)
		c.Response().Header().Set(headerRequestID, id)
		return next(c)
	}
}

func retInvalidRoute(c echo.Context) error {
	return retFail(c, apitypes.ErrInvalidRequest, "there is no such route: %s %s", c.Request().Method, c.Request().URL.Path)
}

func httpCode(code apitypes.APIErrorCode) int {
	switch code {
	case apitypes.ErrUnauthorizedAccess:
		return http.StatusUnauthorized
	case apitypes.ErrUnknownProvider:
		return http.StatusNotFound
	case apitypes.ErrStatusNotYetComputed, apitypes.ErrOutcomeStoreUnavailable, apitypes.ErrSystemTemporarilyDisabled:
		return http.StatusServiceUnavailable
	case apitypes.ErrOutcomeStoreNotConfigured:
		return http.StatusNotImplemented
	default:
		return http.StatusBadRequest
	}
}

func retFail(c echo.Context, code apitypes.APIErrorCode, f string, args ...interface{}) error {
	slug := code.String()
	c.Request().Header.Set(headerFailureSlug, slug)

	httpStatus := httpCode(code)
	return c.JSONPretty(httpStatus, apitypes.ResponseEnvelope{
		RequestID:    c.Request().Header.Get(headerRequestID),
		ResponseTime: time.Now().UTC(),
		ResponseCode: httpStatus,
		ErrCode:      int(code),
		ErrSlug:      slug,
		ErrLines:     strings.Split(strings.TrimSpace(fmt.Sprintf(f, args...)), "\n"),
	}, "  ")
}

func retPayloadAnnotated(c echo.Context, cycle uint64, payload apitypes.ResponsePayload, annotation string) error {
	env := apitypes.ResponseEnvelope{
		RequestID:          c.Request().Header.Get(headerRequestID),
		ResponseTime:       time.Now().UTC(),
		ResponseStateCycle: cycle,
		ResponseCode:       http.StatusOK,
		Response:           payload,
	}
	if annotation != "" {
		env.InfoLines = strings.Split(annotation, "\n")
	}
	return c.JSONPretty(http.StatusOK, env, "  ")
}

func parseUIntQueryParam(c echo.Context, name string, min, max uint64) (uint64, error) {
	v, err := strconv.ParseUint(c.QueryParam(name), 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("provided '%s' parameter '%s' is not a valid unsigned integer", name, c.QueryParam(name))
	}
	if v < min || v > max {
		return 0, xerrors.Errorf("provided '%s' parameter '%d' is not within the range [%d:%d]", name, v, min, max)
	}
	return v, nil
}
