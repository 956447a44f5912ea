package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	filaddr "github.com/filecoin-project/go-address"
	logging "github.com/ipfs/go-log/v2"
	"github.com/ribasushi/go-toolbox/cmn"
	"golang.org/x/xerrors"
)

var log = logging.Logger("qabot/backend")

const DefaultTimeout = 30 * time.Second

// Client talks to the reputation backend: it serves the paginated provider
// listing and persists pass/fail outcomes.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

type MinerItem struct {
	ID    string      `json:"id"`
	Power json.Number `json:"power"`
}

type MinersPage struct {
	Items []MinerItem `json:"items"`
	Count int         `json:"count"`
}

// GetMiners fetches one page of the provider listing, starting at offset skip
func (c *Client) GetMiners(ctx context.Context, skip int) (*MinersPage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/miners?skip="+strconv.Itoa(skip), nil)
	if err != nil {
		return nil, err
	}

	var page MinersPage
	if err := c.do(req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

type DealOutcome struct {
	Miner   string `json:"miner"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (c *Client) SaveStoreDeal(ctx context.Context, provider filaddr.Address, success bool, msg string) error {
	return c.postOutcome(ctx, "/storage-deals", provider, success, msg)
}

func (c *Client) SaveRetrieveDeal(ctx context.Context, provider filaddr.Address, success bool, msg string) error {
	return c.postOutcome(ctx, "/retrieval-deals", provider, success, msg)
}

func (c *Client) postOutcome(ctx context.Context, path string, provider filaddr.Address, success bool, msg string) error {
	body, err := json.Marshal(DealOutcome{
		Miner:   provider.String(),
		Success: success,
		Message: msg,
	})
	if err != nil {
		return cmn.WrErr(err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, cmn.WrErr(err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// StatusError is returned for any non-2xx backend response
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned HTTP %d: %s", e.Code, e.Body)
}

// Temporary reports whether retrying the same request may succeed
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return xerrors.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if out == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		return cmn.WrErr(err)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Errorf("decoding %s response: %w", req.URL.Path, err)
	}

	log.Debugw("backend call", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode)
	return nil
}
