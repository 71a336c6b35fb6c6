package agdebug

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gordian-engine/gagree/ag/agcodec/agjson"
	"github.com/gordian-engine/gagree/ag/agconsensus"
	"github.com/tv42/httpunix"
)

const socketLocation = "gagree"

// Client talks to an [HTTPServer] listening on a unix socket.
type Client struct {
	hc   *http.Client
	base string
}

// NewClient returns a client for the server listening at socketPath.
func NewClient(socketPath string) *Client {
	t := &httpunix.Transport{
		DialTimeout:           time.Second,
		RequestTimeout:        10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
	t.RegisterLocation(socketLocation, socketPath)

	return &Client{
		hc:   &http.Client{Transport: t},
		base: httpunix.Scheme + "://" + socketLocation,
	}
}

// do sends the request and decodes a JSON response into out, if out is non-nil.
// Any status outside 2xx is an error carrying the response body.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}

func (c *Client) Sessions(ctx context.Context) ([]SessionStatus, error) {
	var out []SessionStatus
	err := c.do(ctx, http.MethodGet, "/sessions", nil, &out)
	return out, err
}

func (c *Client) Session(ctx context.Context, sid agconsensus.SessionID) (SessionStatus, error) {
	var out SessionStatus
	err := c.do(ctx, http.MethodGet, "/sessions/"+string(sid), nil, &out)
	return out, err
}

func (c *Client) StartSession(ctx context.Context, sid agconsensus.SessionID, resume bool) (SessionStatus, error) {
	body, err := json.Marshal(StartRequest{Resume: resume})
	if err != nil {
		return SessionStatus{}, err
	}

	var out SessionStatus
	err = c.do(ctx, http.MethodPost, "/sessions/"+string(sid), body, &out)
	return out, err
}

func (c *Client) StopSession(ctx context.Context, sid agconsensus.SessionID) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+string(sid), nil, nil)
}

func (c *Client) AddStatement(
	ctx context.Context, sid agconsensus.SessionID, s agconsensus.SignedStatement,
) (AddStatementResponse, error) {
	body, err := (agjson.Codec{}).MarshalStatement(s)
	if err != nil {
		return AddStatementResponse{}, err
	}

	var out AddStatementResponse
	err = c.do(ctx, http.MethodPost, "/sessions/"+string(sid)+"/statements", body, &out)
	return out, err
}

// Propose submits c as the node's candidate for session sid.
func (c *Client) Propose(ctx context.Context, sid agconsensus.SessionID, cand agconsensus.Candidate) error {
	body, err := (agjson.Codec{}).MarshalCandidate(cand)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/sessions/"+string(sid)+"/candidates", body, nil)
}

func (c *Client) IsIncludable(ctx context.Context, sid agconsensus.SessionID, d agconsensus.Digest) (bool, error) {
	var out IncludableResponse
	err := c.do(ctx, http.MethodGet, "/sessions/"+string(sid)+"/includable/"+digestPath(d), nil, &out)
	return out.Includable, err
}

func (c *Client) CandidateStatus(ctx context.Context, d agconsensus.Digest) (CandidateStatusResponse, error) {
	var out CandidateStatusResponse
	err := c.do(ctx, http.MethodGet, "/candidates/"+digestPath(d), nil, &out)
	return out, err
}

// digestPath is the full hex form of d, including for NIL,
// unlike [agconsensus.Digest.String].
func digestPath(d agconsensus.Digest) string {
	return hex.EncodeToString(d[:])
}
