package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// CheckpointPath is where a node publishing its ledgers serves checkpoints.
const CheckpointPath = "/archive/checkpoint"

// HTTPSource fetches checkpoints from the HTTP service of a publishing node.
type HTTPSource struct {
	base   string
	client *http.Client
}

// NewHTTPSource returns a Source for the service at base, e.g.
// http://10.0.0.1:8000.
func NewHTTPSource(base string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

// Checkpoint implements Source.
func (s *HTTPSource) Checkpoint(ctx context.Context, req Request) (*Checkpoint, error) {
	q := url.Values{}
	q.Set("from", strconv.FormatUint(uint64(req.From), 10))
	q.Set("to", strconv.FormatUint(uint64(req.To), 10))
	q.Set("state", strconv.FormatBool(req.State))
	q.Set("values", strconv.FormatBool(req.Values))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+CheckpointPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s", ErrBehind, strings.TrimSpace(string(msg)))
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("archive returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	cp := new(Checkpoint)
	if err := json.NewDecoder(resp.Body).Decode(cp); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return cp, nil
}

// ParseRequest reads a Request from the query of a checkpoint URL.
func ParseRequest(q url.Values) (Request, error) {
	from, err := strconv.ParseUint(q.Get("from"), 10, 32)
	if err != nil {
		return Request{}, fmt.Errorf("from: %w", err)
	}
	to, err := strconv.ParseUint(q.Get("to"), 10, 32)
	if err != nil {
		return Request{}, fmt.Errorf("to: %w", err)
	}
	req := Request{From: uint32(from), To: uint32(to)}
	if v := q.Get("state"); v != "" {
		if req.State, err = strconv.ParseBool(v); err != nil {
			return Request{}, fmt.Errorf("state: %w", err)
		}
	}
	if v := q.Get("values"); v != "" {
		if req.Values, err = strconv.ParseBool(v); err != nil {
			return Request{}, fmt.Errorf("values: %w", err)
		}
	}
	return req, nil
}
