package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// Client requests replay streams from a remote service's replay
// server.
type Client struct {
	http *resty.Client
}

// NewClient builds a replay client against baseURL (e.g.
// "http://matching-service:8081").
func NewClient(baseURL string) *Client {
	return &Client{http: resty.New().SetBaseURL(baseURL)}
}

// Fetch streams [req.FromSeq+1, req.ToSeq] from the remote server,
// invoking cb for each event in order. It stops early — closing the
// response body without reading the rest — as soon as cb returns Stop,
// matching wal.Replay's early-exit contract on this side of the wire.
func (c *Client) Fetch(ctx context.Context, req Request, cb Callback) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetQueryParam("from_seq", fmt.Sprintf("%d", req.FromSeq)).
		SetQueryParam("to_seq", fmt.Sprintf("%d", req.ToSeq)).
		Get("/replay")
	if err != nil {
		return fmt.Errorf("replay: request failed: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != 200 {
		return fmt.Errorf("replay: server returned status %d", resp.StatusCode())
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("replay: malformed event: %w", err)
		}
		if cb(ev) == Stop {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("replay: stream read failed: %w", err)
	}
	return nil
}
