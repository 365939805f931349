package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/xkilldash9x/claimpilot/internal/page"
	"github.com/xkilldash9x/claimpilot/internal/records"
)

// ErrFillFailed wraps the agent's report of a failed fill.
var ErrFillFailed = errors.New("channel: fill failed")

// Client calls the page agent.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the agent's socket.
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, client: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) call(ctx context.Context, method string, req, resp interface{}) error {
	call := c.client.Go(ServiceName+"."+method, req, resp, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-call.Done:
		if done.Error != nil {
			return fmt.Errorf("%s: %w", method, done.Error)
		}
		return nil
	}
}

// Ping reports whether the agent answers.
func (c *Client) Ping(ctx context.Context) error {
	var resp PingResponse
	if err := c.call(ctx, "Ping", PingRequest{}, &resp); err != nil {
		return err
	}
	if resp.Status != StatusReady {
		return fmt.Errorf("agent not ready: %q", resp.Status)
	}
	return nil
}

// FillForm asks the agent to fill and submit rec. A fill the agent reports
// as failed is returned as ErrFillFailed.
func (c *Client) FillForm(ctx context.Context, rec records.Record, index int) error {
	var resp FillFormResponse
	if err := c.call(ctx, "FillForm", FillFormRequest{Data: rec, EntryIndex: index}, &resp); err != nil {
		return err
	}
	if resp.Status == StatusError {
		return fmt.Errorf("%w: %s", ErrFillFailed, resp.Error)
	}
	return nil
}

// ClickAddEntry asks the agent to open a new entry.
func (c *Client) ClickAddEntry(ctx context.Context) error {
	var resp ClickAddEntryResponse
	return c.call(ctx, "ClickAddEntry", ClickAddEntryRequest{}, &resp)
}

// CheckPage asks the agent which page the tab shows.
func (c *Client) CheckPage(ctx context.Context) (page.Kind, error) {
	var resp CheckPageResponse
	if err := c.call(ctx, "CheckPage", CheckPageRequest{}, &resp); err != nil {
		return page.Unknown, err
	}
	return resp.Kind(), nil
}

// Stop tells the agent to abandon its current step.
func (c *Client) Stop(ctx context.Context) error {
	var resp StopResponse
	return c.call(ctx, "Stop", StopRequest{}, &resp)
}
