package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"importq/internal/api"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Importq.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueHealth retrieves aggregate queue counts.
func (c *Client) QueueHealth() (*QueueHealthResponse, error) {
	var resp QueueHealthResponse
	if err := c.client.Call("Importq.QueueHealth", QueueHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DatabaseHealth retrieves detailed database diagnostics.
func (c *Client) DatabaseHealth() (*DatabaseHealthResponse, error) {
	var resp DatabaseHealthResponse
	if err := c.client.Call("Importq.DatabaseHealth", DatabaseHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueAdd enqueues the given sources in order.
func (c *Client) QueueAdd(items []api.AddRequest) (*QueueAddResponse, error) {
	var resp QueueAddResponse
	if err := c.client.Call("Importq.QueueAdd", QueueAddRequest{Items: items}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueList returns queue items optionally filtered by statuses.
func (c *Client) QueueList(statuses []string) (*QueueListResponse, error) {
	var resp QueueListResponse
	if err := c.client.Call("Importq.QueueList", QueueListRequest{Statuses: statuses}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueDescribe returns details for a single queue item.
func (c *Client) QueueDescribe(id int64) (*QueueDescribeResponse, error) {
	var resp QueueDescribeResponse
	if err := c.client.Call("Importq.QueueDescribe", QueueDescribeRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueStats returns per-status queue counts.
func (c *Client) QueueStats() (*QueueStatsResponse, error) {
	var resp QueueStatsResponse
	if err := c.client.Call("Importq.QueueStats", QueueStatsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueCancel cancels a single item.
func (c *Client) QueueCancel(id int64) (*QueueCancelResponse, error) {
	var resp QueueCancelResponse
	if err := c.client.Call("Importq.QueueCancel", QueueCancelRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueCancelAll cancels every pending and active item.
func (c *Client) QueueCancelAll() (*QueueCancelAllResponse, error) {
	var resp QueueCancelAllResponse
	if err := c.client.Call("Importq.QueueCancelAll", QueueCancelAllRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueRetry re-enqueues errored or cancelled items.
func (c *Client) QueueRetry(ids []int64) (*QueueRetryResponse, error) {
	var resp QueueRetryResponse
	if err := c.client.Call("Importq.QueueRetry", QueueRetryRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueRemove deletes pending or terminal items.
func (c *Client) QueueRemove(ids []int64) (*QueueRemoveResponse, error) {
	var resp QueueRemoveResponse
	if err := c.client.Call("Importq.QueueRemove", QueueRemoveRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueReorder moves pending items to the front in the given order.
func (c *Client) QueueReorder(ids []int64) error {
	var resp QueueReorderResponse
	return c.client.Call("Importq.QueueReorder", QueueReorderRequest{IDs: ids}, &resp)
}

// QueueUpdate edits a pending item.
func (c *Client) QueueUpdate(id int64, update api.UpdateRequest) (*QueueUpdateResponse, error) {
	var resp QueueUpdateResponse
	if err := c.client.Call("Importq.QueueUpdate", QueueUpdateRequest{ID: id, Update: update}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueClearCompleted removes all completed items.
func (c *Client) QueueClearCompleted() (*QueueClearResponse, error) {
	var resp QueueClearResponse
	if err := c.client.Call("Importq.QueueClearCompleted", QueueClearRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueClearErrored removes all errored items.
func (c *Client) QueueClearErrored() (*QueueClearResponse, error) {
	var resp QueueClearResponse
	if err := c.client.Call("Importq.QueueClearErrored", QueueClearRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start asks the scheduler to promote the next pending item.
func (c *Client) Start() error {
	var resp StartResponse
	return c.client.Call("Importq.Start", StartRequest{}, &resp)
}

// Pause suspends pickup of pending items.
func (c *Client) Pause() error {
	var resp PauseResponse
	return c.client.Call("Importq.Pause", PauseRequest{}, &resp)
}

// Resume re-enables pickup of pending items.
func (c *Client) Resume() error {
	var resp ResumeResponse
	return c.client.Call("Importq.Resume", ResumeRequest{}, &resp)
}

// SetAutoStart toggles automatic pickup.
func (c *Client) SetAutoStart(enabled bool) error {
	var resp SetAutoStartResponse
	return c.client.Call("Importq.SetAutoStart", SetAutoStartRequest{Enabled: enabled}, &resp)
}

// Shutdown asks the daemon process to exit.
func (c *Client) Shutdown() error {
	var resp ShutdownResponse
	return c.client.Call("Importq.Shutdown", ShutdownRequest{}, &resp)
}
