package apiclient

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/marmos91/flashwear/pkg/runtime"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

// BlockList is a page of block records.
type BlockList struct {
	Total  int                    `json:"total"`
	Offset int                    `json:"offset"`
	Blocks []wearlevel.FlashBlock `json:"blocks"`
}

// BlockFilter narrows ListBlocks. Zero values mean no filter.
type BlockFilter struct {
	State  string
	Offset int
	Limit  int
}

// MarkBadResult reports the block's bad-block record after MarkBad.
type MarkBadResult struct {
	Marked bool                     `json:"marked"`
	Record wearlevel.BadBlockRecord `json:"record"`
}

// SnapshotResult is returned by Snapshot.
type SnapshotResult struct {
	TakenAt time.Time `json:"taken_at"`
	Store   string    `json:"store"`
}

// Status returns engine stats plus runtime state.
func (c *Client) Status(ctx context.Context) (*runtime.Status, error) {
	return getResource[runtime.Status](ctx, c, "/api/v1/stats")
}

// ListBlocks returns block records matching f.
func (c *Client) ListBlocks(ctx context.Context, f BlockFilter) (*BlockList, error) {
	q := url.Values{}
	if f.State != "" {
		q.Set("state", f.State)
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	path := "/api/v1/blocks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return getResource[BlockList](ctx, c, path)
}

// GetBlock returns one block record.
func (c *Client) GetBlock(ctx context.Context, id uint32) (*wearlevel.FlashBlock, error) {
	return getResource[wearlevel.FlashBlock](ctx, c, resourcePath("/api/v1/blocks/%d", id))
}

// BadBlocks returns every bad-block record ordered by block id.
func (c *Client) BadBlocks(ctx context.Context) ([]wearlevel.BadBlockRecord, error) {
	return listResources[wearlevel.BadBlockRecord](ctx, c, "/api/v1/bad-blocks")
}

// MarkBad retires a block. Requires a token with the mark-bad scope.
func (c *Client) MarkBad(ctx context.Context, id uint32, reason string) (*MarkBadResult, error) {
	body := map[string]string{"reason": reason}
	return postResource[MarkBadResult](ctx, c, resourcePath("/api/v1/blocks/%d/bad", id), body)
}

// Maintain runs one maintenance cycle and waits for its report.
func (c *Client) Maintain(ctx context.Context) (*runtime.MaintenanceRun, error) {
	return postResource[runtime.MaintenanceRun](ctx, c, "/api/v1/maintenance", nil)
}

// Snapshot asks the daemon to persist a snapshot now.
func (c *Client) Snapshot(ctx context.Context) (*SnapshotResult, error) {
	return postResource[SnapshotResult](ctx, c, "/api/v1/snapshot", nil)
}
