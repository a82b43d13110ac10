package source

import (
	"context"
	"errors"
	"fmt"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/lodestone-labs/lodestone/internal/logger"
	sourcetypes "github.com/lodestone-labs/lodestone/internal/types"
	"github.com/lodestone-labs/lodestone/pkg/types"
)

// ErrNotYetProduced is returned when a requested height is beyond the
// chain tip. The caller should wait and ask again.
var ErrNotYetProduced = errors.New("block not yet produced")

// Adapter abstracts the chain the engine ingests from.
type Adapter interface {
	// GetBlock returns the finalized block at the given height, or
	// ErrNotYetProduced when the chain has not reached it yet.
	GetBlock(ctx context.Context, height uint64) (*types.Block, error)

	// LatestHeight returns the current chain tip.
	LatestHeight(ctx context.Context) (uint64, error)

	// Close releases the underlying connection.
	Close()
}

// Client is a JSON-RPC backed Adapter.
type Client struct {
	rpc      *rpc.Client
	finality sourcetypes.BlockFinality
	log      *logger.Logger
}

// Compile-time check to ensure Client implements the Adapter interface.
var _ Adapter = (*Client)(nil)

// NewClient dials the block source endpoint. Blocks are requested at
// the given finality tag.
func NewClient(ctx context.Context, url string, finality sourcetypes.BlockFinality, log *logger.Logger) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial block source %s: %w", url, err)
	}

	return &Client{
		rpc:      c,
		finality: finality,
		log:      log.WithComponent("block-source"),
	}, nil
}

// rpcBlock is the JSON shape blocks arrive in.
type rpcBlock struct {
	Height uint64          `json:"height"`
	Hash   gethcommon.Hash `json:"hash"`
	Time   int64           `json:"time"`
	Events []rpcEvent      `json:"events"`
}

type rpcEvent struct {
	Kind     uint8           `json:"kind"`
	Contract gethcommon.Hash `json:"contract"`
	To       gethcommon.Hash `json:"to"`
	Amount   uint64          `json:"amount"`
	Values   [2]uint64       `json:"values"`
	Data     []byte          `json:"data,omitempty"`
}

func (b *rpcBlock) toBlock() (*types.Block, error) {
	events := make([]types.Event, len(b.Events))
	for i, ev := range b.Events {
		kind := types.EventKind(ev.Kind)
		if !kind.Valid() {
			return nil, fmt.Errorf("block %d: unknown event kind %d", b.Height, ev.Kind)
		}
		events[i] = types.Event{
			Kind:     kind,
			Contract: ev.Contract,
			To:       ev.To,
			Amount:   ev.Amount,
			Values:   ev.Values,
			Data:     ev.Data,
		}
	}

	return &types.Block{
		Height: b.Height,
		Hash:   b.Hash,
		Time:   b.Time,
		Events: events,
	}, nil
}

// GetBlock fetches one block at the configured finality. A null
// response means the chain has not produced the height yet.
func (c *Client) GetBlock(ctx context.Context, height uint64) (*types.Block, error) {
	var raw *rpcBlock
	if err := c.rpc.CallContext(ctx, &raw, "chain_blockByHeight", height, c.finality.String()); err != nil {
		return nil, fmt.Errorf("failed to fetch block %d: %w", height, err)
	}

	if raw == nil {
		return nil, ErrNotYetProduced
	}

	block, err := raw.toBlock()
	if err != nil {
		return nil, err
	}

	c.log.Debugf("fetched block: height=%d, hash=%s, events=%d",
		block.Height, block.Hash.Hex(), len(block.Events))

	return block, nil
}

// LatestHeight returns the chain tip height.
func (c *Client) LatestHeight(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.rpc.CallContext(ctx, &height, "chain_latestHeight", c.finality.String()); err != nil {
		return 0, fmt.Errorf("failed to fetch latest height: %w", err)
	}
	return height, nil
}

// Close closes the RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}
