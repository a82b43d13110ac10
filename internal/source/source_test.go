package source

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/lodestone-labs/lodestone/internal/common"
	"github.com/lodestone-labs/lodestone/pkg/config"
	"github.com/lodestone-labs/lodestone/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestTransient(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		transient bool
	}{
		{name: "nil", err: nil, transient: false},
		{name: "not yet produced", err: ErrNotYetProduced, transient: false},
		{name: "wrapped not yet produced", err: fmt.Errorf("fetch: %w", ErrNotYetProduced), transient: false},
		{name: "connection refused", err: syscall.ECONNREFUSED, transient: true},
		{name: "connection reset", err: fmt.Errorf("read: %w", syscall.ECONNRESET), transient: true},
		{name: "connection reset string", err: errors.New("connection reset by peer"), transient: true},
		{name: "broken pipe string", err: errors.New("write: broken pipe"), transient: true},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, transient: true},
		{name: "deadline exceeded", err: errors.New("context deadline exceeded"), transient: true},
		{name: "rate limited", err: errors.New("HTTP 429 Too Many Requests"), transient: true},
		{name: "bad gateway", err: errors.New("502 Bad Gateway"), transient: true},
		{name: "service unavailable", err: errors.New("service unavailable"), transient: true},
		{name: "decode error", err: errors.New("invalid character 'x'"), transient: false},
		{name: "application error", err: errors.New("unknown method"), transient: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.transient, Transient(tc.err))
		})
	}
}

func TestBackoff(t *testing.T) {
	cfg := &config.RetryConfig{
		InitialBackoff:    common.NewDuration(1 * time.Second),
		MaxBackoff:        common.NewDuration(30 * time.Second),
		BackoffMultiplier: 2.0,
	}

	require.Zero(t, Backoff(0, cfg))

	// Jitter is ±25%, so attempt 1 lands in [0.75s, 1.25s].
	first := Backoff(1, cfg)
	require.GreaterOrEqual(t, first, 750*time.Millisecond)
	require.LessOrEqual(t, first, 1250*time.Millisecond)

	// Attempt 3 is 4s nominal, [3s, 5s] with jitter.
	third := Backoff(3, cfg)
	require.GreaterOrEqual(t, third, 3*time.Second)
	require.LessOrEqual(t, third, 5*time.Second)

	// Large attempts are capped at MaxBackoff plus jitter.
	capped := Backoff(20, cfg)
	require.LessOrEqual(t, capped, time.Duration(float64(30*time.Second)*1.25))
}

func TestRPCBlockConversion(t *testing.T) {
	raw := &rpcBlock{
		Height: 7,
		Time:   1700000007,
		Events: []rpcEvent{
			{Kind: uint8(types.EventTransfer), Amount: 100},
			{Kind: uint8(types.EventLogData), Data: []byte{1, 2, 3}},
		},
	}

	block, err := raw.toBlock()
	require.NoError(t, err)
	require.Equal(t, uint64(7), block.Height)
	require.Len(t, block.Events, 2)
	require.Equal(t, types.EventTransfer, block.Events[0].Kind)
	require.Equal(t, uint64(100), block.Events[0].Amount)
	require.Equal(t, []byte{1, 2, 3}, block.Events[1].Data)
}

func TestRPCBlockConversion_UnknownKind(t *testing.T) {
	raw := &rpcBlock{
		Height: 7,
		Events: []rpcEvent{{Kind: 99}},
	}

	_, err := raw.toBlock()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown event kind")
}
