package journal

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLSink(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	sink, err := NewJSONLSink(&buf)
	require.NoError(t, err)

	events := []Event{
		{
			Time:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			Kind:   KindSwap,
			Pool:   clpool.PoolID{1},
			Sender: common.HexToAddress("0x01"),
			Attributes: map[string]string{
				"offer_amount":  "1000",
				"return_amount": "997",
			},
		},
		{Time: time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC), Kind: KindClaim, PositionID: 4},
	}
	require.NoError(t, sink.Record(ctx, events...))
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))

	got, err := ReadJSONL(&buf)
	require.NoError(t, err)
	assert.Equal(t, events, got)
	require.NoError(t, sink.Close())

	t.Run("cancelled context writes nothing", func(t *testing.T) {
		var out bytes.Buffer
		sink, err := NewJSONLSink(&out)
		require.NoError(t, err)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, sink.Record(cctx, events...), context.Canceled)
		assert.Zero(t, out.Len())
	})

	t.Run("nil writer", func(t *testing.T) {
		_, err := NewJSONLSink(nil)
		assert.EqualError(t, err, "config: Writer cannot be nil")
	})
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, Discard.Record(context.Background(), Event{Kind: KindSwap}))
	assert.NoError(t, Discard.Close())
}
