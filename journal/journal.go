// Package journal records the effects of pool operations as an append-only
// event log.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/ethereum/go-ethereum/common"
)

// Kind names the operation an event was emitted by.
type Kind string

const (
	KindCreatePool Kind = "create_pool"
	KindProvide    Kind = "provide_liquidity"
	KindWithdraw   Kind = "withdraw_liquidity"
	KindSwap       Kind = "swap"
	KindClaim      Kind = "claim_reward"
	KindTransfer   Kind = "transfer_position"
)

// Event is one committed operation. Amounts are kept as decimal strings in
// Attributes.
type Event struct {
	Time       time.Time         `json:"time"`
	Kind       Kind              `json:"kind"`
	Pool       clpool.PoolID     `json:"pool"`
	Sender     common.Address    `json:"sender"`
	PositionID uint64            `json:"positionId,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Sink receives committed events in order.
type Sink interface {
	Record(ctx context.Context, events ...Event) error
	Close() error
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(context.Context, ...Event) error { return nil }
func (discard) Close() error                           { return nil }

// JSONLSink writes one JSON object per line.
type JSONLSink struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

func NewJSONLSink(w io.Writer) (*JSONLSink, error) {
	if w == nil {
		return nil, errors.New("config: Writer cannot be nil")
	}
	return &JSONLSink{w: w, enc: json.NewEncoder(w)}, nil
}

func (s *JSONLSink) Record(ctx context.Context, events ...Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		if err := s.enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying writer if it is an io.Closer.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ReadJSONL decodes every event written by a JSONLSink.
func ReadJSONL(r io.Reader) ([]Event, error) {
	dec := json.NewDecoder(r)
	var events []Event
	for {
		var e Event
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
}
