package intake

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	betdomain "github.com/smallbiznis/stakeroom/internal/bet/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type betStub struct {
	settled []betdomain.SettleRequest
	voided  []string
	err     error
}

func (s *betStub) Place(ctx context.Context, req betdomain.PlaceRequest) (betdomain.BetRecord, error) {
	return betdomain.BetRecord{}, s.err
}

func (s *betStub) Settle(ctx context.Context, req betdomain.SettleRequest) (betdomain.SettleResult, error) {
	if s.err != nil {
		return betdomain.SettleResult{}, s.err
	}
	s.settled = append(s.settled, req)
	return betdomain.SettleResult{}, nil
}

func (s *betStub) Void(ctx context.Context, reference, reason string) (betdomain.VoidResult, error) {
	if s.err != nil {
		return betdomain.VoidResult{}, s.err
	}
	s.voided = append(s.voided, reference)
	return betdomain.VoidResult{}, nil
}

func (s *betStub) GetByReference(ctx context.Context, reference string) (betdomain.BetRecord, error) {
	return betdomain.BetRecord{}, s.err
}

func newTestConsumer(stub *betStub) *Consumer {
	return &Consumer{
		log:     zap.NewNop(),
		bets:    stub,
		listKey: "test:events",
	}
}

func TestHandleSettleEvent(t *testing.T) {
	stub := &betStub{}
	c := newTestConsumer(stub)

	c.handle(context.Background(), []byte(`{"type":"settle","reference":"01JX","payout":"150.25"}`))

	require.Len(t, stub.settled, 1)
	assert.Equal(t, "01JX", stub.settled[0].Reference)
	assert.True(t, stub.settled[0].Payout.Equal(decimal.RequireFromString("150.25")))
}

func TestHandleVoidEvent(t *testing.T) {
	stub := &betStub{}
	c := newTestConsumer(stub)

	c.handle(context.Background(), []byte(`{"type":"void","reference":"01JX","reason":"provider cancelled"}`))

	require.Len(t, stub.voided, 1)
	assert.Equal(t, "01JX", stub.voided[0])
}

func TestHandleDropsMalformedPayload(t *testing.T) {
	stub := &betStub{}
	c := newTestConsumer(stub)

	c.handle(context.Background(), []byte(`{not json`))
	c.handle(context.Background(), []byte(`{"type":"upgrade","reference":"01JX"}`))

	assert.Empty(t, stub.settled)
	assert.Empty(t, stub.voided)
}

func TestHandleSettleErrorDoesNotPanic(t *testing.T) {
	stub := &betStub{err: assert.AnError}
	c := newTestConsumer(stub)

	c.handle(context.Background(), []byte(`{"type":"settle","reference":"01JX","payout":"10"}`))
	assert.Empty(t, stub.settled)
}
