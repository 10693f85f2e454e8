package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	testdb "github.com/seqlab/nanotrack/test/database"
)

type notePayload struct {
	Note string `json:"note"`
}

func TestPublishAndDispatch(t *testing.T) {
	client := testdb.NewSQLiteClient(t)
	pub := NewPublisher(client.Gorm, "test-source")
	bus := NewBus(client.Gorm, "consumer-1", 30*time.Second)

	var got []Event
	bus.Subscribe("unit.test", func(ctx context.Context, evt Event) error {
		got = append(got, evt)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, "unit.test", notePayload{Note: "hello"}))

	n, err := bus.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, got, 1)
	assert.Equal(t, "unit.test", got[0].Subject)
	assert.Equal(t, "test-source", got[0].Source)

	var payload notePayload
	require.NoError(t, json.Unmarshal(got[0].Payload, &payload))
	assert.Equal(t, "hello", payload.Note)

	// Acked events are not redelivered.
	n, err = bus.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDispatchPreservesPublishOrder(t *testing.T) {
	client := testdb.NewSQLiteClient(t)
	pub := NewPublisher(client.Gorm, "test-source")
	bus := NewBus(client.Gorm, "consumer-1", 30*time.Second)

	var notes []string
	bus.Subscribe("unit.ordered", func(ctx context.Context, evt Event) error {
		var p notePayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		notes = append(notes, p.Note)
		return nil
	})

	ctx := context.Background()
	for _, note := range []string{"first", "second", "third"} {
		require.NoError(t, pub.Publish(ctx, "unit.ordered", notePayload{Note: note}))
		// Distinct timestamps keep the (created_at, id) order deterministic
		// at sqlite's clock resolution.
		time.Sleep(2 * time.Millisecond)
	}

	_, err := bus.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, notes)
}

func TestFailingHandlerLeavesClaimToExpire(t *testing.T) {
	client := testdb.NewSQLiteClient(t)
	pub := NewPublisher(client.Gorm, "test-source")
	bus := NewBus(client.Gorm, "consumer-1", 20*time.Millisecond)

	var attempts atomic.Int32
	bus.Subscribe("unit.flaky", func(ctx context.Context, evt Event) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient handler failure")
		}
		return nil
	})

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, "unit.flaky", notePayload{Note: "x"}))

	n, err := bus.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "failed delivery must not ack")

	// Before the visibility timeout the claim blocks redelivery.
	n, err = bus.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	time.Sleep(30 * time.Millisecond)

	n, err = bus.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 2, attempts.Load())
}

func TestClaimRaceDeliversOnce(t *testing.T) {
	client := testdb.NewSQLiteClient(t)
	pub := NewPublisher(client.Gorm, "test-source")

	var delivered atomic.Int32
	handler := func(ctx context.Context, evt Event) error {
		delivered.Add(1)
		return nil
	}

	busA := NewBus(client.Gorm, "replica-a", 30*time.Second)
	busA.Subscribe("unit.race", handler)
	busB := NewBus(client.Gorm, "replica-b", 30*time.Second)
	busB.Subscribe("unit.race", handler)

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, "unit.race", notePayload{Note: "x"}))

	nA, err := busA.DispatchPending(ctx)
	require.NoError(t, err)
	nB, err := busB.DispatchPending(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, nA+nB)
	assert.EqualValues(t, 1, delivered.Load())
}

func TestAllHandlersRunBeforeAck(t *testing.T) {
	client := testdb.NewSQLiteClient(t)
	pub := NewPublisher(client.Gorm, "test-source")
	bus := NewBus(client.Gorm, "consumer-1", 30*time.Second)

	var first, second atomic.Int32
	bus.Subscribe("unit.fanout", func(ctx context.Context, evt Event) error {
		first.Add(1)
		return nil
	})
	bus.Subscribe("unit.fanout", func(ctx context.Context, evt Event) error {
		second.Add(1)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, "unit.fanout", notePayload{Note: "x"}))

	n, err := bus.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 1, first.Load())
	assert.EqualValues(t, 1, second.Load())
}

func TestUnsubscribedSubjectIsAcked(t *testing.T) {
	client := testdb.NewSQLiteClient(t)
	pub := NewPublisher(client.Gorm, "test-source")
	bus := NewBus(client.Gorm, "consumer-1", 30*time.Second)

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, "unit.unhandled", notePayload{Note: "x"}))

	n, err := bus.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var unacked int64
	require.NoError(t, client.Gorm.Table("workflow_events").
		Where("acked_at IS NULL").Count(&unacked).Error)
	assert.EqualValues(t, 0, unacked)
}

func TestPublishTxRollsBackWithTransaction(t *testing.T) {
	client := testdb.NewSQLiteClient(t)
	pub := NewPublisher(client.Gorm, "test-source")

	ctx := context.Background()
	err := client.Gorm.Transaction(func(tx *gorm.DB) error {
		if err := pub.PublishTx(ctx, tx, "unit.rollback", notePayload{Note: "x"}); err != nil {
			return err
		}
		return errors.New("force rollback")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, client.Gorm.Table("workflow_events").
		Where("subject = ?", "unit.rollback").Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestWakeDoesNotBlock(t *testing.T) {
	client := testdb.NewSQLiteClient(t)
	bus := NewBus(client.Gorm, "consumer-1", 30*time.Second)

	for i := 0; i < 10; i++ {
		bus.Wake()
	}
}
