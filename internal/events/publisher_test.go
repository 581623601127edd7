package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codial-ai/codial-core/internal/events"
	"github.com/codial-ai/codial-core/internal/eventstest"
	"github.com/codial-ai/codial-core/pkg/codial"
)

func TestPublishDeliversToGateway(t *testing.T) {
	stub := eventstest.New("internal-tok")
	defer stub.Close()

	p := events.New(stub.BaseURL(), "internal-tok")
	p.Publish(codial.StreamEvent{SessionID: "s1", TurnID: "t1", Type: codial.EventPlan, Payload: map[string]string{"text": "plan"}})
	p.Publish(codial.StreamEvent{SessionID: "s1", TurnID: "t1", Type: codial.EventFinal, Payload: map[string]string{"text": "done"}})
	p.CloseTurn("s1", "t1")

	require.Eventually(t, func() bool {
		return len(stub.EventsFor("s1", "t1")) == 2
	}, time.Second, 5*time.Millisecond)

	evs := stub.EventsFor("s1", "t1")
	assert.Equal(t, codial.EventPlan, evs[0].Type)
	assert.Equal(t, codial.EventFinal, evs[1].Type)
}

func TestPublishPreservesOrderPerSessionTurn(t *testing.T) {
	stub := eventstest.New("tok")
	defer stub.Close()

	p := events.New(stub.BaseURL(), "tok")
	for i := 0; i < 20; i++ {
		p.Publish(codial.StreamEvent{SessionID: "s1", TurnID: "t1", Type: codial.EventDecisionSummary, Payload: map[string]int{"round": i}})
	}
	p.CloseTurn("s1", "t1")

	require.Eventually(t, func() bool {
		return len(stub.EventsFor("s1", "t1")) == 20
	}, time.Second, 5*time.Millisecond)

	evs := stub.EventsFor("s1", "t1")
	for i, ev := range evs {
		payload, ok := ev.Payload.(map[string]interface{})
		require.True(t, ok)
		assert.EqualValues(t, i, payload["round"])
	}
}

func TestDifferentTurnsGetIndependentWorkers(t *testing.T) {
	stub := eventstest.New("tok")
	defer stub.Close()

	p := events.New(stub.BaseURL(), "tok")
	p.Publish(codial.StreamEvent{SessionID: "s1", TurnID: "t1", Type: codial.EventFinal})
	p.Publish(codial.StreamEvent{SessionID: "s1", TurnID: "t2", Type: codial.EventFinal})
	p.CloseTurn("s1", "t1")
	p.CloseTurn("s1", "t2")

	require.Eventually(t, func() bool { return len(stub.Events()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestDeliverRetriesOn5xxThenSucceeds(t *testing.T) {
	stub := eventstest.New("tok")
	defer stub.Close()
	stub.RejectStatus = 500

	p := events.New(stub.BaseURL(), "tok")
	p.Publish(codial.StreamEvent{SessionID: "s1", TurnID: "t1", Type: codial.EventFinal})

	time.Sleep(50 * time.Millisecond)
	stub.RejectStatus = 0

	require.Eventually(t, func() bool {
		return len(stub.EventsFor("s1", "t1")) == 1
	}, 5*time.Second, 20*time.Millisecond)
}
