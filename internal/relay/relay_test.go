package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/plantops/plantsync/internal/schema"
)

func startTestRelay(t *testing.T, key string) *Server {
	t.Helper()
	s := NewServer(&Config{Port: 0, AccessKey: key})
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func dialRelay(t *testing.T, s *Server, key string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	if key != "" {
		header.Set("Authorization", "Bearer "+key)
	}
	conn, _, err := websocket.Dial(ctx, s.URL(), &websocket.DialOptions{HTTPHeader: header})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, f Frame) {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func recv(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func testEvent(t *testing.T, id string) *schema.ChangeEvent {
	t.Helper()
	eq := &schema.Equipment{ID: id, Name: "Pump " + id, UpdatedAt: time.Now().UTC()}
	ev, err := schema.NewChangeEvent("origin-test", schema.KindEquipment, id, schema.OpCreate, eq)
	require.NoError(t, err)
	return ev
}

func TestRelay_RejectsBadKey(t *testing.T) {
	s := startTestRelay(t, "plant-secret")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, s.URL(), nil)
	require.Error(t, err)
	if resp != nil {
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestRelay_FanOutToSubscribers(t *testing.T) {
	s := startTestRelay(t, "plant-secret")

	sub := dialRelay(t, s, "plant-secret")
	pub := dialRelay(t, s, "plant-secret")

	send(t, sub, Frame{Action: ActionSubscribe, Topic: "equipment"})
	require.Eventually(t, func() bool {
		return s.SubscriberCount("equipment") == 1
	}, 2*time.Second, 10*time.Millisecond)

	ev := testEvent(t, "TG1")
	send(t, pub, Frame{Action: ActionPublish, Topic: "equipment", Event: ev})

	got := recv(t, sub)
	require.Equal(t, ActionEvent, got.Action)
	require.Equal(t, "equipment", got.Topic)
	require.NotNil(t, got.Event)
	require.Equal(t, ev.EventID, got.Event.EventID)
	require.Equal(t, schema.OpCreate, got.Event.Op)
}

func TestRelay_TopicIsolation(t *testing.T) {
	s := startTestRelay(t, "")

	alarmSub := dialRelay(t, s, "")
	pub := dialRelay(t, s, "")

	send(t, alarmSub, Frame{Action: ActionSubscribe, Topic: "alarm"})
	require.Eventually(t, func() bool {
		return s.SubscriberCount("alarm") == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Event on a topic the subscriber didn't ask for must not arrive.
	send(t, pub, Frame{Action: ActionPublish, Topic: "equipment", Event: testEvent(t, "TG2")})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, _, err := alarmSub.Read(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRelay_PublishOrderPreservedPerSubscriber(t *testing.T) {
	s := startTestRelay(t, "")

	sub := dialRelay(t, s, "")
	pub := dialRelay(t, s, "")

	send(t, sub, Frame{Action: ActionSubscribe, Topic: "equipment"})
	require.Eventually(t, func() bool {
		return s.SubscriberCount("equipment") == 1
	}, 2*time.Second, 10*time.Millisecond)

	const n = 10
	want := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ev := testEvent(t, "TG1")
		want = append(want, ev.EventID)
		send(t, pub, Frame{Action: ActionPublish, Topic: "equipment", Event: ev})
	}

	for i := 0; i < n; i++ {
		got := recv(t, sub)
		require.Equal(t, want[i], got.Event.EventID, "event %d out of order", i)
	}
}

func TestRelay_UnsubscribeStopsDelivery(t *testing.T) {
	s := startTestRelay(t, "")

	sub := dialRelay(t, s, "")
	pub := dialRelay(t, s, "")

	send(t, sub, Frame{Action: ActionSubscribe, Topic: "equipment"})
	require.Eventually(t, func() bool {
		return s.SubscriberCount("equipment") == 1
	}, 2*time.Second, 10*time.Millisecond)

	send(t, sub, Frame{Action: ActionUnsubscribe, Topic: "equipment"})
	require.Eventually(t, func() bool {
		return s.SubscriberCount("equipment") == 0
	}, 2*time.Second, 10*time.Millisecond)

	send(t, pub, Frame{Action: ActionPublish, Topic: "equipment", Event: testEvent(t, "TG3")})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, _, err := sub.Read(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRelay_MalformedFrameIgnored(t *testing.T) {
	s := startTestRelay(t, "")
	conn := dialRelay(t, s, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("not json")))

	// Connection stays usable after the malformed frame.
	send(t, conn, Frame{Action: ActionSubscribe, Topic: "equipment"})
	require.Eventually(t, func() bool {
		return s.SubscriberCount("equipment") == 1
	}, 2*time.Second, 10*time.Millisecond)
}
