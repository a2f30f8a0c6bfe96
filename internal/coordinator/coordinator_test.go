package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/stream-rooms/internal/broadcast"
	"github.com/mossy-p/stream-rooms/internal/lifecycle"
	"github.com/mossy-p/stream-rooms/internal/models"
	"github.com/mossy-p/stream-rooms/internal/registry"
	"github.com/mossy-p/stream-rooms/internal/store"
	"github.com/mossy-p/stream-rooms/internal/video"
)

type frame struct {
	Event models.EventType `json:"event"`
	Data  json.RawMessage  `json:"data"`
}

type testConn struct {
	id     string
	mu     sync.Mutex
	frames []frame
}

func (c *testConn) ID() string { return c.id }

func (c *testConn) Send(data []byte) bool {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return false
	}
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
	return true
}

func (c *testConn) events(event models.EventType) []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []json.RawMessage
	for _, f := range c.frames {
		if f.Event == event {
			out = append(out, f.Data)
		}
	}
	return out
}

func (c *testConn) last(t *testing.T, event models.EventType, v interface{}) {
	t.Helper()
	got := c.events(event)
	require.NotEmpty(t, got, "no %s frame for %s", event, c.id)
	require.NoError(t, json.Unmarshal(got[len(got)-1], v))
}

func (c *testConn) lastError(t *testing.T) string {
	t.Helper()
	var msg models.ErrorMessage
	c.last(t, models.EventError, &msg)
	return msg.Message
}

type fakeGateway struct {
	mu       sync.Mutex
	viewers  map[string]map[string]struct{}
	messages []models.ChatMessage
	fail     bool

	// hooks run outside the lock; onDecrement before the removal, onClear after
	onDecrement func(streamID, userID string)
	onClear     func(streamID string)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{viewers: make(map[string]map[string]struct{})}
}

func (g *fakeGateway) IncrementViewer(_ context.Context, streamID, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return store.ErrPersistence
	}
	if g.viewers[streamID] == nil {
		g.viewers[streamID] = make(map[string]struct{})
	}
	g.viewers[streamID][userID] = struct{}{}
	return nil
}

func (g *fakeGateway) DecrementViewer(_ context.Context, streamID, userID string) error {
	if g.onDecrement != nil {
		g.onDecrement(streamID, userID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return store.ErrPersistence
	}
	delete(g.viewers[streamID], userID)
	return nil
}

func (g *fakeGateway) CurrentViewerCount(_ context.Context, streamID string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return 0, store.ErrPersistence
	}
	return len(g.viewers[streamID]), nil
}

func (g *fakeGateway) ClearViewers(_ context.Context, streamID string) error {
	g.mu.Lock()
	if g.fail {
		g.mu.Unlock()
		return store.ErrPersistence
	}
	delete(g.viewers, streamID)
	g.mu.Unlock()

	if g.onClear != nil {
		g.onClear(streamID)
	}
	return nil
}

func (g *fakeGateway) AppendMessage(_ context.Context, msg *models.ChatMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return store.ErrPersistence
	}
	g.messages = append(g.messages, *msg)
	return nil
}

func (g *fakeGateway) viewerCount(streamID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.viewers[streamID])
}

type countingVideo struct {
	*video.MemoryClient
	creates atomic.Int32
	fail    atomic.Bool
	gate    chan struct{}
}

func (v *countingVideo) CreateRoom(ctx context.Context, name string, capacity int) (*video.Room, error) {
	v.creates.Add(1)
	if v.gate != nil {
		<-v.gate
	}
	if v.fail.Load() {
		return nil, errors.New("provider unavailable")
	}
	return v.MemoryClient.CreateRoom(ctx, name, capacity)
}

type harness struct {
	c     *Coordinator
	reg   *registry.Registry
	rooms *lifecycle.Manager
	gw    *fakeGateway
	video *countingVideo
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	vc := &countingVideo{MemoryClient: video.NewMemoryClient()}
	reg := registry.New()
	rooms := lifecycle.NewManager(vc, 10)
	gw := newFakeGateway()

	c, err := New(reg, rooms, broadcast.New(), gw, Options{})
	require.NoError(t, err)

	var seq atomic.Int32
	c.newID = func() string { return fmt.Sprintf("msg-%d", seq.Add(1)) }
	c.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	return &harness{c: c, reg: reg, rooms: rooms, gw: gw, video: vc}
}

func (h *harness) connect(id string) *testConn {
	conn := &testConn{id: id}
	h.c.Connect(conn)
	return conn
}

func (h *harness) send(conn *testConn, event models.EventType, data interface{}) {
	payload, _ := json.Marshal(data)
	raw, _ := json.Marshal(models.Envelope{Event: event, Data: payload})
	h.c.Dispatch(context.Background(), conn.id, raw)
}

func (h *harness) join(conn *testConn, streamID, userID string, role models.Role) {
	h.send(conn, models.EventJoinStream, models.JoinStreamRequest{StreamID: streamID, UserID: userID, Role: role})
}

func TestCoordinator_JoinThenLeaveRestoresState(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := h.connect("a")

	h.join(a, "s1", "u1", models.RoleViewer)
	assert.True(t, h.reg.Member("a", "s1"))
	assert.Equal(t, 1, h.gw.viewerCount("s1"))

	h.send(a, models.EventLeaveStream, models.LeaveStreamRequest{StreamID: "s1", UserID: "u1"})
	assert.Equal(t, 0, h.reg.Count("s1"))
	assert.False(t, h.reg.Exists("s1"))
	assert.Equal(t, 0, h.gw.viewerCount("s1"))
}

func TestCoordinator_JoinSendsCountAndRoomInfo(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := h.connect("a")

	h.join(a, "s1", "u1", models.RoleBroadcaster)

	var count models.ViewerCount
	a.last(t, models.EventViewerCount, &count)
	assert.Equal(t, 1, count.Count)

	var info models.RoomInfo
	a.last(t, models.EventRoomInfo, &info)
	assert.Equal(t, "s1", info.StreamID)
	assert.True(t, info.VideoAvailable)

	room, ok := h.rooms.Lookup("s1")
	require.True(t, ok)
	assert.Equal(t, room.SID, info.ExternalRoomID)
}

func TestCoordinator_DuplicateJoinKeepsOneEntry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := h.connect("a")

	h.join(a, "s1", "u1", models.RoleViewer)
	h.join(a, "s1", "u1", models.RoleBroadcaster)

	participants := h.reg.Participants("s1")
	require.Len(t, participants, 1)
	assert.Equal(t, models.RoleViewer, participants[0].Role)
	assert.EqualValues(t, 1, h.video.creates.Load())
}

func TestCoordinator_ScenarioBroadcasterAndViewers(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a, b, c := h.connect("a"), h.connect("b"), h.connect("c")

	h.join(a, "s1", "u1", models.RoleBroadcaster)
	h.join(b, "s1", "u2", models.RoleViewer)

	var count models.ViewerCount
	a.last(t, models.EventViewerCount, &count)
	assert.Equal(t, 2, count.Count)
	b.last(t, models.EventViewerCount, &count)
	assert.Equal(t, 2, count.Count)
	assert.Empty(t, c.frames, "non-members receive nothing")

	var infoA, infoB models.RoomInfo
	a.last(t, models.EventRoomInfo, &infoA)
	b.last(t, models.EventRoomInfo, &infoB)
	assert.Equal(t, infoA.ExternalRoomID, infoB.ExternalRoomID)
	assert.EqualValues(t, 1, h.video.creates.Load())

	h.send(b, models.EventSendMessage, models.SendMessageRequest{StreamID: "s1", UserID: "u2", Content: "hi"})

	var msg models.ChatMessage
	a.last(t, models.EventNewMessage, &msg)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, models.DefaultMessageType, msg.Type)
	assert.Equal(t, "u2", msg.UserID)
	assert.Equal(t, "msg-1", msg.ID)
	assert.Len(t, b.events(models.EventNewMessage), 1, "sender receives its own message")
	require.Len(t, h.gw.messages, 1)
	assert.Equal(t, "msg-1", h.gw.messages[0].ID)

	h.c.Disconnect(context.Background(), "a")

	var gone models.BroadcasterDisconnected
	b.last(t, models.EventBroadcasterDisconnected, &gone)
	assert.Equal(t, "s1", gone.StreamID)
	assert.False(t, h.reg.Exists("s1"))
	_, mapped := h.rooms.Lookup("s1")
	assert.False(t, mapped)
	assert.Equal(t, 0, h.gw.viewerCount("s1"))

	before := len(b.frames)
	h.send(b, models.EventLeaveStream, models.LeaveStreamRequest{StreamID: "s1", UserID: "u2"})
	assert.Len(t, b.frames, before, "leaving a torn-down room is a no-op")
}

func TestCoordinator_ViewerDisconnectUpdatesCount(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a, b := h.connect("a"), h.connect("b")

	h.join(a, "s1", "u1", models.RoleBroadcaster)
	h.join(b, "s1", "u2", models.RoleViewer)

	h.c.Disconnect(context.Background(), "b")

	var count models.ViewerCount
	a.last(t, models.EventViewerCount, &count)
	assert.Equal(t, 1, count.Count)
	assert.Empty(t, a.events(models.EventBroadcasterDisconnected))
	assert.True(t, h.reg.Exists("s1"))
	_, mapped := h.rooms.Lookup("s1")
	assert.True(t, mapped)
}

func TestCoordinator_ReleasedStreamGetsFreshVideoRoom(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := h.connect("a")

	h.join(a, "s1", "u1", models.RoleBroadcaster)
	var first models.RoomInfo
	a.last(t, models.EventRoomInfo, &first)

	h.c.Disconnect(context.Background(), "a")

	again := h.connect("a2")
	h.join(again, "s1", "u1", models.RoleBroadcaster)
	var second models.RoomInfo
	again.last(t, models.EventRoomInfo, &second)

	assert.True(t, second.VideoAvailable)
	assert.NotEqual(t, first.ExternalRoomID, second.ExternalRoomID)
}

func TestCoordinator_ConcurrentJoinsProvisionOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.video.gate = make(chan struct{})
	a, b := h.connect("a"), h.connect("b")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); h.join(a, "s1", "u1", models.RoleViewer) }()
	go func() { defer wg.Done(); h.join(b, "s1", "u2", models.RoleViewer) }()

	require.Eventually(t, func() bool { return h.reg.Count("s1") == 2 }, time.Second, time.Millisecond)
	close(h.video.gate)
	wg.Wait()

	assert.EqualValues(t, 1, h.video.creates.Load())

	var infoA, infoB models.RoomInfo
	a.last(t, models.EventRoomInfo, &infoA)
	b.last(t, models.EventRoomInfo, &infoB)
	assert.NotEmpty(t, infoA.ExternalRoomID)
	assert.Equal(t, infoA.ExternalRoomID, infoB.ExternalRoomID)
}

func TestCoordinator_ProviderFailureDegradesJoin(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.video.fail.Store(true)
	a := h.connect("a")

	h.join(a, "s1", "u1", models.RoleViewer)

	assert.True(t, h.reg.Member("a", "s1"))
	assert.Empty(t, a.events(models.EventError))

	var info models.RoomInfo
	a.last(t, models.EventRoomInfo, &info)
	assert.False(t, info.VideoAvailable)
	assert.Empty(t, info.ExternalRoomID)

	h.video.fail.Store(false)
	b := h.connect("b")
	h.join(b, "s1", "u2", models.RoleViewer)
	b.last(t, models.EventRoomInfo, &info)
	assert.True(t, info.VideoAvailable, "a later join retries provisioning")
}

func TestCoordinator_PersistenceFailureStillBroadcasts(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gw.fail = true
	a, b := h.connect("a"), h.connect("b")

	h.join(a, "s1", "u1", models.RoleBroadcaster)
	h.join(b, "s1", "u2", models.RoleViewer)
	h.send(b, models.EventSendMessage, models.SendMessageRequest{StreamID: "s1", UserID: "u2", Content: "still here"})

	var msg models.ChatMessage
	a.last(t, models.EventNewMessage, &msg)
	assert.Equal(t, "still here", msg.Content)
	assert.Empty(t, b.events(models.EventError))

	snap, err := h.c.Snapshot(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, snap.Participants, 2)
	assert.Nil(t, snap.PersistedViewers)
}

func TestCoordinator_SendMessageValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  models.SendMessageRequest
		want string
	}{
		{"empty content", models.SendMessageRequest{StreamID: "s1", UserID: "u1"}, "content is required"},
		{"blank content", models.SendMessageRequest{StreamID: "s1", UserID: "u1", Content: "   "}, "content is required"},
		{"missing ids", models.SendMessageRequest{Content: "hi"}, "streamId and userId are required"},
		{"bad stream id", models.SendMessageRequest{StreamID: "not valid!", UserID: "u1", Content: "hi"}, "invalid streamId format: not valid!"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			a, b := h.connect("a"), h.connect("b")
			h.join(a, "s1", "u1", models.RoleBroadcaster)
			h.join(b, "s1", "u2", models.RoleViewer)

			h.send(a, models.EventSendMessage, tt.req)

			assert.Equal(t, tt.want, a.lastError(t))
			assert.Empty(t, b.events(models.EventError), "errors go to the sender only")
			assert.Empty(t, b.events(models.EventNewMessage))
			assert.Empty(t, h.gw.messages)
		})
	}
}

func TestCoordinator_MessageTooLong(t *testing.T) {
	t.Parallel()

	vc := &countingVideo{MemoryClient: video.NewMemoryClient()}
	c, err := New(registry.New(), lifecycle.NewManager(vc, 0), broadcast.New(), newFakeGateway(), Options{MaxMessageLength: 5})
	require.NoError(t, err)

	a := &testConn{id: "a"}
	c.Connect(a)

	payload, _ := json.Marshal(models.SendMessageRequest{StreamID: "s1", UserID: "u1", Content: "too long"})
	raw, _ := json.Marshal(models.Envelope{Event: models.EventSendMessage, Data: payload})
	c.Dispatch(context.Background(), "a", raw)

	assert.Equal(t, "content exceeds maximum length of 5 characters", a.lastError(t))
}

func TestCoordinator_JoinValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := h.connect("a")

	h.join(a, "", "u1", models.RoleViewer)
	assert.Equal(t, "streamId is required", a.lastError(t))

	h.join(a, "s/1", "u1", models.RoleViewer)
	assert.Equal(t, "invalid streamId format: s/1", a.lastError(t))

	assert.Empty(t, h.reg.StreamIDs())
	assert.EqualValues(t, 0, h.video.creates.Load())
}

func TestCoordinator_MalformedAndUnknownFrames(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := h.connect("a")

	h.c.Dispatch(context.Background(), "a", []byte("{not json"))
	assert.Equal(t, "invalid message format", a.lastError(t))

	h.send(a, models.EventType("dance"), map[string]string{})
	assert.Equal(t, "unknown event: dance", a.lastError(t))

	h.c.Dispatch(context.Background(), "a", []byte(`{"event":"join_stream","data":"oops"}`))
	assert.Equal(t, "invalid payload", a.lastError(t))
}

func TestCoordinator_StreamStatusFansOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a, b := h.connect("a"), h.connect("b")
	h.join(a, "s1", "u1", models.RoleBroadcaster)
	h.join(b, "s1", "u2", models.RoleViewer)

	h.send(a, models.EventStreamStatus, models.StreamStatusRequest{StreamID: "s1", Status: "live"})

	var status models.StreamStatus
	b.last(t, models.EventStreamStatus, &status)
	assert.Equal(t, models.StreamStatus{StreamID: "s1", Status: "live"}, status)
	a.last(t, models.EventStreamStatus, &status)
}

func TestCoordinator_ParticipantStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a, b := h.connect("a"), h.connect("b")
	h.join(a, "s1", "u1", models.RoleBroadcaster)
	h.join(b, "s1", "u2", models.RoleViewer)

	h.send(b, models.EventParticipantStatus, models.ParticipantStatusRequest{StreamID: "s1", UserID: "u2", Status: "muted"})

	var update models.ParticipantStatusUpdate
	a.last(t, models.EventParticipantStatusUpdate, &update)
	assert.Equal(t, "u2", update.UserID)
	assert.Equal(t, "muted", update.Status)
	assert.Equal(t, h.c.now(), update.Timestamp)
	assert.Equal(t, "muted", h.reg.Participants("s1")[1].Status)

	h.send(b, models.EventParticipantStatus, models.ParticipantStatusRequest{StreamID: "s1", UserID: "ghost", Status: "muted"})
	a.last(t, models.EventParticipantStatusUpdate, &update)
	assert.Equal(t, "ghost", update.UserID)
	assert.Empty(t, b.events(models.EventError))
}

func TestCoordinator_CreateVideoRoom(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a, b := h.connect("a"), h.connect("b")
	h.join(b, "s1", "u2", models.RoleViewer)
	var joined models.RoomInfo
	b.last(t, models.EventRoomInfo, &joined)

	h.send(a, models.EventCreateVideoRoom, models.CreateVideoRoomRequest{StreamID: "s1", UserID: "u1"})

	var created models.VideoRoomCreated
	a.last(t, models.EventVideoRoomCreated, &created)
	assert.Equal(t, "s1", created.StreamID)
	assert.NotEmpty(t, created.RoomName)
	assert.NotEqual(t, joined.ExternalRoomID, created.ExternalRoomID, "a forced create replaces the mapping")
	assert.Empty(t, b.events(models.EventVideoRoomCreated))

	room, ok := h.rooms.Lookup("s1")
	require.True(t, ok)
	assert.Equal(t, created.ExternalRoomID, room.SID)

	participants := h.reg.Participants("s1")
	require.Len(t, participants, 2)
	assert.True(t, participants[1].IsBroadcaster())

	var count models.ViewerCount
	b.last(t, models.EventViewerCount, &count)
	assert.Equal(t, 2, count.Count)
}

func TestCoordinator_CreateVideoRoomPromotesExistingMember(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a, b := h.connect("a"), h.connect("b")
	h.join(a, "s1", "u1", models.RoleViewer)
	h.join(b, "s1", "u2", models.RoleViewer)

	h.send(a, models.EventCreateVideoRoom, models.CreateVideoRoomRequest{StreamID: "s1", UserID: "u1"})
	assert.True(t, h.reg.Participants("s1")[0].IsBroadcaster())

	h.c.Disconnect(context.Background(), "a")
	assert.NotEmpty(t, b.events(models.EventBroadcasterDisconnected))
	assert.False(t, h.reg.Exists("s1"))
}

func TestCoordinator_CreateVideoRoomFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.video.fail.Store(true)
	a := h.connect("a")

	h.send(a, models.EventCreateVideoRoom, models.CreateVideoRoomRequest{StreamID: "s1", UserID: "u1"})

	assert.Equal(t, "failed to create video room", a.lastError(t))
	assert.False(t, h.reg.Exists("s1"))
}

type panickingGateway struct{ *fakeGateway }

func (panickingGateway) AppendMessage(context.Context, *models.ChatMessage) error {
	panic("boom")
}

func TestCoordinator_HandlerPanicIsContained(t *testing.T) {
	t.Parallel()

	vc := &countingVideo{MemoryClient: video.NewMemoryClient()}
	c, err := New(registry.New(), lifecycle.NewManager(vc, 0), broadcast.New(), panickingGateway{newFakeGateway()}, Options{})
	require.NoError(t, err)

	a := &testConn{id: "a"}
	c.Connect(a)

	payload, _ := json.Marshal(models.SendMessageRequest{StreamID: "s1", UserID: "u1", Content: "hi"})
	raw, _ := json.Marshal(models.Envelope{Event: models.EventSendMessage, Data: payload})

	require.NotPanics(t, func() { c.Dispatch(context.Background(), "a", raw) })
	assert.Equal(t, "internal server error", a.lastError(t))
}

func TestCoordinator_DisconnectPanicIsContained(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	host, viewer := h.connect("host"), h.connect("viewer")
	h.join(host, "s1", "u1", models.RoleBroadcaster)
	h.join(viewer, "s1", "u2", models.RoleViewer)
	h.join(viewer, "s2", "u2", models.RoleViewer)

	other := h.connect("other")
	h.join(other, "s2", "u3", models.RoleBroadcaster)

	h.gw.onDecrement = func(streamID, _ string) {
		if streamID == "s1" {
			panic("store exploded")
		}
	}

	require.NotPanics(t, func() { h.c.Disconnect(context.Background(), "viewer") })

	assert.False(t, h.reg.Member("viewer", "s1"))
	assert.False(t, h.reg.Member("viewer", "s2"))

	var count models.ViewerCount
	other.last(t, models.EventViewerCount, &count)
	assert.Equal(t, 1, count.Count, "the other room is still processed")
}

func TestCoordinator_BroadcasterDisconnectPanicStillTearsDown(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	host, viewer := h.connect("host"), h.connect("viewer")
	h.join(host, "s1", "u1", models.RoleBroadcaster)
	h.join(viewer, "s1", "u2", models.RoleViewer)

	h.gw.onClear = func(string) { panic("store exploded") }

	require.NotPanics(t, func() { h.c.Disconnect(context.Background(), "host") })

	var gone models.BroadcasterDisconnected
	viewer.last(t, models.EventBroadcasterDisconnected, &gone)
	assert.Equal(t, "s1", gone.StreamID)
	assert.False(t, h.reg.Exists("s1"))
	_, mapped := h.rooms.Lookup("s1")
	assert.False(t, mapped)
}

func TestCoordinator_JoinDuringTeardownGetsFreshVideoRoom(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	host := h.connect("host")
	h.join(host, "s1", "u1", models.RoleBroadcaster)
	old, ok := h.rooms.Lookup("s1")
	require.True(t, ok)

	late := h.connect("late")
	h.gw.onClear = func(streamID string) {
		h.gw.onClear = nil
		h.join(late, streamID, "u9", models.RoleViewer)
	}

	h.c.Disconnect(context.Background(), "host")

	var info models.RoomInfo
	late.last(t, models.EventRoomInfo, &info)
	assert.True(t, info.VideoAvailable)
	assert.NotEqual(t, old.SID, info.ExternalRoomID, "a recreated room never reuses the released id")
	assert.True(t, h.reg.Member("late", "s1"))
}

func TestCoordinator_ViewerRejoiningDuringLeaveStaysPersisted(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	host, a, a2 := h.connect("host"), h.connect("a"), h.connect("a2")
	h.join(host, "s1", "host", models.RoleBroadcaster)
	h.join(a, "s1", "u1", models.RoleViewer)

	h.gw.onDecrement = func(streamID, userID string) {
		h.gw.onDecrement = nil
		h.join(a2, streamID, userID, models.RoleViewer)
	}

	h.c.Disconnect(context.Background(), "a")

	assert.True(t, h.reg.Member("a2", "s1"))
	assert.Equal(t, 2, h.gw.viewerCount("s1"), "u1 is still persisted through its new connection")
}

func TestCoordinator_SameUserTwoConnections(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a, a2, b := h.connect("a"), h.connect("a2"), h.connect("b")
	h.join(b, "s1", "host", models.RoleBroadcaster)
	h.join(a, "s1", "u1", models.RoleViewer)
	h.join(a2, "s1", "u1", models.RoleViewer)

	h.c.Disconnect(context.Background(), "a")
	assert.Equal(t, 2, h.gw.viewerCount("s1"), "u1 is still watching from another connection")

	h.c.Disconnect(context.Background(), "a2")
	assert.Equal(t, 1, h.gw.viewerCount("s1"))
}

func TestCoordinator_VideoRoomEndedCallback(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a := h.connect("a")
	h.join(a, "s1", "u1", models.RoleBroadcaster)

	room, ok := h.rooms.Lookup("s1")
	require.True(t, ok)

	assert.True(t, h.c.HandleVideoRoomEnded(context.Background(), room.SID))
	_, ok = h.rooms.Lookup("s1")
	assert.False(t, ok)
	assert.False(t, h.c.HandleVideoRoomEnded(context.Background(), room.SID))
	assert.True(t, h.reg.Exists("s1"), "the stream room itself survives")
}

func TestCoordinator_RoomsAndSnapshot(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	a, b := h.connect("a"), h.connect("b")
	h.join(a, "s2", "u1", models.RoleBroadcaster)
	h.join(b, "s1", "u2", models.RoleViewer)

	rooms := h.c.Rooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, "s1", rooms[0].StreamID)
	assert.Equal(t, 1, rooms[0].Participants)
	assert.NotEmpty(t, rooms[0].ExternalRoomID)

	snap, err := h.c.Snapshot(context.Background(), "s2")
	require.NoError(t, err)
	require.Len(t, snap.Participants, 1)
	require.NotNil(t, snap.PersistedViewers)
	assert.Equal(t, 1, *snap.PersistedViewers)

	_, err = h.c.Snapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNew_RejectsBadPattern(t *testing.T) {
	t.Parallel()

	_, err := New(registry.New(), lifecycle.NewManager(video.NewMemoryClient(), 0), broadcast.New(), newFakeGateway(), Options{StreamIDPattern: "("})
	assert.Error(t, err)
}
