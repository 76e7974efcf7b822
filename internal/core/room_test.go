package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/classmesh/liveroom/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []Frame
	full   bool
	closed bool
}

func (f *fakeConn) TrySend(fr Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return errors.New("backpressure")
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// events decodes every received frame into a generic envelope.
func (f *fakeConn) events(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, fr := range f.frames {
		var m map[string]any
		if err := json.Unmarshal(fr, &m); err != nil {
			t.Fatalf("undecodable frame %q: %v", fr, err)
		}
		out = append(out, m)
	}
	return out
}

func (f *fakeConn) types(t *testing.T) []string {
	t.Helper()
	evts := f.events(t)
	out := make([]string, 0, len(evts))
	for _, e := range evts {
		out = append(out, e["type"].(string))
	}
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

func instructor(name string) domain.Identity {
	return domain.Identity{UserID: "u-" + name, DisplayName: name, Role: domain.RoleInstructor}
}

func student(name string) domain.Identity {
	return domain.Identity{UserID: "u-" + name, DisplayName: name, Role: domain.RoleStudent}
}

func newTestRoom(t *testing.T, policy Policy) *Room {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRoom(ctx, "r1", policy, nil, nil)
}

func mustJoin(t *testing.T, r *Room, cid ConnID, id domain.Identity) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	if err := r.Join(cid, id, domain.MediaState{AudioEnabled: true, VideoEnabled: true}, conn); err != nil {
		t.Fatalf("join %s: %v", cid, err)
	}
	return conn
}

func TestRoom_Join_SendsRosterToJoinerAndNotifiesOthers(t *testing.T) {
	r := newTestRoom(t, nil)
	instConn := mustJoin(t, r, "i1", instructor("I"))
	s1Conn := mustJoin(t, r, "s1", student("S1"))

	// The joiner gets the full current roster instead of replayed joins.
	s1Events := s1Conn.events(t)
	if len(s1Events) != 1 || s1Events[0]["type"] != EvtRoomState {
		t.Fatalf("expected single room-state for joiner, got %v", s1Conn.types(t))
	}
	parts := s1Events[0]["participants"].([]any)
	if len(parts) != 2 {
		t.Fatalf("expected 2 participants in roster, got %d", len(parts))
	}
	first := parts[0].(map[string]any)
	if first["connectionId"] != "i1" {
		t.Errorf("roster must be in join order, got %v first", first["connectionId"])
	}
	if s1Events[0]["connectionId"] != "s1" {
		t.Errorf("room-state must carry the joiner's connection id, got %v", s1Events[0]["connectionId"])
	}
	if _, ok := s1Events[0]["screenShareHolder"]; ok {
		t.Error("no screen share holder expected in a fresh room")
	}

	// Existing members get user-joined plus a system chat notice, in order.
	instTypes := instConn.types(t)
	if len(instTypes) != 2 || instTypes[0] != EvtUserJoined || instTypes[1] != EvtChatMessage {
		t.Fatalf("expected [user-joined chat-message] for existing member, got %v", instTypes)
	}
	msg := instConn.events(t)[1]["message"].(map[string]any)
	if msg["kind"] != string(domain.KindSystem) {
		t.Errorf("join notice must be a system message, got %v", msg["kind"])
	}
	if msg["body"] != "S1 joined the class" {
		t.Errorf("unexpected join notice body: %v", msg["body"])
	}
}

func TestRoom_StudentEligibility_DefaultsByRole(t *testing.T) {
	r := newTestRoom(t, nil)
	mustJoin(t, r, "i1", instructor("I"))
	s1Conn := mustJoin(t, r, "s1", student("S1"))

	roster := s1Conn.events(t)[0]["participants"].([]any)
	for _, p := range roster {
		pm := p.(map[string]any)
		eligible := pm["screenShareEligible"].(bool)
		switch pm["connectionId"] {
		case "i1":
			if !eligible {
				t.Error("instructor must always be share-eligible")
			}
		case "s1":
			if eligible {
				t.Error("student must not be share-eligible before a grant")
			}
		}
	}
}

func TestRoom_GrantAndStartShare(t *testing.T) {
	r := newTestRoom(t, nil)
	instConn := mustJoin(t, r, "i1", instructor("I"))
	s1Conn := mustJoin(t, r, "s1", student("S1"))
	instConn.reset()
	s1Conn.reset()

	if err := r.Grant("i1", "s1"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	// The offer goes to the target only; eligibility is not a room event.
	if got := s1Conn.types(t); len(got) != 1 || got[0] != EvtScreenShareRequest {
		t.Fatalf("expected directed screen-share-request, got %v", got)
	}
	if got := instConn.types(t); len(got) != 0 {
		t.Fatalf("grant must not broadcast to the room, got %v", got)
	}

	// Granting twice is a no-op, safe to resubmit.
	s1Conn.reset()
	if err := r.Grant("i1", "s1"); err != nil {
		t.Fatalf("re-grant: %v", err)
	}
	if got := s1Conn.types(t); len(got) != 0 {
		t.Fatalf("re-grant must be a no-op, got %v", got)
	}

	if err := r.StartShare("s1"); err != nil {
		t.Fatalf("start share: %v", err)
	}
	if got := instConn.types(t); len(got) != 1 || got[0] != EvtScreenShareStarted {
		t.Fatalf("expected screen-share-started broadcast, got %v", got)
	}
	if r.holder != "s1" {
		t.Errorf("holder should be s1, got %q", r.holder)
	}
}

func TestRoom_StartShare_Preconditions(t *testing.T) {
	r := newTestRoom(t, nil)
	mustJoin(t, r, "i1", instructor("I"))
	s1Conn := mustJoin(t, r, "s1", student("S1"))
	s2Conn := mustJoin(t, r, "s2", student("S2"))

	// Not eligible: no state change, no broadcast.
	s1Conn.reset()
	s2Conn.reset()
	if err := r.StartShare("s2"); !errors.Is(err, domain.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
	if got := s1Conn.types(t); len(got) != 0 {
		t.Fatalf("failed start must not broadcast, got %v", got)
	}
	if r.holder != "" {
		t.Errorf("holder must stay empty, got %q", r.holder)
	}

	// Somebody else already sharing.
	if err := r.StartShare("i1"); err != nil {
		t.Fatalf("instructor start: %v", err)
	}
	if err := r.Grant("i1", "s2"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := r.StartShare("s2"); !errors.Is(err, domain.ErrAlreadySharing) {
		t.Fatalf("expected ErrAlreadySharing, got %v", err)
	}
	if r.holder != "i1" {
		t.Errorf("holder must stay i1, got %q", r.holder)
	}
}

func TestRoom_RevokeWhileSharing_EndsShareAndEligibility(t *testing.T) {
	r := newTestRoom(t, nil)
	instConn := mustJoin(t, r, "i1", instructor("I"))
	s1Conn := mustJoin(t, r, "s1", student("S1"))

	if err := r.Grant("i1", "s1"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := r.StartShare("s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	instConn.reset()
	s1Conn.reset()

	if err := r.Revoke("i1", "s1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if got := instConn.types(t); len(got) != 2 || got[0] != EvtScreenShareRevoked || got[1] != EvtScreenShareEnded {
		t.Fatalf("expected [screen-share-revoked screen-share-ended] broadcast, got %v", got)
	}
	if r.holder != "" {
		t.Errorf("holder must be cleared, got %q", r.holder)
	}
	// Round-trip: eligibility is back to its pre-grant value.
	if r.participants["s1"].eligible {
		t.Error("student eligibility must be false after revoke")
	}
	// And the target cannot restart.
	if err := r.StartShare("s1"); !errors.Is(err, domain.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible after revoke, got %v", err)
	}
}

func TestRoom_Revoke_WithoutActiveShare_IsDirected(t *testing.T) {
	r := newTestRoom(t, nil)
	instConn := mustJoin(t, r, "i1", instructor("I"))
	s1Conn := mustJoin(t, r, "s1", student("S1"))
	if err := r.Grant("i1", "s1"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	instConn.reset()
	s1Conn.reset()

	if err := r.Revoke("i1", "s1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if got := s1Conn.types(t); len(got) != 1 || got[0] != EvtScreenShareRevoked {
		t.Fatalf("expected directed screen-share-revoked, got %v", got)
	}
	if got := instConn.types(t); len(got) != 0 {
		t.Fatalf("idle revoke must not broadcast, got %v", got)
	}
}

func TestRoom_PermissionOps_RequireInstructor(t *testing.T) {
	r := newTestRoom(t, nil)
	mustJoin(t, r, "i1", instructor("I"))
	mustJoin(t, r, "s1", student("S1"))
	mustJoin(t, r, "s2", student("S2"))

	cases := []struct {
		name string
		call func() error
	}{
		{"grant", func() error { return r.Grant("s1", "s2") }},
		{"revoke", func() error { return r.Revoke("s1", "s2") }},
		{"kick", func() error { return r.Kick("s1", "s2") }},
		{"forceMute", func() error { return r.ForceMute("s1", "s2", domain.ChannelAudio) }},
	}
	for _, tc := range cases {
		if err := tc.call(); !errors.Is(err, domain.ErrForbidden) {
			t.Errorf("%s by student: expected ErrForbidden, got %v", tc.name, err)
		}
	}
}

func TestRoom_StopShare_OnlyByHolder(t *testing.T) {
	r := newTestRoom(t, nil)
	instConn := mustJoin(t, r, "i1", instructor("I"))
	mustJoin(t, r, "s1", student("S1"))

	// Stopping when nothing is shared is a no-op.
	if err := r.StopShare("s1"); err != nil {
		t.Fatalf("idle stop: %v", err)
	}

	if err := r.StartShare("i1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.StopShare("s1"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden stopping someone else's share, got %v", err)
	}

	instConn.reset()
	if err := r.StopShare("i1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := instConn.types(t); len(got) != 1 || got[0] != EvtScreenShareEnded {
		t.Fatalf("expected screen-share-ended, got %v", got)
	}
	if r.holder != "" {
		t.Errorf("holder must be empty, got %q", r.holder)
	}
}

func TestRoom_ToggleMedia_SelfOnly(t *testing.T) {
	r := newTestRoom(t, nil)
	instConn := mustJoin(t, r, "i1", instructor("I"))
	s1Conn := mustJoin(t, r, "s1", student("S1"))

	if err := r.ToggleMedia("s1", "i1", domain.ChannelAudio); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("toggling another participant must be forbidden, got %v", err)
	}

	instConn.reset()
	s1Conn.reset()
	if err := r.ToggleMedia("s1", "s1", domain.ChannelAudio); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	evts := instConn.events(t)
	if len(evts) != 1 || evts[0]["type"] != EvtParticipantUpdate {
		t.Fatalf("expected participant-update broadcast, got %v", instConn.types(t))
	}
	p := evts[0]["participant"].(map[string]any)
	media := p["mediaState"].(map[string]any)
	if media["audioEnabled"] != false {
		t.Errorf("audio should be toggled off, got %v", media["audioEnabled"])
	}
	// The sender sees the confirmed update too.
	if got := s1Conn.types(t); len(got) != 1 || got[0] != EvtParticipantUpdate {
		t.Fatalf("sender must receive its own update, got %v", got)
	}
}

func TestRoom_ToggleHandRaise(t *testing.T) {
	r := newTestRoom(t, nil)
	instConn := mustJoin(t, r, "i1", instructor("I"))
	mustJoin(t, r, "s1", student("S1"))
	instConn.reset()

	if err := r.ToggleHandRaise("s1", "s1"); err != nil {
		t.Fatalf("raise: %v", err)
	}
	p := instConn.events(t)[0]["participant"].(map[string]any)
	if p["handRaised"] != true {
		t.Error("hand should be raised")
	}

	instConn.reset()
	if err := r.ToggleHandRaise("s1", "s1"); err != nil {
		t.Fatalf("lower: %v", err)
	}
	p = instConn.events(t)[0]["participant"].(map[string]any)
	if p["handRaised"] != false {
		t.Error("hand should be lowered again")
	}

	if err := r.ToggleHandRaise("i1", "s1"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("raising someone else's hand must be forbidden, got %v", err)
	}
}

func TestRoom_ForceMute(t *testing.T) {
	r := newTestRoom(t, nil)
	instConn := mustJoin(t, r, "i1", instructor("I"))
	s1Conn := mustJoin(t, r, "s1", student("S1"))
	instConn.reset()
	s1Conn.reset()

	if err := r.ForceMute("i1", "s1", domain.ChannelAudio); err != nil {
		t.Fatalf("force mute: %v", err)
	}
	// Target gets the directed notice first, then the room-wide update.
	if got := s1Conn.types(t); len(got) != 2 || got[0] != EvtForcedMute || got[1] != EvtParticipantUpdate {
		t.Fatalf("expected [forced-mute participant-update] for target, got %v", got)
	}
	if got := instConn.types(t); len(got) != 1 || got[0] != EvtParticipantUpdate {
		t.Fatalf("expected participant-update for room, got %v", got)
	}
	if r.participants["s1"].media.AudioEnabled {
		t.Error("audio flag must be off after forced mute")
	}
	if !r.participants["s1"].media.VideoEnabled {
		t.Error("video flag must be untouched")
	}
}

func TestRoom_Kick_NotifiesTargetAndRoom(t *testing.T) {
	r := newTestRoom(t, nil)
	instConn := mustJoin(t, r, "i1", instructor("I"))
	s1Conn := mustJoin(t, r, "s1", student("S1"))
	instConn.reset()
	s1Conn.reset()

	if err := r.Kick("i1", "s1"); err != nil {
		t.Fatalf("kick: %v", err)
	}
	// The target gets the distinguished notice instead of the generic one.
	if got := s1Conn.types(t); len(got) == 0 || got[0] != EvtUserKicked {
		t.Fatalf("expected user-kicked first for target, got %v", got)
	}
	instTypes := instConn.types(t)
	if len(instTypes) != 2 || instTypes[0] != EvtUserLeft || instTypes[1] != EvtChatMessage {
		t.Fatalf("expected [user-left chat-message] for room, got %v", instTypes)
	}
	msg := instConn.events(t)[1]["message"].(map[string]any)
	if msg["body"] != "S1 was removed from the class" {
		t.Errorf("unexpected kick notice: %v", msg["body"])
	}
	if _, ok := r.participants["s1"]; ok {
		t.Error("kicked participant must be removed")
	}
}

func TestRoom_Leave_IsIdempotent(t *testing.T) {
	r := newTestRoom(t, nil)
	instConn := mustJoin(t, r, "i1", instructor("I"))
	mustJoin(t, r, "s1", student("S1"))
	instConn.reset()

	if err := r.Leave("s1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := r.Leave("s1"); err != nil {
		t.Fatalf("second leave: %v", err)
	}
	if err := r.Leave("never-joined"); err != nil {
		t.Fatalf("leave of unknown conn: %v", err)
	}

	// Exactly one departure was observed.
	var lefts int
	for _, typ := range instConn.types(t) {
		if typ == EvtUserLeft {
			lefts++
		}
	}
	if lefts != 1 {
		t.Errorf("expected exactly one user-left, got %d", lefts)
	}
	if len(r.participants) != 1 {
		t.Errorf("expected 1 remaining participant, got %d", len(r.participants))
	}
}

func TestRoom_Leave_ClearsShareHolder(t *testing.T) {
	r := newTestRoom(t, nil)
	instConn := mustJoin(t, r, "i1", instructor("I"))
	mustJoin(t, r, "s1", student("S1"))
	if err := r.Grant("i1", "s1"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := r.StartShare("s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	instConn.reset()

	if err := r.Leave("s1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	types := instConn.types(t)
	if len(types) != 3 || types[0] != EvtScreenShareEnded || types[1] != EvtUserLeft || types[2] != EvtChatMessage {
		t.Fatalf("expected [screen-share-ended user-left chat-message], got %v", types)
	}
	if r.holder != "" {
		t.Errorf("holder must be cleared by leave, got %q", r.holder)
	}
}

func TestRoom_Chat_TotalOrderIncludingSender(t *testing.T) {
	r := newTestRoom(t, nil)
	conns := map[ConnID]*fakeConn{
		"i1": mustJoin(t, r, "i1", instructor("I")),
		"s1": mustJoin(t, r, "s1", student("S1")),
		"s2": mustJoin(t, r, "s2", student("S2")),
	}
	for _, c := range conns {
		c.reset()
	}

	if err := r.SendChat("s1", "first"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := r.SendChat("s2", "second"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := r.SendChat("i1", "third"); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Everyone, the senders included, observes the same relative order.
	for cid, c := range conns {
		var bodies []string
		for _, e := range c.events(t) {
			if e["type"] != EvtChatMessage {
				continue
			}
			bodies = append(bodies, e["message"].(map[string]any)["body"].(string))
		}
		if len(bodies) != 3 || bodies[0] != "first" || bodies[1] != "second" || bodies[2] != "third" {
			t.Errorf("conn %s observed order %v", cid, bodies)
		}
	}
}

func TestRoom_Chat_RejectsInvalidBody(t *testing.T) {
	r := newTestRoom(t, nil)
	mustJoin(t, r, "s1", student("S1"))

	for _, body := range []string{"", "   \n\t "} {
		if err := r.SendChat("s1", body); !errors.Is(err, domain.ErrEmptyMessage) {
			t.Errorf("body %q: expected ErrEmptyMessage, got %v", body, err)
		}
	}

	long := make([]byte, domain.MaxChatBodyLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if err := r.SendChat("s1", string(long)); !errors.Is(err, domain.ErrEmptyMessage) {
		t.Errorf("over-long body: expected ErrEmptyMessage, got %v", err)
	}
}

func TestRoom_ClosesWhenLastParticipantLeaves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var emptied bool
	r := NewRoom(ctx, "r1", nil, nil, func(*Room) { emptied = true })
	mustJoin(t, r, "s1", student("S1"))

	if err := r.Leave("s1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if !emptied {
		t.Fatal("onEmpty must fire when the last participant leaves")
	}
	// The worker is gone; any further operation reports the closed room.
	if err := r.Join("s2", student("S2"), domain.MediaState{}, &fakeConn{}); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed, got %v", err)
	}
}

func TestRoom_SlowConsumerIsEvicted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var left []ConnID
	policy := kickImmediately{}
	r := NewRoom(ctx, "r1", policy, func(cid ConnID) { left = append(left, cid) }, nil)

	instConn := mustJoin(t, r, "i1", instructor("I"))
	slow := &fakeConn{}
	if err := r.Join("s1", student("S1"), domain.MediaState{}, slow); err != nil {
		t.Fatalf("join: %v", err)
	}
	slow.mu.Lock()
	slow.full = true
	slow.mu.Unlock()
	instConn.reset()

	// Any broadcast now overflows the slow queue and the policy evicts.
	if err := r.SendChat("i1", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, ok := r.participants["s1"]; ok {
		t.Fatal("slow consumer must be removed")
	}
	if len(left) != 1 || left[0] != "s1" {
		t.Fatalf("onLeft must report the evicted conn, got %v", left)
	}
	// The room observed a normal departure.
	var sawLeft bool
	for _, typ := range instConn.types(t) {
		if typ == EvtUserLeft {
			sawLeft = true
		}
	}
	if !sawLeft {
		t.Error("eviction must broadcast user-left")
	}
}

type kickImmediately struct{}

func (kickImmediately) OnBackPressure(domain.RoomID, ConnID, int) BackpressureAction {
	return KickMember
}
