package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/petervdpas/profileshare/internal/profile"
	"github.com/petervdpas/profileshare/internal/session"
	"github.com/petervdpas/profileshare/internal/state"

	"github.com/libp2p/go-libp2p/core/peer"
)

type sentCall struct {
	payload []byte
	to      []session.Peer
	mode    session.SendMode
}

type fakeTransport struct {
	mu     sync.Mutex
	calls  []sentCall
	err    error
	events chan session.Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan session.Event, 16)}
}

func (f *fakeTransport) Send(payload []byte, to []session.Peer, mode session.SendMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, sentCall{payload: payload, to: to, mode: mode})
	return nil
}

func (f *fakeTransport) Events() <-chan session.Event { return f.events }

func (f *fakeTransport) sent() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.calls...)
}

type fakeFacet struct {
	startErr error
	starts   int
	stops    int
}

func (f *fakeFacet) Start() error {
	f.starts++
	return f.startErr
}

func (f *fakeFacet) Stop() { f.stops++ }

func testPeer(name string) session.Peer {
	return session.Peer{ID: peer.ID("peer-" + name), Name: name}
}

func newCoordinator(local profile.Profile) (*Coordinator, *fakeTransport, *fakeFacet, *fakeFacet) {
	t := newFakeTransport()
	adv, br := &fakeFacet{}, &fakeFacet{}
	return New(t, adv, br, local), t, adv, br
}

func encode(t *testing.T, p profile.Profile) []byte {
	t.Helper()
	b, err := profile.Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func TestAliceScenario(t *testing.T) {
	alice := profile.New("Alice", "hi", "chess")
	c, tr, _, _ := newCoordinator(alice)
	p := testPeer("P")

	c.HandlePeerState(p, state.Connecting)
	if len(tr.sent()) != 0 {
		t.Fatal("connecting must not send")
	}
	c.HandlePeerState(p, state.Connected)

	calls := tr.sent()
	if len(calls) != 1 {
		t.Fatalf("expected one send, got %d", len(calls))
	}
	if len(calls[0].to) != 1 || calls[0].to[0].ID != p.ID {
		t.Fatalf("sent to %v", calls[0].to)
	}
	if calls[0].mode != session.Reliable {
		t.Fatalf("mode = %v", calls[0].mode)
	}
	got, err := profile.Decode(calls[0].payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Equal(alice) {
		t.Fatalf("peer got %+v, want %+v", got, alice)
	}

	// Echo of our own profile: kept once, since nothing with that id is held yet.
	if r := c.HandlePayload(p, calls[0].payload); r != Accepted {
		t.Fatalf("first echo: %v", r)
	}
	if r := c.HandlePayload(p, calls[0].payload); r != Duplicate {
		t.Fatalf("second echo: %v", r)
	}
	if n := len(c.ReceivedProfiles()); n != 1 {
		t.Fatalf("received %d", n)
	}

	// P's own distinct profile grows the set.
	bob := profile.New("Bob", "", "go")
	if r := c.HandlePayload(p, encode(t, bob)); r != Accepted {
		t.Fatalf("bob: %v", r)
	}
	if n := len(c.ReceivedProfiles()); n != 2 {
		t.Fatalf("received %d", n)
	}
}

func TestDedupKeepsFirst(t *testing.T) {
	c, _, _, _ := newCoordinator(profile.New("Me", ""))
	p := testPeer("P")

	first := profile.New("Bob", "v1")
	second := first
	second.Bio = "v2"
	other := profile.New("Carol", "")

	seq := []profile.Profile{first, second, other, first, other}
	for _, pr := range seq {
		c.HandlePayload(p, encode(t, pr))
	}

	got := c.ReceivedProfiles()
	if len(got) != 2 {
		t.Fatalf("expected 2 distinct profiles, got %d", len(got))
	}
	if got[0].ID != first.ID || got[0].Bio != "v1" {
		t.Fatalf("first entry %+v", got[0])
	}
	if got[1].ID != other.ID {
		t.Fatalf("second entry %+v", got[1])
	}
	if r, ok := c.Received(first.ID); !ok || r.Bio != "v1" {
		t.Fatalf("Received(%s) = %+v %v", first.ID, r, ok)
	}
	st := c.Snapshot().Stats
	if st.Received != 2 || st.Duplicates != 3 {
		t.Fatalf("stats %+v", st)
	}
}

func TestGarbagePayloadDiscarded(t *testing.T) {
	c, _, _, _ := newCoordinator(profile.New("Me", ""))
	before := c.Snapshot().Version

	if r := c.HandlePayload(testPeer("P"), []byte("\x00not json")); r != Rejected {
		t.Fatalf("result %v", r)
	}
	if len(c.ReceivedProfiles()) != 0 {
		t.Fatal("garbage stored")
	}
	if c.Snapshot().Version != before {
		t.Fatal("rejected payload should not publish")
	}
}

func TestBroadcastOnUpdate(t *testing.T) {
	c, tr, _, _ := newCoordinator(profile.New("Me", ""))
	a, b := testPeer("A"), testPeer("B")
	c.HandlePeerState(a, state.Connected)
	c.HandlePeerState(b, state.Connected)
	base := len(tr.sent())

	local := c.LocalProfile()
	for i, bio := range []string{"one", "two", "three"} {
		local.Bio = bio
		res := c.UpdateProfile(local)
		if res.Outcome != Sent || res.Recipients != 2 {
			t.Fatalf("update %d: %+v", i, res)
		}
		if n := len(tr.sent()) - base; n != i+1 {
			t.Fatalf("after %d updates: %d sends", i+1, n)
		}
	}

	c.HandlePeerState(a, state.NotConnected)
	local.Bio = "four"
	c.UpdateProfile(local)
	calls := tr.sent()
	last := calls[len(calls)-1]
	if len(last.to) != 1 || last.to[0].ID != b.ID {
		t.Fatalf("last send to %v", last.to)
	}
	got, _ := profile.Decode(last.payload)
	if got.Bio != "four" || got.ID != local.ID {
		t.Fatalf("payload %+v", got)
	}
}

func TestUpdateWithNoPeersStillAttempts(t *testing.T) {
	c, tr, _, _ := newCoordinator(profile.New("Me", ""))
	res := c.UpdateProfile(profile.New("Me", "x"))
	if res.Outcome != Sent || res.Recipients != 0 {
		t.Fatalf("%+v", res)
	}
	if len(tr.sent()) != 1 {
		t.Fatal("expected one attempt")
	}
}

func TestEmptyNameGuard(t *testing.T) {
	c, tr, _, _ := newCoordinator(profile.New("Me", ""))
	c.HandlePeerState(testPeer("A"), state.Connected)
	base := len(tr.sent())

	local := c.LocalProfile()
	local.Name = ""
	if res := c.UpdateProfile(local); res.Outcome != Skipped {
		t.Fatalf("update: %+v", res)
	}
	if res := c.SendProfile(); res.Outcome != Skipped {
		t.Fatalf("send: %+v", res)
	}
	c.HandlePeerState(testPeer("B"), state.Connected)
	if n := len(tr.sent()) - base; n != 0 {
		t.Fatalf("expected no sends, got %d", n)
	}
	if c.LocalProfile().Name != "" {
		t.Fatal("local profile should still be replaced")
	}
}

func TestEncodeFailureKeepsState(t *testing.T) {
	tr := newFakeTransport()
	c := New(tr, &fakeFacet{}, &fakeFacet{}, profile.New("Me", ""), WithCodec(profile.Codec{MaxImageBytes: 4}))
	c.HandlePeerState(testPeer("A"), state.Connected)
	base := len(tr.sent())

	p := c.LocalProfile()
	p.ImageData = []byte("far too large")
	res := c.UpdateProfile(p)
	if res.Outcome != EncodeFailed || res.Err == nil {
		t.Fatalf("%+v", res)
	}
	if len(tr.sent()) != base {
		t.Fatal("nothing should be sent")
	}
	if len(c.ConnectedPeers()) != 1 {
		t.Fatal("connected set changed")
	}
}

func TestTransportRefusal(t *testing.T) {
	c, tr, _, _ := newCoordinator(profile.New("Me", ""))
	c.HandlePeerState(testPeer("A"), state.Connected)
	tr.mu.Lock()
	tr.err = session.ErrTooLarge
	tr.mu.Unlock()

	res := c.SendProfile()
	if res.Outcome != TransportFailed || !errors.Is(res.Err, session.ErrTooLarge) {
		t.Fatalf("%+v", res)
	}
}

func TestConnectTriggersResendOnce(t *testing.T) {
	c, tr, _, _ := newCoordinator(profile.New("Me", ""))
	p := testPeer("A")

	c.HandlePeerState(p, state.Connecting)
	c.HandlePeerState(p, state.Connected)
	c.HandlePeerState(p, state.Connected)
	if n := len(tr.sent()); n != 1 {
		t.Fatalf("expected 1 send, got %d", n)
	}
	if n := len(c.ConnectedPeers()); n != 1 {
		t.Fatalf("connected %d", n)
	}

	c.HandlePeerState(p, state.NotConnected)
	c.HandlePeerState(p, state.NotConnected)
	if n := len(c.ConnectedPeers()); n != 0 {
		t.Fatalf("connected %d", n)
	}

	// Reconnect gets the profile again.
	c.HandlePeerState(p, state.Connected)
	if n := len(tr.sent()); n != 2 {
		t.Fatalf("expected 2 sends, got %d", n)
	}
}

func TestEditProfileKeepsID(t *testing.T) {
	c, tr, _, _ := newCoordinator(profile.New("Me", "", "go"))
	id := c.LocalProfile().ID

	c.EditProfile(func(p *profile.Profile) {
		p.ID = "something else"
		p.Interests = append(p.Interests, "chess")
	})

	got := c.LocalProfile()
	if got.ID != id {
		t.Fatalf("id changed to %s", got.ID)
	}
	if len(got.Interests) != 2 || got.Interests[1] != "chess" {
		t.Fatalf("interests %v", got.Interests)
	}
	if len(tr.sent()) != 1 {
		t.Fatal("edit should broadcast")
	}
}

func TestSharingFacets(t *testing.T) {
	c, _, adv, br := newCoordinator(profile.New("Me", ""))

	c.StopSharing()
	if adv.stops != 0 || br.stops != 0 {
		t.Fatal("stop while idle should not touch facets")
	}

	c.StartSharing()
	if !c.Advertising() || !c.Browsing() {
		t.Fatal("both facets should be on")
	}
	c.StartSharing()
	if adv.starts != 1 || br.starts != 1 {
		t.Fatalf("starts adv=%d br=%d", adv.starts, br.starts)
	}

	c.SetBrowsing(false)
	if c.Browsing() || !c.Advertising() {
		t.Fatal("browsing should be off alone")
	}
	c.StopSharing()
	if c.Advertising() || c.Browsing() {
		t.Fatal("both should be off")
	}
	if adv.stops != 1 || br.stops != 1 {
		t.Fatalf("stops adv=%d br=%d", adv.stops, br.stops)
	}
}

func TestFacetStartFailureLeavesFlagFalse(t *testing.T) {
	c, _, adv, _ := newCoordinator(profile.New("Me", ""))
	adv.startErr = errors.New("no multicast")

	c.StartSharing()
	if c.Advertising() {
		t.Fatal("advertising should stay off")
	}
	if !c.Browsing() {
		t.Fatal("browsing should still start")
	}
}

func TestSubscribeSeesEveryChangeInOrder(t *testing.T) {
	c, _, _, _ := newCoordinator(profile.New("Me", ""))
	ch, cancel := c.Subscribe()
	defer cancel()

	first := <-ch
	c.HandlePeerState(testPeer("A"), state.Connected)
	c.SetAdvertising(true)

	s1 := <-ch
	s2 := <-ch
	if s1.Version != first.Version+1 || s2.Version != first.Version+2 {
		t.Fatalf("versions %d %d %d", first.Version, s1.Version, s2.Version)
	}
	if len(s1.ConnectedPeers) != 1 || s1.Advertising {
		t.Fatalf("s1 %+v", s1)
	}
	if !s2.Advertising {
		t.Fatalf("s2 %+v", s2)
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
}

func TestSlowSubscriberKeepsNewest(t *testing.T) {
	c, _, _, _ := newCoordinator(profile.New("Me", ""))
	ch, cancel := c.Subscribe()
	defer cancel()

	for i := 0; i < 50; i++ {
		c.HandlePeerState(testPeer("A"), state.Connected)
		c.HandlePeerState(testPeer("A"), state.NotConnected)
	}
	want := c.Snapshot().Version

	var last Snapshot
	for len(ch) > 0 {
		last = <-ch
	}
	if last.Version != want {
		t.Fatalf("last seen %d, want %d", last.Version, want)
	}
}

func TestRunDispatchesEvents(t *testing.T) {
	c, tr, _, _ := newCoordinator(profile.New("Me", ""))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	p := testPeer("A")
	bob := profile.New("Bob", "")
	tr.events <- session.Event{Kind: session.PeerStateChanged, Peer: p, State: state.Connected}
	tr.events <- session.Event{Kind: session.PayloadReceived, Peer: p, Data: encode(t, bob)}
	tr.events <- session.Event{Kind: session.SendFailed, Peer: p, Err: session.ErrNoAck}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s := c.Snapshot()
		if len(s.ConnectedPeers) == 1 && len(s.Received) == 1 && s.Stats.SendFailures == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	s := c.Snapshot()
	if len(s.ConnectedPeers) != 1 || len(s.Received) != 1 || s.Stats.SendFailures != 1 {
		t.Fatalf("snapshot %+v", s)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestConcurrentMutations(t *testing.T) {
	c, _, _, _ := newCoordinator(profile.New("Me", ""))
	payloads := make([][]byte, 8*50)
	for i := range payloads {
		payloads[i] = encode(t, profile.New("X", ""))
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := session.Peer{ID: peer.ID(fmt.Sprintf("peer-%d", i))}
			for j := 0; j < 50; j++ {
				c.HandlePeerState(p, state.Connected)
				c.HandlePayload(p, payloads[i*50+j])
				c.UpdateProfile(c.LocalProfile())
				c.HandlePeerState(p, state.NotConnected)
			}
		}(i)
	}
	wg.Wait()
	if n := len(c.ConnectedPeers()); n != 0 {
		t.Fatalf("connected %d", n)
	}
	if n := len(c.ReceivedProfiles()); n != 8*50 {
		t.Fatalf("received %d", n)
	}
}

func TestSendFailurePublishesStats(t *testing.T) {
	c, _, _, _ := newCoordinator(profile.New("Me", ""))
	ch, cancel := c.Subscribe()
	defer cancel()
	first := <-ch

	c.dispatch(session.Event{Kind: session.SendFailed, Peer: testPeer("A"), Err: session.ErrNoAck})

	select {
	case s := <-ch:
		if s.Version != first.Version+1 || s.Stats.SendFailures != 1 {
			t.Fatalf("snapshot %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("send failure was not published")
	}
}

// slowStopFacet blocks in Stop until released, like a browser waiting for
// its zeroconf goroutines.
type slowStopFacet struct {
	fakeFacet
	stopping chan struct{}
	release  chan struct{}
}

func (f *slowStopFacet) Stop() {
	close(f.stopping)
	<-f.release
}

func TestFacetStopLeavesStateAvailable(t *testing.T) {
	br := &slowStopFacet{stopping: make(chan struct{}), release: make(chan struct{})}
	c := New(newFakeTransport(), &fakeFacet{}, br, profile.New("Me", ""))
	bob := encode(t, profile.New("Bob", ""))

	c.StartSharing()
	stopped := make(chan struct{})
	go func() {
		c.StopSharing()
		close(stopped)
	}()
	<-br.stopping

	served := make(chan ReceiveResult, 1)
	go func() {
		_ = c.Snapshot()
		c.HandlePeerState(testPeer("A"), state.Connected)
		served <- c.HandlePayload(testPeer("A"), bob)
	}()
	select {
	case res := <-served:
		if res != Accepted {
			t.Fatalf("payload %s", res)
		}
	case <-time.After(time.Second):
		t.Fatal("coordinator blocked while the browser was stopping")
	}

	close(br.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("StopSharing did not return")
	}
	if c.Advertising() || c.Browsing() {
		t.Fatal("both facets should be off")
	}
}
