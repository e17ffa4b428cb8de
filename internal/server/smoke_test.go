package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/raventid/go-pupa-server/internal/pupa"
	"github.com/raventid/go-pupa-server/internal/registry"
	"github.com/raventid/go-pupa-server/internal/store"
	"github.com/raventid/go-pupa-server/internal/winlog"
)

type gameStack struct {
	reg    *registry.Registry
	pool   *store.Store
	log    *winlog.Log
	srv    *Server
	cancel context.CancelFunc
}

func startGameServer(t *testing.T) *gameStack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	st := &gameStack{
		reg:    registry.New(),
		pool:   store.New(0),
		log:    winlog.New(0),
		cancel: cancel,
	}
	st.srv = NewServer(
		WithListenAddr("127.0.0.1:0"),
		WithRegistry(st.reg),
		WithStore(st.pool),
		WithWinLog(st.log),
	)
	go func() {
		if err := st.srv.Serve(ctx); err != nil {
			t.Logf("Serve returned: %v", err)
		}
	}()
	select {
	case <-st.srv.Ready():
	case <-time.After(time.Second):
		t.Fatalf("server did not signal readiness")
	}
	t.Cleanup(func() {
		cancel()
		shCtx, shCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shCancel()
		_ = st.srv.Shutdown(shCtx)
	})
	return st
}

// testClient speaks the wire protocol over a real socket.
type testClient struct {
	t    *testing.T
	conn net.Conn
	dec  *pupa.Decoder
}

func dialGame(t *testing.T, addr string) *testClient {
	t.Helper()
	d := net.Dialer{Timeout: time.Second}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn, dec: pupa.NewDecoder()}
}

func (c *testClient) send(fr pupa.Frame) {
	c.t.Helper()
	if _, err := (pupa.Codec{}).EncodeTo(c.conn, fr); err != nil {
		c.t.Fatalf("send %s: %v", fr.Tag, err)
	}
}

// recv decodes the next frame, reading until the deadline.
func (c *testClient) recv(timeout time.Duration) (pupa.Frame, error) {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if fr, err := c.dec.Next(); err == nil {
			return fr, nil
		}
		_ = c.conn.SetReadDeadline(deadline)
		if _, err := c.dec.ReadFrom(c.conn); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return pupa.Frame{}, errors.New("timeout")
			}
			return pupa.Frame{}, err
		}
	}
}

func (c *testClient) expectSilence(d time.Duration) {
	c.t.Helper()
	if fr, err := c.recv(d); err == nil {
		c.t.Fatalf("expected no frame, got %s", fr.Tag)
	}
}

func waitOnline(t *testing.T, reg *registry.Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reg.OnlineCount() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("online count never reached %d (have %d)", want, reg.OnlineCount())
}

func mustUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// S1+S2+S3: content broadcast, first flash wins, late flash dropped.
func TestServer_ContentFlashWinFlow(t *testing.T) {
	st := startGameServer(t)
	idA := mustUUID("00000000-0000-0000-0000-000000000001")
	idB := mustUUID("00000000-0000-0000-0000-000000000002")
	idC := mustUUID("00000000-0000-0000-0000-000000000003")

	pa := dialGame(t, st.srv.Addr())
	pa.send(pupa.Authorize(idA))
	pb := dialGame(t, st.srv.Addr())
	pb.send(pupa.Authorize(idB))
	pc := dialGame(t, st.srv.Addr())
	pc.send(pupa.Authorize(idC))
	waitOnline(t, st.reg, 3)

	msgID := mustUUID("10000000-0000-0000-0000-000000000000")
	body := []byte{0xDE, 0xAD}
	pa.send(pupa.Content(msgID, body))

	// S1: every other peer receives the content, the sender does not.
	for _, p := range []*testClient{pb, pc} {
		fr, err := p.recv(2 * time.Second)
		if err != nil {
			t.Fatalf("recipient did not get content: %v", err)
		}
		if fr.Tag != pupa.TagContent || fr.MsgID != msgID || string(fr.Body) != string(body) {
			t.Fatalf("wrong content frame: %+v", fr)
		}
	}
	pa.expectSilence(200 * time.Millisecond)

	infoA, _ := st.reg.Lookup(idA)
	infoB, _ := st.reg.Lookup(idB)
	if infoA.MessagesSent != 1 {
		t.Fatalf("sender messages_sent=%d want 1", infoA.MessagesSent)
	}
	if infoB.MessagesReceived != 1 {
		t.Fatalf("recipient messages_received=%d want 1", infoB.MessagesReceived)
	}
	if !st.pool.Contains(msgID) {
		t.Fatalf("content not recorded in pending pool")
	}

	// S2: the first flash wins and the sender is notified.
	before := uint64(time.Now().Unix())
	pb.send(pupa.Flash(msgID))
	win, err := pa.recv(2 * time.Second)
	if err != nil {
		t.Fatalf("original sender did not get Win: %v", err)
	}
	if win.Tag != pupa.TagWin || win.MsgID != msgID || string(win.Body) != string(body) {
		t.Fatalf("wrong win frame: %+v", win)
	}
	infoB, _ = st.reg.Lookup(idB)
	if infoB.Wins != 1 {
		t.Fatalf("flasher wins=%d want 1", infoB.Wins)
	}
	if st.pool.Contains(msgID) {
		t.Fatalf("message still pending after win")
	}
	records := st.log.Snapshot()
	if len(records) != 1 {
		t.Fatalf("winlog has %d records, want 1", len(records))
	}
	rec := records[0]
	after := uint64(time.Now().Unix())
	if rec.Flasher != idB || rec.MsgID != msgID {
		t.Fatalf("wrong winlog record: %+v", rec)
	}
	if rec.Timestamp+2 < before || rec.Timestamp > after+2 {
		t.Fatalf("winlog timestamp %d outside [%d,%d]", rec.Timestamp, before, after)
	}

	// S3: a late flash changes nothing.
	pc.send(pupa.Flash(msgID))
	pa.expectSilence(300 * time.Millisecond)
	infoC, _ := st.reg.Lookup(idC)
	if infoC.Wins != 0 {
		t.Fatalf("late flasher credited: wins=%d", infoC.Wins)
	}
	if st.log.Len() != 1 {
		t.Fatalf("winlog grew on late flash")
	}
}

// S4: a first frame other than Authorize closes the connection without
// touching the registry.
func TestServer_UnauthorizedFirstFrame(t *testing.T) {
	st := startGameServer(t)
	p := dialGame(t, st.srv.Addr())
	intruder := uuid.New()
	p.send(pupa.Content(uuid.New(), []byte("hello")))

	deadline := time.Now().Add(2 * time.Second)
	_ = p.conn.SetReadDeadline(deadline)
	buf := make([]byte, 1)
	if _, err := p.conn.Read(buf); err == nil {
		t.Fatalf("expected connection close, read succeeded")
	}
	if _, ok := st.reg.Lookup(intruder); ok {
		t.Fatalf("registry mutated by unauthorized connection")
	}
	if got := st.reg.SnapshotSorted(); len(got) != 0 {
		t.Fatalf("registry has %d records, want 0", len(got))
	}
}

// S5: reconnecting with the same identity keeps the lifetime counters.
func TestServer_ReconnectPreservesCounters(t *testing.T) {
	st := startGameServer(t)
	idA := mustUUID("00000000-0000-0000-0000-000000000001")
	idB := mustUUID("00000000-0000-0000-0000-000000000002")

	pa := dialGame(t, st.srv.Addr())
	pa.send(pupa.Authorize(idA))
	pb := dialGame(t, st.srv.Addr())
	pb.send(pupa.Authorize(idB))
	waitOnline(t, st.reg, 2)

	msgID := uuid.New()
	pa.send(pupa.Content(msgID, []byte{1, 2, 3}))
	if _, err := pb.recv(2 * time.Second); err != nil {
		t.Fatalf("content not delivered: %v", err)
	}
	pb.send(pupa.Flash(msgID))
	if _, err := pa.recv(2 * time.Second); err != nil {
		t.Fatalf("win not delivered: %v", err)
	}

	_ = pb.conn.Close()
	waitOnline(t, st.reg, 1)

	pb2 := dialGame(t, st.srv.Addr())
	pb2.send(pupa.Authorize(idB))
	waitOnline(t, st.reg, 2)

	info, ok := st.reg.Lookup(idB)
	if !ok || !info.Online {
		t.Fatalf("peer not online after reconnect: %+v", info)
	}
	if info.Wins != 1 || info.MessagesReceived != 1 {
		t.Fatalf("counters lost across reconnect: %+v", info)
	}
}

// Property 8: concurrent flashes for one message credit exactly one winner
// and deliver exactly one Win frame.
func TestServer_FlashRaceSingleWinner(t *testing.T) {
	st := startGameServer(t)
	idA := mustUUID("00000000-0000-0000-0000-000000000001")
	idB := mustUUID("00000000-0000-0000-0000-000000000002")
	idC := mustUUID("00000000-0000-0000-0000-000000000003")

	pa := dialGame(t, st.srv.Addr())
	pa.send(pupa.Authorize(idA))
	pb := dialGame(t, st.srv.Addr())
	pb.send(pupa.Authorize(idB))
	pc := dialGame(t, st.srv.Addr())
	pc.send(pupa.Authorize(idC))
	waitOnline(t, st.reg, 3)

	msgID := uuid.New()
	pa.send(pupa.Content(msgID, []byte("race me")))
	for _, p := range []*testClient{pb, pc} {
		if _, err := p.recv(2 * time.Second); err != nil {
			t.Fatalf("content not delivered: %v", err)
		}
	}

	done := make(chan struct{}, 2)
	for _, p := range []*testClient{pb, pc} {
		go func(p *testClient) {
			p.send(pupa.Flash(msgID))
			done <- struct{}{}
		}(p)
	}
	<-done
	<-done

	win, err := pa.recv(2 * time.Second)
	if err != nil {
		t.Fatalf("no win delivered: %v", err)
	}
	if win.Tag != pupa.TagWin || win.MsgID != msgID {
		t.Fatalf("wrong win frame: %+v", win)
	}
	pa.expectSilence(300 * time.Millisecond)

	infoB, _ := st.reg.Lookup(idB)
	infoC, _ := st.reg.Lookup(idC)
	if infoB.Wins+infoC.Wins != 1 {
		t.Fatalf("expected exactly one credited win, got B=%d C=%d", infoB.Wins, infoC.Wins)
	}
	if st.log.Len() != 1 {
		t.Fatalf("winlog has %d records, want 1", st.log.Len())
	}
}

// Decode garbage mid-session: the buffer is dropped, the session stays open.
func TestServer_SessionSurvivesDesync(t *testing.T) {
	st := startGameServer(t)
	idA := mustUUID("00000000-0000-0000-0000-000000000001")
	idB := mustUUID("00000000-0000-0000-0000-000000000002")

	pa := dialGame(t, st.srv.Addr())
	pa.send(pupa.Authorize(idA))
	pb := dialGame(t, st.srv.Addr())
	pb.send(pupa.Authorize(idB))
	waitOnline(t, st.reg, 2)

	// Two writes of garbage trigger the second-failure buffer drop.
	if _, err := pa.conn.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xAA}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := pa.conn.Write([]byte{0xBB}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	// The session is still Active: a clean frame goes through.
	msgID := uuid.New()
	pa.send(pupa.Content(msgID, []byte("still alive")))
	fr, err := pb.recv(2 * time.Second)
	if err != nil {
		t.Fatalf("content after desync not delivered: %v", err)
	}
	if fr.MsgID != msgID {
		t.Fatalf("wrong frame after desync: %+v", fr)
	}
}
