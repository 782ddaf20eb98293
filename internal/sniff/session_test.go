package sniff

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/jackpal/bencode-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/cjdnsniff/internal/admin"
	"firestige.xyz/cjdnsniff/internal/cjdnshdr"
	"firestige.xyz/cjdnsniff/internal/ctrl"
	"firestige.xyz/cjdnsniff/internal/frame"
)

func loopbackOptions() []Option {
	return []Option{WithNetwork("udp4"), WithBindHost("127.0.0.1")}
}

// openRegistered opens a session that had to register its own handler.
func openRegistered(t *testing.T, m *mockAdmin) *Session {
	t.Helper()
	m.On("ListHandlers", mock.Anything, 0).Return(handlers(cjdnshdr.ContentTypeCJDHT), nil).Once()
	m.On("RegisterHandler", mock.Anything, cjdnshdr.ContentTypeCJDHT, mock.AnythingOfType("int")).Return(statusOK, nil).Once()

	s, err := Open(context.Background(), m, cjdnshdr.ContentTypeCJDHT, loopbackOptions()...)
	require.NoError(t, err)
	require.Equal(t, StateActive, s.State())
	return s
}

func dhtFrame(t *testing.T, value map[string]interface{}) []byte {
	t.Helper()
	var payload bytes.Buffer
	require.NoError(t, bencode.Marshal(&payload, value))
	m := &frame.Message{
		RouteHeader: cjdnshdr.RouteHeader{
			SwitchHeader: cjdnshdr.SwitchHeader{Label: 0x15, Version: 1},
			Version:      20,
			IP:           netip.MustParseAddr("fc12::1"),
		},
		DataHeader:   &cjdnshdr.DataHeader{Version: 1, ContentType: cjdnshdr.ContentTypeCJDHT},
		ContentBytes: payload.Bytes(),
		Content:      frame.Raw{},
	}
	b, err := frame.Encode(m)
	require.NoError(t, err)
	return b
}

func ctrlFrame(t *testing.T) []byte {
	t.Helper()
	ping, err := ctrl.Encode(&ctrl.Ping{Version: 20})
	require.NoError(t, err)
	rh := cjdnshdr.RouteHeader{SwitchHeader: cjdnshdr.SwitchHeader{Label: 0x13, Version: 1}}
	rh.SetCtrl(true)
	b, err := frame.Encode(&frame.Message{RouteHeader: rh, ContentBytes: ping, Content: frame.Raw{}})
	require.NoError(t, err)
	return b
}

func TestOpenFailureLeavesNoSession(t *testing.T) {
	m := &mockAdmin{}
	m.On("ListHandlers", mock.Anything, 0).Return(nil, errors.New("no route")).Once()

	s, err := Open(context.Background(), m, cjdnshdr.ContentTypeCJDHT, loopbackOptions()...)
	assert.Nil(t, s)
	var ae *AdminError
	assert.ErrorAs(t, err, &ae)
}

func TestDisconnectUnregistersOwnedHandler(t *testing.T) {
	m := &mockAdmin{}
	s := openRegistered(t, m)
	assert.True(t, s.Registered())
	assert.Equal(t, cjdnshdr.ContentTypeCJDHT, s.ContentType())

	m.On("UnregisterHandler", mock.Anything, s.Port()).Return(statusOK, nil).Once()

	require.NoError(t, s.Disconnect(context.Background()))
	assert.Equal(t, StateClosed, s.State())
	m.AssertNumberOfCalls(t, "UnregisterHandler", 1)

	// Closed is terminal.
	assert.ErrorIs(t, s.Disconnect(context.Background()), ErrNotActive)
	m.AssertNumberOfCalls(t, "UnregisterHandler", 1)
}

func TestDisconnectLeavesReusedHandler(t *testing.T) {
	port := freePort(t)
	m := &mockAdmin{}
	m.On("ListHandlers", mock.Anything, 0).Return(handlers(cjdnshdr.ContentTypeCJDHT, port), nil).Once()

	s, err := Open(context.Background(), m, cjdnshdr.ContentTypeCJDHT, loopbackOptions()...)
	require.NoError(t, err)
	assert.False(t, s.Registered())
	assert.Equal(t, port, s.Port())

	require.NoError(t, s.Disconnect(context.Background()))
	m.AssertNotCalled(t, "UnregisterHandler", mock.Anything, mock.Anything)
}

func TestDisconnectUnregisterFailureStillCloses(t *testing.T) {
	m := &mockAdmin{}
	s := openRegistered(t, m)
	port := s.Port()
	m.On("UnregisterHandler", mock.Anything, port).Return(nil, errors.New("timeout")).Once()

	err := s.Disconnect(context.Background())
	var ae *AdminError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "unregisterHandler", ae.Op)
	assert.Equal(t, StateClosed, s.State())

	// The port is free again.
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	c.Close()
}

func TestDisconnectUnregisterStatus(t *testing.T) {
	m := &mockAdmin{}
	s := openRegistered(t, m)
	m.On("UnregisterHandler", mock.Anything, s.Port()).Return(&admin.StatusReply{Error: "no such port"}, nil).Once()

	err := s.Disconnect(context.Background())
	var ae *AdminError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "no such port", ae.Status)
}

func TestServeDeliversEventsInOrder(t *testing.T) {
	m := &mockAdmin{}
	s := openRegistered(t, m)
	m.On("UnregisterHandler", mock.Anything, s.Port()).Return(statusOK, nil).Once()

	type event struct {
		msg *frame.Message
		err error
	}
	events := make(chan event, 8)
	s.OnMessage(func(msg *frame.Message) { events <- event{msg: msg} })
	s.OnError(func(err error) { events <- event{err: err} })

	served := make(chan error, 1)
	go func() { served <- s.Serve(context.Background()) }()

	peer, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: s.Port()})
	require.NoError(t, err)
	defer peer.Close()

	datagrams := [][]byte{
		dhtFrame(t, map[string]interface{}{"q": "pn", "txid": "ab"}),
		{0x01, 0x02, 0x03},
		ctrlFrame(t),
		append(dhtFrame(t, map[string]interface{}{"q": "gp"})[:cjdnshdr.RouteHeaderSize+cjdnshdr.DataHeaderSize], 'd'),
	}
	for _, d := range datagrams {
		_, err := peer.Write(d)
		require.NoError(t, err)
	}

	next := func() event {
		select {
		case e := <-events:
			return e
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
			return event{}
		}
	}

	e := next()
	require.NoError(t, e.err)
	v, ok := e.msg.ContentBenc()
	require.True(t, ok)
	assert.Equal(t, "pn", v.(map[string]interface{})["q"])

	e = next()
	require.Nil(t, e.msg)
	var fe *frame.Error
	require.ErrorAs(t, e.err, &fe)
	assert.Equal(t, "route header", fe.Stage)

	e = next()
	require.NoError(t, e.err)
	c, ok := e.msg.Control()
	require.True(t, ok)
	assert.Equal(t, "PING", c.Type())

	e = next()
	require.ErrorAs(t, e.err, &fe)
	assert.Equal(t, "bencode", fe.Stage)

	stats := s.Stats()
	assert.Equal(t, uint64(4), stats.Received)
	assert.Equal(t, uint64(2), stats.Messages)
	assert.Equal(t, uint64(2), stats.Errors)

	require.NoError(t, s.Disconnect(context.Background()))
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Disconnect")
	}
}

// serveOne serves s until one event arrives from peer and returns it.
func serveOne(t *testing.T, s *Session, peer *net.UDPConn, datagram []byte) (*frame.Message, error) {
	t.Helper()
	msgs := make(chan *frame.Message, 1)
	errs := make(chan error, 1)
	s.OnMessage(func(msg *frame.Message) { msgs <- msg })
	s.OnError(func(err error) { errs <- err })

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx) }()
	defer func() {
		cancel()
		<-served
	}()

	_, err := peer.Write(datagram)
	require.NoError(t, err)
	select {
	case m := <-msgs:
		return m, nil
	case err := <-errs:
		return nil, err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil, nil
	}
}

func TestServeRecordsPacketInfo(t *testing.T) {
	m := &mockAdmin{}
	s := openRegistered(t, m)
	m.On("UnregisterHandler", mock.Anything, s.Port()).Return(statusOK, nil).Once()
	defer s.Disconnect(context.Background())

	_, ok := s.LastReceipt()
	assert.False(t, ok)
	assert.Empty(t, s.Stats().LastSource)

	peer, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: s.Port()})
	require.NoError(t, err)
	defer peer.Close()

	msg, err := serveOne(t, s, peer, dhtFrame(t, map[string]interface{}{"q": "pn"}))
	require.NoError(t, err)
	require.NotNil(t, msg)

	r, ok := s.LastReceipt()
	require.True(t, ok)
	assert.Equal(t, peer.LocalAddr().String(), r.Source.String())
	assert.Equal(t, "127.0.0.1", r.Destination.String())
	assert.NotZero(t, r.IfIndex)

	stats := s.Stats()
	assert.Equal(t, peer.LocalAddr().String(), stats.LastSource)
	assert.Equal(t, "127.0.0.1", stats.LastDestination)
	assert.NotEmpty(t, stats.LastInterface)
}

func TestServeRecordsPacketInfoIPv6(t *testing.T) {
	c, err := net.ListenUDP("udp6", &net.UDPAddr{IP: net.IPv6loopback})
	if err != nil {
		t.Skipf("no IPv6 loopback: %v", err)
	}
	c.Close()

	m := &mockAdmin{}
	m.On("ListHandlers", mock.Anything, 0).Return(handlers(cjdnshdr.ContentTypeCJDHT), nil).Once()
	m.On("RegisterHandler", mock.Anything, cjdnshdr.ContentTypeCJDHT, mock.AnythingOfType("int")).Return(statusOK, nil).Once()
	s, err := Open(context.Background(), m, cjdnshdr.ContentTypeCJDHT, WithNetwork("udp6"), WithBindHost("::1"))
	require.NoError(t, err)
	m.On("UnregisterHandler", mock.Anything, s.Port()).Return(statusOK, nil).Once()
	defer s.Disconnect(context.Background())

	peer, err := net.DialUDP("udp6", nil, &net.UDPAddr{IP: net.IPv6loopback, Port: s.Port()})
	require.NoError(t, err)
	defer peer.Close()

	_, err = serveOne(t, s, peer, dhtFrame(t, map[string]interface{}{"q": "pn"}))
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, "::1", stats.LastDestination)
	assert.NotEmpty(t, stats.LastInterface)
}

func TestServeSurvivesOversizedStringLength(t *testing.T) {
	m := &mockAdmin{}
	s := openRegistered(t, m)
	m.On("UnregisterHandler", mock.Anything, s.Port()).Return(statusOK, nil).Once()
	defer s.Disconnect(context.Background())

	peer, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: s.Port()})
	require.NoError(t, err)
	defer peer.Close()

	headers := dhtFrame(t, map[string]interface{}{"q": "gp"})[:cjdnshdr.RouteHeaderSize+cjdnshdr.DataHeaderSize]
	bad := append(append([]byte{}, headers...), "d1:q99999999999999:x"...)
	_, err = serveOne(t, s, peer, bad)
	var fe *frame.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "bencode", fe.Stage)

	msg, err := serveOne(t, s, peer, dhtFrame(t, map[string]interface{}{"q": "pn"}))
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, uint64(1), s.Stats().Errors)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	m := &mockAdmin{}
	s := openRegistered(t, m)
	m.On("UnregisterHandler", mock.Anything, s.Port()).Return(statusOK, nil).Once()
	defer s.Disconnect(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx) }()
	cancel()

	select {
	case err := <-served:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Equal(t, StateActive, s.State())
}

func TestSendWritesEncodedFrame(t *testing.T) {
	m := &mockAdmin{}
	s := openRegistered(t, m)
	m.On("UnregisterHandler", mock.Anything, s.Port()).Return(statusOK, nil).Once()

	peer, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peer.Close()

	raw := dhtFrame(t, map[string]interface{}{"q": "fn"})
	msg, err := frame.Decode(raw)
	require.NoError(t, err)

	require.NoError(t, s.Send(msg, peer.LocalAddr().(*net.UDPAddr)))

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 2048)
	n, from, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, raw, buf[:n])
	assert.Equal(t, s.Port(), from.Port)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Sent)
	assert.Equal(t, uint64(len(raw)), stats.BytesSent)

	require.NoError(t, s.Disconnect(context.Background()))
	assert.ErrorIs(t, s.Send(msg, nil), ErrNotActive)
}

func TestServeRequiresActive(t *testing.T) {
	m := &mockAdmin{}
	s := openRegistered(t, m)
	m.On("UnregisterHandler", mock.Anything, s.Port()).Return(statusOK, nil).Once()
	require.NoError(t, s.Disconnect(context.Background()))

	assert.ErrorIs(t, s.Serve(context.Background()), ErrNotActive)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "disconnecting", StateDisconnecting.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "State(9)", State(9).String())
}
