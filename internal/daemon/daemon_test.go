package daemon

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/cjdnsniff/internal/admin"
	"firestige.xyz/cjdnsniff/internal/cjdnshdr"
	"firestige.xyz/cjdnsniff/internal/command"
	"firestige.xyz/cjdnsniff/internal/config"
	"firestige.xyz/cjdnsniff/internal/ctrl"
	"firestige.xyz/cjdnsniff/internal/frame"
	"firestige.xyz/cjdnsniff/internal/sniff"
)

type mockAdmin struct {
	mock.Mock
}

func (m *mockAdmin) ListHandlers(ctx context.Context, page int) (*admin.HandlersReply, error) {
	args := m.Called(ctx, page)
	r, _ := args.Get(0).(*admin.HandlersReply)
	return r, args.Error(1)
}

func (m *mockAdmin) RegisterHandler(ctx context.Context, ct cjdnshdr.ContentType, udpPort int) (*admin.StatusReply, error) {
	args := m.Called(ctx, ct, udpPort)
	r, _ := args.Get(0).(*admin.StatusReply)
	return r, args.Error(1)
}

func (m *mockAdmin) UnregisterHandler(ctx context.Context, udpPort int) (*admin.StatusReply, error) {
	args := m.Called(ctx, udpPort)
	r, _ := args.Get(0).(*admin.StatusReply)
	return r, args.Error(1)
}

func (m *mockAdmin) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockAdmin) Close() error {
	return m.Called().Error(0)
}

var statusOK = &admin.StatusReply{Error: admin.StatusOK}

// lockedBuffer collects capture lines written from the Serve goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T) *config.GlobalConfig {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.Admin.InfoFile = filepath.Join(dir, "absent")
	cfg.Admin.Timeout = time.Second
	cfg.Session.Network = "udp4"
	cfg.Session.BindHost = "127.0.0.1"
	cfg.Control.Socket = filepath.Join(dir, "cjdnsniff.sock")
	cfg.Control.PIDFile = filepath.Join(dir, "cjdnsniff.pid")
	cfg.Log.Level = "debug"
	return cfg
}

// newTestDaemon returns a daemon whose admin endpoint is m and whose exit
// calls are recorded.
func newTestDaemon(t *testing.T, cfg *config.GlobalConfig, m *mockAdmin) (*Daemon, *lockedBuffer, chan int) {
	t.Helper()
	out := &lockedBuffer{}
	exits := make(chan int, 1)

	d := NewWithConfig(cfg)
	d.out = out
	d.exit = func(code int) { exits <- code }
	d.dialAdmin = func(admin.Config) (AdminConn, error) { return m, nil }
	d.sigChan = make(chan os.Signal, 2)
	return d, out, exits
}

func expectOpen(m *mockAdmin) {
	m.On("Ping", mock.Anything).Return(nil).Once()
	m.On("ListHandlers", mock.Anything, 0).Return(&admin.HandlersReply{Error: admin.StatusOK}, nil).Once()
	m.On("RegisterHandler", mock.Anything, cjdnshdr.ContentTypeCTRL, mock.AnythingOfType("int")).Return(statusOK, nil).Once()
	m.On("Close").Return(nil)
}

func runAsync(d *Daemon) <-chan error {
	done := make(chan error, 1)
	go func() { done <- d.Run() }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestDaemon_SignalDisconnectsAndExitsCleanly(t *testing.T) {
	cfg := testConfig(t)
	m := &mockAdmin{}
	expectOpen(m)
	d, out, exits := newTestDaemon(t, cfg, m)

	require.NoError(t, d.Start())
	port := d.Session().Port()
	m.On("UnregisterHandler", mock.Anything, port).Return(statusOK, nil).Once()

	_, err := os.Stat(cfg.Control.PIDFile)
	require.NoError(t, err, "PID file should exist while running")

	done := runAsync(d)

	ping, err := ctrl.Encode(&ctrl.Ping{Version: 20})
	require.NoError(t, err)
	rh := cjdnshdr.RouteHeader{SwitchHeader: cjdnshdr.SwitchHeader{Label: 0x13, Version: 1}}
	rh.SetCtrl(true)
	rh.SetIncoming(true)
	b, err := frame.Encode(&frame.Message{RouteHeader: rh, ContentBytes: ping, Content: frame.Raw{}})
	require.NoError(t, err)

	peer, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer peer.Close()
	_, err = peer.Write(b)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return out.String() == "> 0000.0000.0000.0013 PING v20\n"
	}, 2*time.Second, 10*time.Millisecond)

	d.sigChan <- syscall.SIGINT
	assert.NoError(t, waitRun(t, done))
	assert.Empty(t, exits)

	assert.Equal(t, sniff.StateClosed, d.Session().State())
	m.AssertNumberOfCalls(t, "UnregisterHandler", 1)
	m.AssertCalled(t, "Close")
	_, err = os.Stat(cfg.Control.PIDFile)
	assert.True(t, os.IsNotExist(err), "PID file should be removed")
}

func TestDaemon_SecondSignalForcesExit(t *testing.T) {
	cfg := testConfig(t)
	m := &mockAdmin{}
	expectOpen(m)
	d, _, exits := newTestDaemon(t, cfg, m)
	require.NoError(t, d.Start())

	release := make(chan struct{})
	entered := make(chan struct{})
	m.On("UnregisterHandler", mock.Anything, d.Session().Port()).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(statusOK, nil).Once()
	t.Cleanup(func() {
		close(release)
		d.Stop()
	})

	done := runAsync(d)
	d.sigChan <- syscall.SIGTERM

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("teardown did not start")
	}
	d.sigChan <- syscall.SIGINT

	assert.ErrorIs(t, waitRun(t, done), ErrForced)
	select {
	case code := <-exits:
		assert.Equal(t, ExitForced, code)
	default:
		t.Fatal("exit was not called")
	}
}

func TestDaemon_StopCommand(t *testing.T) {
	cfg := testConfig(t)
	m := &mockAdmin{}
	expectOpen(m)
	d, _, _ := newTestDaemon(t, cfg, m)
	require.NoError(t, d.Start())
	m.On("UnregisterHandler", mock.Anything, d.Session().Port()).Return(statusOK, nil).Once()

	done := runAsync(d)

	client := command.NewUDSClient(cfg.Control.Socket, time.Second)
	require.Eventually(t, func() bool {
		return client.Ping(context.Background()) == nil
	}, 2*time.Second, 20*time.Millisecond)

	st, err := client.SessionStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "active", st.State)
	assert.Equal(t, "CTRL", st.ContentType)
	assert.True(t, st.Registered)

	require.NoError(t, client.Stop(context.Background()))
	assert.NoError(t, waitRun(t, done))
	m.AssertNumberOfCalls(t, "UnregisterHandler", 1)
}

func TestDaemon_UnregisterFailureIsReported(t *testing.T) {
	cfg := testConfig(t)
	cfg.Control.Enabled = false
	m := &mockAdmin{}
	expectOpen(m)
	d, _, _ := newTestDaemon(t, cfg, m)
	require.NoError(t, d.Start())
	m.On("UnregisterHandler", mock.Anything, d.Session().Port()).Return(nil, errors.New("timeout")).Once()

	done := runAsync(d)
	d.sigChan <- syscall.SIGINT

	var ae *sniff.AdminError
	assert.ErrorAs(t, waitRun(t, done), &ae)
	assert.Equal(t, sniff.StateClosed, d.Session().State())
}

func TestDaemon_StartFailsWhenAdminSilent(t *testing.T) {
	cfg := testConfig(t)
	m := &mockAdmin{}
	m.On("Ping", mock.Anything).Return(admin.ErrCallTimeout).Once()
	m.On("Close").Return(nil).Once()
	d, _, _ := newTestDaemon(t, cfg, m)

	err := d.Start()
	assert.ErrorIs(t, err, admin.ErrCallTimeout)
	m.AssertCalled(t, "Close")
	m.AssertNotCalled(t, "ListHandlers", mock.Anything, mock.Anything)
	_, statErr := os.Stat(cfg.Control.PIDFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDaemon_StartFailsWhenNegotiationFails(t *testing.T) {
	cfg := testConfig(t)
	m := &mockAdmin{}
	m.On("Ping", mock.Anything).Return(nil).Once()
	m.On("ListHandlers", mock.Anything, 0).Return(&admin.HandlersReply{Error: "Auth failed."}, nil).Once()
	m.On("Close").Return(nil).Once()
	d, _, _ := newTestDaemon(t, cfg, m)

	var ae *sniff.AdminError
	require.ErrorAs(t, d.Start(), &ae)
	assert.Equal(t, "Auth failed.", ae.Status)
	assert.Nil(t, d.Session())
}
