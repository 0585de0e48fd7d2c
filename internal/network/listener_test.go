package network

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/bootstrap"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/command"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/config"
	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/moderation"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/sessions"
)

func TestListenAddressFallsBackOnInvalidIP(t *testing.T) {
	assert.Equal(t, "0.0.0.0:25565", ListenAddress(config.ServerConfig{ListenIP: "not-an-ip", Port: 25565}, slog.Default()))
	assert.Equal(t, "127.0.0.1:1", ListenAddress(config.ServerConfig{ListenIP: "127.0.0.1", Port: 1}, nil))
	assert.Equal(t, "[::1]:2", ListenAddress(config.ServerConfig{ListenIP: "::1", Port: 2}, nil))
}

func TestBindFailureIsFatal(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()
	port := taken.Addr().(*net.TCPAddr).Port

	l := NewListener(Options{Config: config.ServerConfig{ListenIP: "127.0.0.1", Port: port}})
	err = l.Bind()
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNetwork))
	assert.Equal(t, ferrors.SeverityFatal, ferrors.GetSeverity(err))
}

type harness struct {
	listener *Listener
	ready    *bootstrap.Ready
	table    *sessions.Table
	lists    *moderation.Lists
	stops    *atomic.Int32
	cancel   context.CancelFunc
	errc     chan error
}

func startListener(t *testing.T) *harness {
	t.Helper()
	ready := bootstrap.NewReady()
	table := sessions.NewTable(nil, time.Minute, nil, nil)
	lists := moderation.New(t.TempDir(), nil)
	require.NoError(t, lists.Load(context.Background()))

	cmds := command.NewRegistry()
	require.NoError(t, cmds.Register(&command.Func{CmdName: "ping", Run: func(_ context.Context, c command.Caller, _ string) error {
		c.Message("pong")
		return nil
	}}))
	stops := &atomic.Int32{}
	require.NoError(t, cmds.Register(&command.Func{CmdName: "stop", Operator: true, Run: func(context.Context, command.Caller, string) error {
		stops.Add(1)
		return nil
	}}))

	l := NewListener(Options{
		Config:   config.ServerConfig{Name: "Test", ListenIP: "127.0.0.1", Port: 0},
		Ready:    ready,
		Sessions: table,
		Commands: command.NewDispatcher(cmds, ready, nil),
		Lists:    lists,
	})
	require.NoError(t, l.Bind())

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{listener: l, ready: ready, table: table, lists: lists, stops: stops, cancel: cancel, errc: make(chan error, 1)}
	go func() { h.errc <- l.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-h.errc:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("serve did not return")
		}
	})
	return h
}

func dial(t *testing.T, h *harness) (net.Conn, *bufio.Reader) {
	t.Helper()
	c, err := net.Dial("tcp", h.listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	return c, bufio.NewReader(c)
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSpace(line)
}

func TestRejectsConnectionsBeforeReady(t *testing.T) {
	h := startListener(t)
	_, r := dial(t, h)
	assert.Equal(t, NotReadyMessage, readLine(t, r))
	_, err := r.ReadString('\n')
	assert.Error(t, err)
}

func TestSessionLifecycle(t *testing.T) {
	h := startListener(t)
	h.ready.Set()

	c, r := dial(t, h)
	_, err := c.Write([]byte("alice\n"))
	require.NoError(t, err)
	assert.Equal(t, "Welcome to Test", readLine(t, r))
	require.Eventually(t, func() bool { return h.table.Count() == 1 }, time.Second, 5*time.Millisecond)

	_, err = c.Write([]byte("/ping\nhello\n"))
	require.NoError(t, err)
	assert.Equal(t, "pong", readLine(t, r))
	assert.Equal(t, "alice: hello", readLine(t, r))

	_, err = c.Write([]byte("pos 1 2 3 4 5\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, ok := h.table.Get("alice")
		return ok && s.Position() == sessions.Position{X: 1, Y: 2, Z: 3, Yaw: 4, Pitch: 5}
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return h.table.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBannedPlayerIsRefused(t *testing.T) {
	h := startListener(t)
	h.ready.Set()
	require.NoError(t, h.lists.Add(moderation.Banned, "mallory", time.Time{}))

	c, r := dial(t, h)
	_, err := c.Write([]byte("mallory\n"))
	require.NoError(t, err)
	assert.Equal(t, "You are banned from this server.", readLine(t, r))
	assert.Zero(t, h.table.Count())
}

func TestPlayerCannotUseOperatorCommands(t *testing.T) {
	h := startListener(t)
	h.ready.Set()

	c, r := dial(t, h)
	_, err := c.Write([]byte("visitor\n"))
	require.NoError(t, err)
	assert.Equal(t, "Welcome to Test", readLine(t, r))

	_, err = c.Write([]byte("/stop\n/ping\n"))
	require.NoError(t, err)
	assert.Equal(t, "Only the server operator can use /stop.", readLine(t, r))
	assert.Equal(t, "pong", readLine(t, r))
	assert.Zero(t, h.stops.Load())
	assert.Equal(t, 1, h.table.Count())
}

func TestParsePositionRejectsOutOfRange(t *testing.T) {
	pos, ok := parsePosition("-32768 32767 0 255 0")
	require.True(t, ok)
	assert.Equal(t, sessions.Position{X: -32768, Y: 32767, Z: 0, Yaw: 255, Pitch: 0}, pos)

	for _, in := range []string{
		"32768 0 0 0 0",
		"0 -32769 0 0 0",
		"0 0 70000 0 0",
		"0 0 0 256 0",
		"0 0 0 0 -1",
		"1 2 3 4",
		"1 2 3 4 5 6",
		"a 2 3 4 5",
	} {
		_, ok := parsePosition(in)
		assert.False(t, ok, in)
	}
}

func TestValidName(t *testing.T) {
	assert.True(t, validName("Player_1.2"))
	assert.False(t, validName(""))
	assert.False(t, validName("has space"))
	assert.False(t, validName("waytoolongname_123"))
}
