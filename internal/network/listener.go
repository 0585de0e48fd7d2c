// Package network accepts client connections and binds each one to a session.
// The client protocol here is line based: the first line is the player name,
// lines starting with "/" are commands, "pos x y z yaw pitch" reports movement,
// and anything else is chat.
package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/command"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/config"
	ferrors "github.com/RandomStrangers/MCGalaxy-Extended/internal/foundation/errors"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/logfields"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/moderation"
	"github.com/RandomStrangers/MCGalaxy-Extended/internal/sessions"
)

const (
	// NotReadyMessage is sent to clients that connect before startup completes.
	NotReadyMessage  = "Server is still starting, please wait."
	handshakeTimeout = 10 * time.Second
)

// ReadyChecker reports whether startup has completed.
type ReadyChecker interface {
	IsSet() bool
}

// Listener owns the listening socket.
type Listener struct {
	cfg      config.ServerConfig
	ready    ReadyChecker
	table    *sessions.Table
	commands *command.Dispatcher
	lists    *moderation.Lists
	logger   *slog.Logger

	mu     sync.Mutex
	ln     net.Listener
	closed bool
	done   chan struct{}
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
}

// Options wires a Listener to the rest of the server. Commands and Lists are optional.
type Options struct {
	Config   config.ServerConfig
	Ready    ReadyChecker
	Sessions *sessions.Table
	Commands *command.Dispatcher
	Lists    *moderation.Lists
	Logger   *slog.Logger
}

// NewListener creates an unbound listener.
func NewListener(opts Options) *Listener {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		cfg:      opts.Config,
		ready:    opts.Ready,
		table:    opts.Sessions,
		commands: opts.Commands,
		lists:    opts.Lists,
		logger:   logger.With(slog.String("component", "network")),
		conns:    map[net.Conn]struct{}{},
		done:     make(chan struct{}),
	}
}

// ListenAddress returns the host:port to bind. An IP that does not parse is
// replaced by the unspecified address with a warning.
func ListenAddress(cfg config.ServerConfig, logger *slog.Logger) string {
	ip := strings.TrimSpace(cfg.ListenIP)
	if ip == "" || net.ParseIP(ip) == nil {
		if ip != "" && logger != nil {
			logger.Warn("Unable to parse listen IP config key, listening on any IP", slog.String("listen_ip", ip))
		}
		ip = "0.0.0.0"
	}
	return net.JoinHostPort(ip, strconv.Itoa(cfg.Port))
}

// Bind opens the listening socket. Failure is fatal to startup.
func (l *Listener) Bind() error {
	addr := ListenAddress(l.cfg, l.logger)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to bind listening socket").
			Fatal().WithContext("addr", addr).Build()
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	l.logger.Info("Listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Bind.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Serve accepts connections until Close or ctx is done.
func (l *Listener) Serve(ctx context.Context) error {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return ferrors.InternalError("serve called before bind").Build()
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = l.Close()
		case <-l.done:
		}
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Warn("Accept failed", logfields.Error(err))
			continue
		}
		if !l.track(conn) {
			_ = conn.Close()
			return nil
		}
		go func() {
			defer l.wg.Done()
			defer l.untrack(conn)
			l.handle(ctx, conn)
		}()
	}
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Listener) track(c net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.conns[c] = struct{}{}
	l.wg.Add(1)
	return true
}

func (l *Listener) untrack(c net.Conn) {
	l.mu.Lock()
	delete(l.conns, c)
	l.mu.Unlock()
	_ = c.Close()
}

// Close stops accepting, closes open connections and waits for their handlers.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.wg.Wait()
		return nil
	}
	l.closed = true
	close(l.done)
	var err error
	if l.ln != nil {
		err = l.ln.Close()
	}
	for c := range l.conns {
		_ = c.Close()
	}
	l.mu.Unlock()
	l.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (l *Listener) handle(ctx context.Context, raw net.Conn) {
	conn := newTextConn(raw)
	if l.ready != nil && !l.ready.IsSet() {
		_ = conn.SendMessage(NotReadyMessage)
		return
	}

	_ = raw.SetReadDeadline(time.Now().Add(handshakeTimeout))
	reader := bufio.NewScanner(raw)
	if !reader.Scan() {
		return
	}
	_ = raw.SetReadDeadline(time.Time{})
	name := strings.TrimSpace(reader.Text())
	if !validName(name) {
		_ = conn.SendMessage("Invalid player name.")
		return
	}
	if l.lists != nil && (l.lists.Contains(moderation.Banned, name) || l.lists.Contains(moderation.TempBans, name)) {
		_ = conn.SendMessage("You are banned from this server.")
		return
	}

	s, err := l.table.Join(ctx, name, conn)
	if err != nil {
		l.logger.Error("Session join failed", logfields.Session(name), logfields.Error(err))
		_ = conn.SendMessage("Login failed.")
		return
	}
	defer func() {
		if err := l.table.Leave(context.WithoutCancel(ctx), s); err != nil {
			l.logger.Error("Saving session on disconnect failed", logfields.Session(name), logfields.Error(err))
		}
	}()
	s.Send("Welcome to " + l.cfg.Name)

	caller := sessionCaller{s: s}
	for reader.Scan() {
		line := strings.TrimSpace(reader.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "/"):
			if l.commands != nil {
				_ = l.commands.Dispatch(ctx, caller, line)
			}
		case strings.HasPrefix(line, "pos "):
			if pos, ok := parsePosition(strings.TrimPrefix(line, "pos ")); ok {
				s.Move(pos, time.Now())
			}
		default:
			if l.lists != nil && (l.lists.Contains(moderation.Muted, name) || l.lists.Contains(moderation.TempMute, name)) {
				s.Send("You are muted.")
				continue
			}
			s.Chat(time.Now())
			l.table.Broadcast(fmt.Sprintf("%s: %s", name, line))
		}
	}
}

func validName(name string) bool {
	if name == "" || len(name) > 16 {
		return false
	}
	for _, r := range name {
		if !(r == '_' || r == '.' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return false
		}
	}
	return true
}

func parsePosition(s string) (sessions.Position, bool) {
	f := strings.Fields(s)
	if len(f) != 5 {
		return sessions.Position{}, false
	}
	var coords [3]int16
	for i := range coords {
		n, err := strconv.ParseInt(f[i], 10, 16)
		if err != nil {
			return sessions.Position{}, false
		}
		coords[i] = int16(n)
	}
	var angles [2]uint8
	for i := range angles {
		n, err := strconv.ParseUint(f[3+i], 10, 8)
		if err != nil {
			return sessions.Position{}, false
		}
		angles[i] = uint8(n)
	}
	return sessions.Position{
		X: coords[0], Y: coords[1], Z: coords[2],
		Yaw: angles[0], Pitch: angles[1],
	}, true
}

// sessionCaller is a player issuing commands. Players are never operators.
type sessionCaller struct{ s *sessions.Session }

func (c sessionCaller) Name() string { return c.s.Name() }

func (c sessionCaller) Message(format string, args ...any) {
	c.s.Send(fmt.Sprintf(format, args...))
}
