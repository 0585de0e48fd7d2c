package network

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/sessions"
)

const writeTimeout = 5 * time.Second

// textConn implements sessions.Conn over the line protocol.
type textConn struct {
	conn net.Conn
	mu   sync.Mutex
}

func newTextConn(c net.Conn) *textConn { return &textConn{conn: c} }

func (c *textConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *textConn) writeLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

func (c *textConn) SendMessage(msg string) error { return c.writeLine(msg) }

func (c *textConn) SendPosition(id string, p sessions.Position) error {
	return c.writeLine(fmt.Sprintf("pos %s %d %d %d %d %d", id, p.X, p.Y, p.Z, p.Yaw, p.Pitch))
}

func (c *textConn) Close() error { return c.conn.Close() }
