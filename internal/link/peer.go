package link

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deskpair/deskpair/internal/constants"
)

// peerConn is one accepted connection from the paired device. Outbound frames
// go through the buffered send queue so any goroutine can enqueue without
// touching the websocket, which permits only one writer.
type peerConn struct {
	conn *websocket.Conn
	name string // device name from the hello frame

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newPeerConn(conn *websocket.Conn, name string) *peerConn {
	return &peerConn{
		conn: conn,
		name: name,
		send: make(chan []byte, constants.SendQueueSize),
		done: make(chan struct{}),
	}
}

// enqueue queues a frame for the write pump. Returns false when the peer is
// gone or its queue is full; control traffic is droppable by design.
func (p *peerConn) enqueue(frame []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

// shutdown tears the connection down. Safe to call from any goroutine, any
// number of times.
func (p *peerConn) shutdown() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		p.conn.Close()
	})
}

// writePump is the only goroutine writing to the connection. It drains the
// send queue and keeps the peer alive with periodic pings.
func (p *peerConn) writePump() {
	ticker := time.NewTicker(constants.PingInterval)
	defer func() {
		ticker.Stop()
		p.shutdown()
	}()

	for {
		select {
		case <-p.done:
			return
		case frame := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
