package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is one client's message pipe. Room and session code only ever sees
// this interface, never the transport behind it. Sends on one connection are
// strictly serialized; Receive is called from the connection's own read loop
// only.
type Conn interface {
	Send(msg ServerMessage) error
	Receive() ([]byte, error)
	Close() error
	RemoteAddr() string
}

// wsConn carries the envelope over a websocket.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Send(msg ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Receive() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// tcpConn carries the same envelope as newline-delimited JSON over a plain
// socket, for clients predating the websocket transport.
type tcpConn struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

func newTCPConn(conn net.Conn) *tcpConn {
	return &tcpConn{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *tcpConn) Send(msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.conn.Write(data)
	return err
}

func (c *tcpConn) Receive() ([]byte, error) {
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
