package server

import (
	"context"
	"net/http"

	cws "github.com/coder/websocket"
)

// wsChannel adapts a WebSocket connection to the jrpc2 Channel interface.
// One text message carries one JSON-RPC message.
type wsChannel struct {
	conn *cws.Conn
	ctx  context.Context
}

func (c *wsChannel) Send(data []byte) error {
	return c.conn.Write(c.ctx, cws.MessageText, data)
}

func (c *wsChannel) Recv() ([]byte, error) {
	_, data, err := c.conn.Read(c.ctx)
	return data, err
}

func (c *wsChannel) Close() error {
	return c.conn.Close(cws.StatusNormalClosure, "")
}

// handleWS upgrades the request and serves JSON-RPC on it until the peer
// disconnects or the server shuts down.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := cws.Accept(w, r, nil)
	if err != nil {
		s.log.Warning("WebSocket upgrade failed: %v", err)
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()
	s.serve(&wsChannel{conn: conn, ctx: s.ctx})
}
