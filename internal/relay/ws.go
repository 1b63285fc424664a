package relay

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lmoretti/voxbridge/internal/session"
)

// wsPeer wraps a gorilla connection with single-writer discipline and an
// idempotent close, for both server-side sockets and the model dial.
type wsPeer struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{conn: conn}
}

// NewPeer adapts an upgraded websocket connection into a session peer.
func NewPeer(conn *websocket.Conn) session.Peer {
	return newWSPeer(conn)
}

func (p *wsPeer) Send(v any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteJSON(v)
}

func (p *wsPeer) ReadMessage() ([]byte, error) {
	_, data, err := p.conn.ReadMessage()
	return data, err
}

func (p *wsPeer) Close() error {
	var retErr error
	p.closeOnce.Do(func() {
		retErr = p.conn.Close()
	})
	return retErr
}
