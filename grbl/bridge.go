package grbl

import (
	"bytes"

	"github.com/gorilla/websocket"
)

// Bridge adapts a websocket serial bridge (FluidNC's WebUI socket,
// or any serial-over-WS relay) to the io.ReadWriter the Link wants.
// Whether the wire is direct UART, RS485, or a network bridge is
// invisible above this point.
type Bridge struct {
	ws  *websocket.Conn
	buf bytes.Buffer
}

func DialBridge(url string) (*Bridge, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &Bridge{ws: ws}, nil
}

func (b *Bridge) Read(p []byte) (int, error) {
	for b.buf.Len() == 0 {
		_, data, err := b.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		b.buf.Write(data)
	}
	return b.buf.Read(p)
}

func (b *Bridge) Write(p []byte) (int, error) {
	err := b.ws.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (b *Bridge) Close() error {
	return b.ws.Close()
}
