package kernel

import (
	"context"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
)

// Socket is the websocket a Connection talks to the kernel over. *websocket.Conn satisfies it.
type Socket interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a Socket to the given websocket URL.
type Dialer func(ctx context.Context, url string) (Socket, error)

// NewWebsocketDialer returns a Dialer backed by nhooyr.io/websocket that accepts inbound
// frames of up to maxMessageSize bytes.
func NewWebsocketDialer(maxMessageSize int64) Dialer {
	return func(ctx context.Context, url string) (Socket, error) {
		conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{})
		if err != nil {
			return nil, err
		}

		conn.SetReadLimit(maxMessageSize)
		return conn, nil
	}
}

// ChannelsURL builds the kernel channels websocket URL:
// <ws base>/api/kernels/<id>/channels?session_id=<client id>[&token=<token>].
//
// When wsURL is empty it is derived from baseURL by swapping the http(s) scheme for ws(s).
func ChannelsURL(baseURL string, wsURL string, kernelID string, clientID string, token string) string {
	base := wsURL
	if base == "" {
		base = baseURL
		switch {
		case strings.HasPrefix(base, "https://"):
			base = "wss://" + strings.TrimPrefix(base, "https://")
		case strings.HasPrefix(base, "http://"):
			base = "ws://" + strings.TrimPrefix(base, "http://")
		}
	}

	base = strings.TrimSuffix(base, "/")

	query := url.Values{}
	query.Set("session_id", clientID)
	if token != "" {
		query.Set("token", token)
	}

	return base + "/" + KernelChannelsPath + "/" + url.PathEscape(kernelID) + "/channels?" + query.Encode()
}
