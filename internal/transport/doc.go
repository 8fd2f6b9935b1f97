// Package transport abstracts the WebSocket library used by the bridge client.
//
// Two implementations are provided:
//   - gorilla (default): github.com/gorilla/websocket
//   - nhooyr: nhooyr.io/websocket
//
// Both send keepalive pings and close the socket when no ping/pong has been
// seen within the configured timeout, which surfaces as a read error.
package transport
