// Package bridge implements the connection to a rosbridge-style WebSocket
// server.
//
// A Client owns at most one socket at a time and reports its lifecycle through
// three notifications:
//   - connection: the socket is open
//   - error: dialing or reading failed (abnormal closures only)
//   - close: the socket is gone; always follows error
//
// Connect never blocks on the network; outcomes arrive only through those
// notifications. The bridge wire protocol itself is left to callers, who send
// and receive raw text frames.
package bridge
