// Package reconnect keeps a bridge connection alive.
//
// A Manager owns exactly one bridge.Conn. It remembers the last address it
// was asked to connect to, reduces the connection's lifecycle notifications
// to a four-valued Status, and publishes every status change to observers.
// Whenever the connection reports close, the manager waits a fixed
// ReconnectTimeout and calls Connect again with the remembered address.
//
// Retry timers are independent: every close schedules its own, and none is
// ever cancelled. Rapid flapping can therefore produce overlapping attempts;
// Stats().PendingReconnects reports how many are outstanding.
//
// Usage:
//
//	mgr, err := reconnect.New(reconnect.Options{
//	    ReconnectTimeout:  5 * time.Second,
//	    ConnectionOptions: map[string]any{"encoding": "utf8"},
//	    Logger:            logger,
//	})
//	if err != nil {
//	    return err
//	}
//	mgr.OnStatus(func(s reconnect.Status) {
//	    logger.Info("bridge status", "status", s)
//	})
//	mgr.Connect("ws://robot.local:9090")
package reconnect
