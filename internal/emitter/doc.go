// Package emitter provides a small typed publish/subscribe primitive.
//
// Handlers are called synchronously, in registration order, on the goroutine
// that calls Emit. Components compose an Emitter per event instead of
// inheriting from a shared base type.
package emitter
