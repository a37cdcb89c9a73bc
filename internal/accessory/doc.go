// Package accessory is the endpoint host the HomematicIP bindings register with.
//
// It keeps one record per (accessory, service, sub ID) in SQLite so that
// endpoint IDs survive restarts, holds the get/set handlers each binding
// installs, and exposes the characteristics two ways:
//
//   - MQTT: pushed values are published retained on
//     <prefix>/state/<endpoint>/<characteristic>; writes arrive on
//     <prefix>/set/... and are acknowledged on <prefix>/ack/<endpoint>.
//     Requests are served one at a time in the order they arrive.
//   - HTTP: a chi router under /api/v1 with JWT bearer authentication.
//
// The host never changes a cached value itself. A set request reaches the
// binding's handler, which issues the control call; the new value appears
// once the device reports it.
package accessory
