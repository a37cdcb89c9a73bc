// Package influxdb records characteristic history for the HomematicIP bridge.
//
// Every value the bridge pushes to an endpoint is also written as a point in
// the characteristic_state measurement, tagged by accessory, endpoint and
// characteristic. Recording is optional: Connect returns ErrDisabled when
// influxdb.enabled is false and callers simply skip it.
package influxdb
