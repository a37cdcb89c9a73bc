package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementCharacteristic = "characteristic_state"
	MeasurementReachability   = "device_reachability"
)

// RecordCharacteristic writes one characteristic value pushed by the bridge.
//
// Booleans are stored as 0/1 in the numeric "value" field so On and
// Brightness share a field type; the raw bool is kept in "on" as well.
func (c *Client) RecordCharacteristic(accessoryID, endpointID, characteristic string, value any) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]any{}
	switch v := value.(type) {
	case bool:
		fields["on"] = v
		if v {
			fields["value"] = 1.0
		} else {
			fields["value"] = 0.0
		}
	case int:
		fields["value"] = float64(v)
	case float64:
		fields["value"] = v
	default:
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(MeasurementCharacteristic,
		map[string]string{
			"accessory_id":   accessoryID,
			"endpoint_id":    endpointID,
			"characteristic": characteristic,
		},
		fields,
		time.Now(),
	))
}

// RecordReachability writes the reachability flag reported for a device.
func (c *Client) RecordReachability(deviceID string, reachable bool) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(MeasurementReachability,
		map[string]string{"device_id": deviceID},
		map[string]any{"reachable": reachable},
		time.Now(),
	))
}
