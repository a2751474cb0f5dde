package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteEntityState records one entity state sample.
//
// State values that parse as numbers are written to the "value" field;
// the raw string always lands in "state" so on/off style states remain
// queryable. The write is non-blocking and batched.
func (c *Client) WriteEntityState(entityID, platform, state string, numericValue *float64, available bool, at time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"state":     state,
		"available": available,
	}
	if numericValue != nil {
		fields["value"] = *numericValue
	}

	point := write.NewPoint(
		"entity_state",
		map[string]string{
			"entity_id": entityID,
			"platform":  platform,
		},
		fields,
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point for measurements the helpers do not
// cover. Tags index; keep their cardinality low.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, at time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
