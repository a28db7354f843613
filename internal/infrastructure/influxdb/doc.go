// Package influxdb records badge activity as time-series points.
//
// Two measurements are written:
//
//	badge_scans      tags: source (notify|read|manual), new (true|false)
//	                 field: code
//	cloner_commands  tags: command, status (accepted|failed)
//	                 field: count
//
// InfluxDB is optional. When influxdb.enabled is false Connect returns
// ErrDisabled and callers run without metrics; the write methods on a nil
// or closed *Client are no-ops.
package influxdb
