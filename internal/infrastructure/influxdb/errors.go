package influxdb

import "errors"

// Errors returned by the InfluxDB client. Write failures are asynchronous
// and reported through SetOnError instead.
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
