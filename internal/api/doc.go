// Package api serves the badgelink HTTP API and WebSocket stream.
//
// All routes live under /api/v1:
//
//	GET    /health              service and cloner status
//	POST   /device/connect      discover and connect to the cloner
//	POST   /device/disconnect   close the cloner session
//	POST   /device/badge        write {"code"} to a blank badge
//	GET    /device/badge        read the last scanned badge
//	POST   /device/scan         start a scan
//	POST   /device/power-off    power the cloner down
//	GET    /codes               list stored codes
//	POST   /codes               add {"code"} by hand
//	DELETE /codes               clear stored codes
//	GET    /commands            command history (?command=&status=&limit=&offset=)
//	GET    /ws                  WebSocket event stream
//
// WebSocket clients subscribe to channels ("badge.scanned",
// "device.status") with {"type":"subscribe","payload":{"channels":[...]}}
// or up front with /ws?channels=badge.scanned,device.status.
//
// Errors are returned as {"status", "code", "message"}.
package api
