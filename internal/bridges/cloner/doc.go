// Package cloner bridges the badge cloner to the rest of badgelink.
//
// The Bridge owns the current peripheral.Session and the badge.Registry and
// is the single place where the two meet: every code that arrives from a
// scan notification, a manual read or a manual add goes through
// Bridge.record, which adds it to the registry, writes a metric, publishes
// MQTT state and notifies listeners (the WebSocket hub).
//
// # MQTT
//
// When an MQTT client is supplied the bridge subscribes to
// badgelink/command/cloner/+ and answers each command on
// badgelink/ack/cloner/{command}:
//
//	connect     {}                  discover and connect
//	disconnect  {}                  close the session
//	write       {"code": "A1B2"}    program a blank badge
//	read        {}                  read the last scanned badge
//	scan        {}                  start a scan
//	power_off   {}                  power the cloner down
//	clear       {}                  clear the code registry
//
// Payloads may carry an "id" that is echoed in the ack. Health is published
// retained on badgelink/health/cloner every 30 seconds and on every
// connection change.
//
// # Errors
//
// Nothing is retried. Each operation returns its error to the caller (HTTP
// handler or MQTT ack) after logging it and recording a failed
// cloner_commands metric.
package cloner
