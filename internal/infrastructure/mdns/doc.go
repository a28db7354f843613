// Package mdns advertises the badgelink HTTP API on the local network
// with DNS-SD (service type _badgelink._tcp) and browses for other
// instances.
//
// TXT records carry the build version and the API base path:
//
//	version=1.2.0
//	path=/api/v1
package mdns
