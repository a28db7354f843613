// Package peripheral drives the badge cloner over Bluetooth Low Energy.
//
// The cloner exposes one GATT service with four characteristics, addressed
// by fixed 16-bit ids:
//
//	0x0001  write badge      code bytes written to program a blank badge
//	0x0002  read / notify    last scanned code; notifies on every scan
//	0x0003  scan command     any write starts a scan ("writetoRFID_")
//	0x0004  power-off        any write powers the cloner down ("turnoffnow_")
//
// # Session lifecycle
//
// Connect discovers the device, resolves the service and all four
// endpoints, and returns a *Session. Endpoints exist only while the session
// is connected; after Close every operation fails with ErrNotConnected.
// There is no automatic reconnection and no retry: each operation is
// attempted once and its error returned to the caller.
//
// # Notifications
//
// Connect requests notifications on the read endpoint once. Each payload is
// decoded as UTF-8 text and delivered to every handler registered with
// Subscribe. Payloads that are not text are logged and dropped. A failed
// notification subscription is logged and leaves the session usable through
// ReadBadge.
//
// # Errors
//
// Errors wrap one of ErrDiscovery, ErrConnection, ErrNotConnected or
// ErrTransfer. KindOf classifies any error; ErrorKind.Fatal reports whether
// the session is unusable.
//
// # Platform
//
// The BLE stack sits behind the Platform interface. BluetoothPlatform is
// the implementation on tinygo.org/x/bluetooth (BlueZ on Linux, CoreBluetooth
// on macOS, WinRT on Windows).
package peripheral
