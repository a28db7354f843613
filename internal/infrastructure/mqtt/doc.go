// Package mqtt connects badgelink to an MQTT broker.
//
// The client wraps paho.mqtt.golang and adds:
//   - a retained online/offline status on badgelink/system/status, with a
//     Last Will so crashes show up as "unexpected_disconnect"
//   - subscriptions that survive reconnects
//   - panic-safe handlers whose errors are logged
//
// Topic layout (see Topics):
//
//	badgelink/command/cloner/{command}    commands in
//	badgelink/ack/cloner/{command}        command results out
//	badgelink/state/cloner/last_scanned   retained last badge
//	badgelink/event/badge_added           new registry entries
//	badgelink/health/cloner               retained bridge health
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands("cloner"), 1, handle)
package mqtt
