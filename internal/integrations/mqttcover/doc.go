// Package mqttcover drives time-based covers over MQTT.
//
// The target device is a dumb motor controller that understands open,
// close and stop commands on a topic and, at best, reports confirmed
// positions on another. Position is estimated from configured travel
// times while the motor runs, and intermediate positions are reached
// by sending the directional command and stopping the motor when the
// estimate arrives at the target. Confirmed reports on the state topic
// correct the estimate.
//
// Commands are exposed as cover.open_cover, cover.close_cover,
// cover.stop_cover and cover.set_cover_position services. Positions
// run from 0 (fully open) to 100 (fully closed).
package mqttcover
