// Package mqtt provides the shared MQTT client for Ember Core.
//
// The client wraps eclipse/paho.mqtt.golang with a Last Will and
// Testament on the instance status topic, automatic re-subscription on
// reconnect, panic-recovered message handlers and topic builders for
// the ember/ namespace.
//
// Integrations that speak MQTT (mqttcover) receive this client through
// a narrow interface so they can be tested against fakes.
package mqtt
