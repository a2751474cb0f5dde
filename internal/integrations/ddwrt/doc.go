// Package ddwrt tracks device presence through DD-WRT routers.
//
// DD-WRT firmware exposes live status pages whose bodies embed
// {key::value} pairs. The integration scrapes Status_Wireless.live.asp
// for associated MACs and Status_Lan.live.asp for DHCP hostnames, and
// turns each seen MAC into a device_tracker entity that is "home"
// while the device stays on the radio (with a grace period) and
// "not_home" after it drops off. A sensor per router counts connected
// clients.
package ddwrt
