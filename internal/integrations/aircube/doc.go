// Package aircube monitors Ubiquiti airCube access points.
//
// The airCube runs OpenWrt and exposes its ubus message bus as a
// JSON-RPC endpoint at /ubus. The client authenticates through the
// session object using the all-zero null session, then issues
// iwinfo assoclist calls with the returned token, re-authenticating
// once when the session expires. Each associated station becomes a
// signal strength sensor in dBm, and a per-device sensor counts
// connected clients.
package aircube
