// Package netutil answers the one networking question the server has:
// which address should LAN peers use to reach it.
package netutil

import (
	"net"
)

// LANIP returns the IPv4 address of the interface that carries outbound
// traffic. Dialing UDP never sends a packet; it only asks the kernel which
// source address it would pick. Falls back to interface enumeration, then
// loopback, so it always returns something usable.
func LANIP() string {
	conn, err := net.Dial("udp4", "192.168.255.255:1")
	if err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && !addr.IP.IsLoopback() {
			return addr.IP.String()
		}
	}

	if ip := firstPrivateIP(); ip != "" {
		return ip
	}
	return "127.0.0.1"
}

// firstPrivateIP scans up interfaces for a private IPv4 address. Used when
// the routing-table probe fails (no default route, airplane mode).
func firstPrivateIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip != nil && ip.IsPrivate() {
				return ip.String()
			}
		}
	}
	return ""
}
