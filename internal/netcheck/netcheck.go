// Package netcheck reports whether the host has a usable network connection.
package netcheck

import (
	"net"
)

type Status int

const (
	Down Status = iota
	Testing
	Up
)

func (s Status) String() string {
	switch s {
	case Up:
		return "up"
	case Testing:
		return "testing"
	default:
		return "down"
	}
}

// Interface is the subset of an OS interface the check looks at.
type Interface struct {
	Name  string
	Flags net.Flags
	Addrs []net.IP
}

// InterfaceSource lists the host interfaces.
type InterfaceSource func() ([]Interface, error)

// SystemInterfaces reads the interfaces of the running host.
func SystemInterfaces() ([]Interface, error) {
	ift, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	interfaces := make([]Interface, 0, len(ift))
	for _, ifi := range ift {
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		iface := Interface{Name: ifi.Name, Flags: ifi.Flags}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				iface.Addrs = append(iface.Addrs, ipnet.IP)
			}
		}
		interfaces = append(interfaces, iface)
	}
	return interfaces, nil
}

// Classify returns Up when a non-loopback interface is up and running with a
// routable address, Testing when such an interface is up but has no usable
// address yet, and Down otherwise.
func Classify(interfaces []Interface) Status {
	status := Down
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagRunning != 0 && hasRoutableAddr(iface.Addrs) {
			return Up
		}
		status = Testing
	}
	return status
}

func hasRoutableAddr(addrs []net.IP) bool {
	for _, ip := range addrs {
		if ip.IsGlobalUnicast() {
			return true
		}
	}
	return false
}

// Check classifies the interfaces returned by source. A failing source
// counts as Down.
func Check(source InterfaceSource) Status {
	if source == nil {
		source = SystemInterfaces
	}
	interfaces, err := source()
	if err != nil {
		return Down
	}
	return Classify(interfaces)
}

// Available reports whether the host network is Up.
func Available() bool {
	return Check(SystemInterfaces) == Up
}
