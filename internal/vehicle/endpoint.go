package vehicle

import (
	"strconv"
	"strings"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/pkg/errors"
)

const defaultBaud = 57600

// ParseEndpoint turns a connection URL into a gomavlib endpoint.
//
//	udp://:14540              listen for the autopilot (same as udp-server)
//	udp-server://0.0.0.0:14540
//	udp-client://10.0.0.2:14550
//	tcp-client://127.0.0.1:5760
//	serial:///dev/ttyACM0:57600
func ParseEndpoint(url string) (gomavlib.EndpointConf, error) {
	scheme, addr, ok := strings.Cut(url, "://")
	if !ok || addr == "" {
		return nil, errors.Errorf("invalid endpoint %q", url)
	}
	switch scheme {
	case "udp", "udp-server", "udpin":
		return gomavlib.EndpointUDPServer{Address: addr}, nil
	case "udp-client", "udpout":
		return gomavlib.EndpointUDPClient{Address: addr}, nil
	case "tcp-client", "tcp", "tcpout":
		return gomavlib.EndpointTCPClient{Address: addr}, nil
	case "tcp-server", "tcpin":
		return gomavlib.EndpointTCPServer{Address: addr}, nil
	case "serial":
		device, baud := addr, defaultBaud
		if i := strings.LastIndex(addr, ":"); i > 0 {
			b, err := strconv.Atoi(addr[i+1:])
			if err != nil {
				return nil, errors.WithMessagef(err, "invalid baud rate in %q", url)
			}
			device, baud = addr[:i], b
		}
		return gomavlib.EndpointSerial{Device: device, Baud: baud}, nil
	}
	return nil, errors.Errorf("unsupported endpoint scheme %q", scheme)
}
