package symbol

import (
	"fmt"
	"strings"
)

// Endpoint is the socket 5-tuple embedded in message symbol names as
// connectIP.connectPort.protocol.bindIP.bindPort.
type Endpoint struct {
	ConnectIP   string
	ConnectPort string
	Protocol    string
	BindIP      string
	BindPort    string
}

// IsWildcard reports whether a field matches anything.
func IsWildcard(field string) bool {
	return field == "*" || field == "any"
}

// ParseEndpoint parses the endpoint text of a message symbol. IP fields are
// either a dotted IPv4 address or a single wildcard token.
func ParseEndpoint(s string) (Endpoint, error) {
	toks := strings.Split(s, ".")
	var e Endpoint
	i := 0
	ip := func() (string, bool) {
		if i < len(toks) && IsWildcard(toks[i]) {
			i++
			return toks[i-1], true
		}
		if i+4 > len(toks) {
			return "", false
		}
		i += 4
		return strings.Join(toks[i-4:i], "."), true
	}
	field := func() (string, bool) {
		if i >= len(toks) || toks[i] == "" {
			return "", false
		}
		i++
		return toks[i-1], true
	}
	var ok bool
	if e.ConnectIP, ok = ip(); !ok {
		return Endpoint{}, fmt.Errorf("endpoint %q: bad connect address", s)
	}
	if e.ConnectPort, ok = field(); !ok {
		return Endpoint{}, fmt.Errorf("endpoint %q: missing connect port", s)
	}
	if e.Protocol, ok = field(); !ok {
		return Endpoint{}, fmt.Errorf("endpoint %q: missing protocol", s)
	}
	if e.BindIP, ok = ip(); !ok {
		return Endpoint{}, fmt.Errorf("endpoint %q: bad bind address", s)
	}
	if e.BindPort, ok = field(); !ok {
		return Endpoint{}, fmt.Errorf("endpoint %q: missing bind port", s)
	}
	if i != len(toks) {
		return Endpoint{}, fmt.Errorf("endpoint %q: trailing fields", s)
	}
	return e, nil
}

// String renders the endpoint in name form.
func (e Endpoint) String() string {
	return strings.Join([]string{e.ConnectIP, e.ConnectPort, e.Protocol, e.BindIP, e.BindPort}, ".")
}

// Unbound reports whether the bind side was left for the OS to choose.
func (e Endpoint) Unbound() bool {
	return e.BindIP == "0.0.0.0" || e.BindPort == "0"
}

// WithBind returns e with the bind address replaced by an "ip.port" address.
func (e Endpoint) WithBind(addr string) (Endpoint, error) {
	i := strings.LastIndexByte(addr, '.')
	if i <= 0 || i == len(addr)-1 {
		return e, fmt.Errorf("bad address %q", addr)
	}
	e.BindIP, e.BindPort = addr[:i], addr[i+1:]
	return e, nil
}

func fieldMatches(recv, send string, wildcard bool) bool {
	return recv == send || (wildcard && IsWildcard(recv))
}

// MatchesOutput reports whether a receiver endpoint consumes the traffic a
// sender endpoint produced: what the receiver connects to is the sender's
// bind side and vice versa. Wildcards are honoured on the receiver's connect
// fields only.
func (e Endpoint) MatchesOutput(send Endpoint) bool {
	return e.Protocol == send.Protocol &&
		fieldMatches(e.ConnectIP, send.BindIP, true) &&
		fieldMatches(e.ConnectPort, send.BindPort, true) &&
		fieldMatches(e.BindIP, send.ConnectIP, false) &&
		fieldMatches(e.BindPort, send.ConnectPort, false)
}

// MatchesInput reports whether a receiver endpoint saw the same traffic as a
// sender's own input endpoint.
func (e Endpoint) MatchesInput(send Endpoint) bool {
	return e.Protocol == send.Protocol &&
		fieldMatches(e.ConnectIP, send.ConnectIP, true) &&
		fieldMatches(e.ConnectPort, send.ConnectPort, true) &&
		fieldMatches(e.BindIP, send.BindIP, false) &&
		fieldMatches(e.BindPort, send.BindPort, false)
}
