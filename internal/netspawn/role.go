package netspawn

import (
	"fmt"
	"strings"
)

// Role is this participant's place in the session.
type Role int

const (
	RoleServer Role = iota
	RoleHost        // server plus a local player
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleHost:
		return "host"
	case RoleClient:
		return "client"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}

// Authoritative reports whether the role may initiate spawns.
func (r Role) Authoritative() bool {
	return r == RoleServer || r == RoleHost
}

// ParseRole parses a configured role name.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "server":
		return RoleServer, nil
	case "host":
		return RoleHost, nil
	case "client":
		return RoleClient, nil
	}
	return 0, fmt.Errorf("unknown session role %q", s)
}
