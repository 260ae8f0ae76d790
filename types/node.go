package types

import "fmt"

// Role is the part a node plays in a multicast run.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// IsValid reports whether the role is one of the known roles.
func (r Role) IsValid() bool {
	return r == RoleServer || r == RoleClient
}

// LocalAddress marks a node that is the controller host itself.
const LocalAddress = "local"

// Node is a host participating in a run. Nodes are immutable for the
// duration of a run and are passed explicitly to every remote operation.
type Node struct {
	ID      string `json:"id" yaml:"id" toml:"id"`
	Address string `json:"address" yaml:"address" toml:"address"`
	Role    Role   `json:"role" yaml:"role" toml:"role"`
	User    string `json:"user,omitempty" yaml:"user" toml:"user"`
	Port    int    `json:"port,omitempty" yaml:"port" toml:"port"`
}

// IsLocal reports whether commands for this node run on the controller host.
func (n Node) IsLocal() bool {
	return n.Address == LocalAddress
}

// Target returns the ssh-style destination for the node, e.g. "ops@10.0.0.2".
func (n Node) Target() string {
	if n.User != "" {
		return fmt.Sprintf("%s@%s", n.User, n.Address)
	}
	return n.Address
}

func (n Node) String() string {
	return n.ID
}
