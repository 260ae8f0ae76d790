package controller

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aura-net/mcast-acceptor/types"
)

// NodePlaceholder in a log path is replaced by the node ID.
const NodePlaceholder = "{node}"

// ServiceSpec names a service and where it writes its log on each node.
type ServiceSpec struct {
	Name    string
	LogPath string
}

// LogPathFor returns the log path of the service on node.
func (s ServiceSpec) LogPathFor(node types.Node) string {
	return strings.ReplaceAll(s.LogPath, NodePlaceholder, node.ID)
}

// Plan describes which services run where in one run.
type Plan struct {
	Server      types.Node
	Clients     []types.Node
	Transmitter ServiceSpec
	Receiver    ServiceSpec
}

// Nodes returns the server followed by all clients.
func (p Plan) Nodes() []types.Node {
	nodes := make([]types.Node, 0, len(p.Clients)+1)
	nodes = append(nodes, p.Server)
	return append(nodes, p.Clients...)
}

func (p Plan) Validate() error {
	var errs []error
	if p.Server.ID == "" {
		errs = append(errs, errors.New("plan has no server node"))
	}
	if len(p.Clients) == 0 {
		errs = append(errs, errors.New("plan has no client nodes"))
	}
	seen := map[string]bool{p.Server.ID: true}
	for _, c := range p.Clients {
		if c.ID == "" {
			errs = append(errs, errors.New("client node without id"))
			continue
		}
		if seen[c.ID] {
			errs = append(errs, fmt.Errorf("node %s appears more than once", c.ID))
		}
		seen[c.ID] = true
	}
	if p.Transmitter.Name == "" || p.Transmitter.LogPath == "" {
		errs = append(errs, errors.New("transmitter service needs a name and a log path"))
	}
	if p.Receiver.Name == "" || p.Receiver.LogPath == "" {
		errs = append(errs, errors.New("receiver service needs a name and a log path"))
	}
	return errors.Join(errs...)
}
