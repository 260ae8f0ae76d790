// Package topology loads the description of a multicast test bed: its nodes,
// the services under test, run timing and the comparison policy.
package topology

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/aura-net/mcast-acceptor/comparator"
	"github.com/aura-net/mcast-acceptor/controller"
	"github.com/aura-net/mcast-acceptor/types"
)

const (
	ServiceTypeSystemd = "systemd"
	ServiceTypeScript  = "script"

	DefaultServiceTimeout = 30 * time.Second
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultConnectTimeout = 10 * time.Second
	DefaultRunDuration    = time.Minute
)

// Duration is a time.Duration written as a string such as "90s" in both YAML
// and TOML files.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Service struct {
	Name string `yaml:"name" toml:"name"`
	Type string `yaml:"type" toml:"type"`
	// Unit is the systemd unit name, defaults to Name.
	Unit    string `yaml:"unit" toml:"unit"`
	Sudo    bool   `yaml:"sudo" toml:"sudo"`
	Start   string `yaml:"start" toml:"start"`
	Stop    string `yaml:"stop" toml:"stop"`
	Status  string `yaml:"status" toml:"status"`
	LogPath string `yaml:"log_path" toml:"log_path"`
}

type Services struct {
	Transmitter Service `yaml:"transmitter" toml:"transmitter"`
	Receiver    Service `yaml:"receiver" toml:"receiver"`
}

type Run struct {
	Duration Duration `yaml:"duration" toml:"duration"`
	// ExpectedPackets and PacketRate (packets per second) derive the duration
	// when it is not set explicitly.
	ExpectedPackets int64    `yaml:"expected_packets" toml:"expected_packets"`
	PacketRate      float64  `yaml:"packet_rate" toml:"packet_rate"`
	Drain           Duration `yaml:"drain" toml:"drain"`
	ServiceTimeout  Duration `yaml:"service_timeout" toml:"service_timeout"`
	PollInterval    Duration `yaml:"poll_interval" toml:"poll_interval"`
	MaxParallel     int      `yaml:"max_parallel" toml:"max_parallel"`
}

type Comparison struct {
	MaxLossRate        float64  `yaml:"max_loss_rate" toml:"max_loss_rate"`
	FailOnReorder      bool     `yaml:"fail_on_reorder" toml:"fail_on_reorder"`
	FailOnSizeMismatch *bool    `yaml:"fail_on_size_mismatch" toml:"fail_on_size_mismatch"`
	MaxP999Latency     Duration `yaml:"max_p999_latency" toml:"max_p999_latency"`
	MaxDiscrepancies   int      `yaml:"max_discrepancies" toml:"max_discrepancies"`
}

type SSH struct {
	Binary         string   `yaml:"binary" toml:"binary"`
	SCPBinary      string   `yaml:"scp_binary" toml:"scp_binary"`
	ConnectTimeout Duration `yaml:"connect_timeout" toml:"connect_timeout"`
	Options        []string `yaml:"options" toml:"options"`
}

// Topology is the parsed run configuration file.
type Topology struct {
	Name       string       `yaml:"name" toml:"name"`
	Nodes      []types.Node `yaml:"nodes" toml:"nodes"`
	Services   Services     `yaml:"services" toml:"services"`
	Run        Run          `yaml:"run" toml:"run"`
	Comparison Comparison   `yaml:"comparison" toml:"comparison"`
	SSH        SSH          `yaml:"ssh" toml:"ssh"`
}

// Load reads a topology from a .yaml, .yml or .toml file, applies defaults
// and validates it.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}

	var t Topology
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("failed to parse topology file: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &t)
		if err != nil {
			return nil, fmt.Errorf("failed to parse topology file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys in topology file: %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported topology file extension %q", ext)
	}

	if t.Name == "" {
		t.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	t.ApplyDefaults()
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology %s: %w", path, err)
	}
	return &t, nil
}

// ApplyDefaults fills every unset optional value.
func (t *Topology) ApplyDefaults() {
	for _, s := range []*Service{&t.Services.Transmitter, &t.Services.Receiver} {
		if s.Type == "" {
			s.Type = ServiceTypeSystemd
		}
	}
	if t.Run.ServiceTimeout == 0 {
		t.Run.ServiceTimeout = Duration(DefaultServiceTimeout)
	}
	if t.Run.PollInterval == 0 {
		t.Run.PollInterval = Duration(DefaultPollInterval)
	}
	if t.Comparison.FailOnSizeMismatch == nil {
		failOnSize := true
		t.Comparison.FailOnSizeMismatch = &failOnSize
	}
	if t.Comparison.MaxDiscrepancies == 0 {
		t.Comparison.MaxDiscrepancies = comparator.DefaultPolicy().MaxDiscrepancies
	}
	if t.SSH.Binary == "" {
		t.SSH.Binary = "ssh"
	}
	if t.SSH.SCPBinary == "" {
		t.SSH.SCPBinary = "scp"
	}
	if t.SSH.ConnectTimeout == 0 {
		t.SSH.ConnectTimeout = Duration(DefaultConnectTimeout)
	}
}

func (t *Topology) Validate() error {
	var errs []error

	servers := 0
	seen := make(map[string]bool)
	for i, n := range t.Nodes {
		if n.ID == "" {
			errs = append(errs, fmt.Errorf("node %d has no id", i))
			continue
		}
		if !validNodeID(n.ID) {
			errs = append(errs, fmt.Errorf("node id %q must be a plain file name", n.ID))
		}
		if seen[n.ID] {
			errs = append(errs, fmt.Errorf("duplicate node id %s", n.ID))
		}
		seen[n.ID] = true
		if n.Address == "" {
			errs = append(errs, fmt.Errorf("node %s has no address", n.ID))
		}
		if !n.Role.IsValid() {
			errs = append(errs, fmt.Errorf("node %s has invalid role %q", n.ID, n.Role))
		}
		if n.Role == types.RoleServer {
			servers++
		}
		if n.Port < 0 || n.Port > 65535 {
			errs = append(errs, fmt.Errorf("node %s has invalid port %d", n.ID, n.Port))
		}
	}
	if servers != 1 {
		errs = append(errs, fmt.Errorf("exactly one server node is required, found %d", servers))
	}
	if len(t.Clients()) == 0 {
		errs = append(errs, errors.New("at least one client node is required"))
	}

	errs = append(errs, validateService("transmitter", t.Services.Transmitter)...)
	errs = append(errs, validateService("receiver", t.Services.Receiver)...)
	if t.Services.Transmitter.Name != "" && t.Services.Transmitter.Name == t.Services.Receiver.Name {
		errs = append(errs, errors.New("transmitter and receiver services must have different names"))
	}

	if t.Run.Duration < 0 || t.Run.Drain < 0 {
		errs = append(errs, errors.New("run durations must not be negative"))
	}
	if t.Run.ExpectedPackets < 0 || t.Run.PacketRate < 0 {
		errs = append(errs, errors.New("expected packets and packet rate must not be negative"))
	}
	if t.Run.MaxParallel < 0 {
		errs = append(errs, errors.New("max parallel must not be negative"))
	}
	if err := t.Policy().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// validNodeID reports whether id can name the node's files under the output
// directory without leaving it.
func validNodeID(id string) bool {
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return false
	}
	return filepath.Base(id) == id
}

func validateService(role string, s Service) []error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, fmt.Errorf("%s service has no name", role))
	}
	if s.LogPath == "" {
		errs = append(errs, fmt.Errorf("%s service has no log path", role))
	}
	switch s.Type {
	case ServiceTypeSystemd:
	case ServiceTypeScript:
		if s.Start == "" || s.Stop == "" || s.Status == "" {
			errs = append(errs, fmt.Errorf("%s script service needs start, stop and status commands", role))
		}
	default:
		errs = append(errs, fmt.Errorf("%s service has unknown type %q", role, s.Type))
	}
	return errs
}

// Server returns the server node. It is only meaningful on a valid topology.
func (t *Topology) Server() types.Node {
	for _, n := range t.Nodes {
		if n.Role == types.RoleServer {
			return n
		}
	}
	return types.Node{}
}

// Clients returns all client nodes in file order.
func (t *Topology) Clients() []types.Node {
	var clients []types.Node
	for _, n := range t.Nodes {
		if n.Role == types.RoleClient {
			clients = append(clients, n)
		}
	}
	return clients
}

// RunDuration is the explicit duration if set, otherwise the expected
// transmit time plus drain, otherwise DefaultRunDuration.
func (t *Topology) RunDuration() time.Duration {
	if t.Run.Duration > 0 {
		return t.Run.Duration.Std()
	}
	if t.Run.ExpectedPackets > 0 && t.Run.PacketRate > 0 {
		transmit := time.Duration(float64(t.Run.ExpectedPackets) / t.Run.PacketRate * float64(time.Second))
		return transmit + t.Run.Drain.Std()
	}
	return DefaultRunDuration
}

func (t *Topology) Policy() comparator.Policy {
	p := comparator.DefaultPolicy()
	p.MaxLossRate = t.Comparison.MaxLossRate
	p.FailOnReorder = t.Comparison.FailOnReorder
	if t.Comparison.FailOnSizeMismatch != nil {
		p.FailOnSizeMismatch = *t.Comparison.FailOnSizeMismatch
	}
	p.MaxP999Latency = t.Comparison.MaxP999Latency.Std()
	if t.Comparison.MaxDiscrepancies != 0 {
		p.MaxDiscrepancies = t.Comparison.MaxDiscrepancies
	}
	return p
}

// Plan returns the controller plan for this topology.
func (t *Topology) Plan() controller.Plan {
	return controller.Plan{
		Server:      t.Server(),
		Clients:     t.Clients(),
		Transmitter: controller.ServiceSpec{Name: t.Services.Transmitter.Name, LogPath: t.Services.Transmitter.LogPath},
		Receiver:    controller.ServiceSpec{Name: t.Services.Receiver.Name, LogPath: t.Services.Receiver.LogPath},
	}
}
