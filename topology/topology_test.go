package topology

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-net/mcast-acceptor/types"
)

func TestLoad_YAML(t *testing.T) {
	topo, err := Load("testdata/lab.yaml")
	require.NoError(t, err)

	assert.Equal(t, "lab", topo.Name)
	assert.Equal(t, "server-1", topo.Server().ID)
	require.Len(t, topo.Clients(), 2)
	assert.Equal(t, 2222, topo.Clients()[1].Port)
	assert.Equal(t, "ops@10.20.0.11", topo.Clients()[0].Target())

	assert.Equal(t, ServiceTypeSystemd, topo.Services.Transmitter.Type)
	assert.True(t, topo.Services.Transmitter.Sudo)
	assert.Equal(t, ServiceTypeScript, topo.Services.Receiver.Type)

	// 6000 packets at 100/s plus 5s drain.
	assert.Equal(t, 65*time.Second, topo.RunDuration())
	assert.Equal(t, 20*time.Second, topo.Run.ServiceTimeout.Std())
	assert.Equal(t, DefaultPollInterval, topo.Run.PollInterval.Std())
	assert.Equal(t, 5*time.Second, topo.SSH.ConnectTimeout.Std())
	assert.Equal(t, []string{"-i", "/etc/mcast/id_ed25519"}, topo.SSH.Options)

	policy := topo.Policy()
	assert.Equal(t, 0.001, policy.MaxLossRate)
	assert.True(t, policy.FailOnReorder)
	assert.True(t, policy.FailOnSizeMismatch, "size mismatches fail by default")
	assert.Equal(t, 250*time.Millisecond, policy.MaxP999Latency)
	assert.Equal(t, 100, policy.MaxDiscrepancies)

	plan := topo.Plan()
	require.NoError(t, plan.Validate())
	assert.Equal(t, "/var/log/foo/receive-client-2.log", plan.Receiver.LogPathFor(plan.Clients[1]))
}

func TestLoad_TOML(t *testing.T) {
	topo, err := Load("testdata/lab.toml")
	require.NoError(t, err)

	assert.True(t, topo.Server().IsLocal())
	assert.Equal(t, 90*time.Second, topo.RunDuration())
	assert.Equal(t, 250*time.Millisecond, topo.Run.PollInterval.Std())
	assert.Equal(t, ServiceTypeSystemd, topo.Services.Receiver.Type)
	assert.False(t, topo.Policy().FailOnSizeMismatch)
	assert.Equal(t, "ssh", topo.SSH.Binary)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{
			name:    "unknown extension",
			file:    "topo.json",
			content: "{}",
			wantErr: "unsupported topology file extension",
		},
		{
			name:    "unknown yaml key",
			file:    "topo.yaml",
			content: "nodez: []\n",
			wantErr: "failed to parse",
		},
		{
			name:    "unknown toml key",
			file:    "topo.toml",
			content: "colour = \"red\"\n",
			wantErr: "unknown keys",
		},
		{
			name: "no server",
			file: "topo.yaml",
			content: `
nodes:
  - {id: c1, address: 10.0.0.2, role: client}
services:
  transmitter: {name: tx, log_path: /tx.log}
  receiver: {name: rx, log_path: /rx.log}
`,
			wantErr: "exactly one server node is required",
		},
		{
			name: "script without status",
			file: "topo.yaml",
			content: `
nodes:
  - {id: s1, address: 10.0.0.1, role: server}
  - {id: c1, address: 10.0.0.2, role: client}
services:
  transmitter: {name: tx, log_path: /tx.log}
  receiver: {name: rx, type: script, start: a, stop: b, log_path: /rx.log}
`,
			wantErr: "needs start, stop and status commands",
		},
		{
			name: "bad loss rate",
			file: "topo.yaml",
			content: `
nodes:
  - {id: s1, address: 10.0.0.1, role: server}
  - {id: c1, address: 10.0.0.2, role: client}
services:
  transmitter: {name: tx, log_path: /tx.log}
  receiver: {name: rx, log_path: /rx.log}
comparison:
  max_loss_rate: 2
`,
			wantErr: "max loss rate",
		},
		{
			name: "bad duration",
			file: "topo.yaml",
			content: `
run:
  duration: forever
`,
			wantErr: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_DuplicateNodes(t *testing.T) {
	topo := &Topology{
		Nodes: []types.Node{
			{ID: "s1", Address: "10.0.0.1", Role: types.RoleServer},
			{ID: "c1", Address: "10.0.0.2", Role: types.RoleClient},
			{ID: "c1", Address: "10.0.0.3", Role: "observer"},
		},
		Services: Services{
			Transmitter: Service{Name: "svc", LogPath: "/a"},
			Receiver:    Service{Name: "svc", LogPath: "/b"},
		},
	}
	topo.ApplyDefaults()

	err := topo.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node id c1")
	assert.Contains(t, err.Error(), "invalid role")
	assert.Contains(t, err.Error(), "must have different names")
}

func TestValidate_NodeIDs(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{id: "client-1", valid: true},
		{id: "c1.lab", valid: true},
		{id: "..", valid: false},
		{id: ".", valid: false},
		{id: "../escape", valid: false},
		{id: "a/b", valid: false},
		{id: "/etc/passwd", valid: false},
		{id: `a\b`, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			topo := &Topology{
				Nodes: []types.Node{
					{ID: "s1", Address: "10.0.0.1", Role: types.RoleServer},
					{ID: tt.id, Address: "10.0.0.2", Role: types.RoleClient},
				},
				Services: Services{
					Transmitter: Service{Name: "tx", LogPath: "/tx.log"},
					Receiver:    Service{Name: "rx", LogPath: "/rx.log"},
				},
			}
			topo.ApplyDefaults()

			err := topo.Validate()
			if tt.valid {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "must be a plain file name")
		})
	}
}

func TestRunDuration_Default(t *testing.T) {
	topo := &Topology{}
	assert.Equal(t, DefaultRunDuration, topo.RunDuration())

	topo.Run.ExpectedPackets = 1000
	assert.Equal(t, DefaultRunDuration, topo.RunDuration(), "packet rate is needed to derive the duration")
}
