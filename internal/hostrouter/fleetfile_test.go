package hostrouter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFleetFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFleetFile(t *testing.T) {
	path := writeFleetFile(t, `
hosts:
  - name: gpu-box
    kind: remote_tcp
    endpoint: tcp://10.0.0.5:2375
    gpus: true
    gpu_count: 2
    max_concurrency: 4
    labels: [gpu, lab]
    ssh:
      host: 10.0.0.5
      user: orchestrator
      key_path: /etc/cyberbrain/id_ed25519
  - name: cpu-box
    kind: local_socket
    endpoint: /var/run/docker.sock
`)

	ff, err := LoadFleetFile(path)
	require.NoError(t, err)
	require.Len(t, ff.Hosts, 2)

	gpu := ff.Hosts[0]
	assert.Equal(t, "gpu-box", gpu.Name)
	assert.True(t, gpu.GPUs)
	assert.Equal(t, 2, gpu.GPUCount)
	require.NotNil(t, gpu.SSH)
	assert.Equal(t, "orchestrator", gpu.SSH.User)

	cpu := ff.Hosts[1]
	assert.Equal(t, "local_socket", cpu.Kind)
	assert.Nil(t, cpu.SSH)
}

func TestLoadFleetFileRejectsMissingFields(t *testing.T) {
	path := writeFleetFile(t, `
hosts:
  - kind: local_socket
    endpoint: /var/run/docker.sock
`)

	_, err := LoadFleetFile(path)
	assert.Error(t, err)
}

func TestLoadFleetFileRejectsUnknownKind(t *testing.T) {
	path := writeFleetFile(t, `
hosts:
  - name: weird
    kind: teleport
    endpoint: tcp://10.0.0.9:2375
`)

	_, err := LoadFleetFile(path)
	assert.Error(t, err)
}

func TestLoadFleetFileMissingFile(t *testing.T) {
	_, err := LoadFleetFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
