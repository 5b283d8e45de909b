package hostrouter

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/malgorath/cyberbrain/internal/store/models"
	"golang.org/x/crypto/ssh"
)

// TunnelManager owns the SSH tunnels that carry Docker traffic to forwarded
// hosts. One long-lived tunnel per host, created on first use and torn down
// when the host is deleted or the process shuts down. There is no ambient
// singleton: the scheduler process constructs one manager and passes the
// handle to the health checker and the dispatcher.
type TunnelManager struct {
	mu      sync.Mutex
	tunnels map[string]*sshTunnel

	portMin int
	portMax int
}

type sshTunnel struct {
	hostID    string
	client    *ssh.Client
	listener  net.Listener
	localPort int
	done      chan struct{}
}

// NewTunnelManager creates a tunnel manager allocating local ports in
// [portMin, portMax].
func NewTunnelManager(portMin, portMax int) *TunnelManager {
	return &TunnelManager{
		tunnels: make(map[string]*sshTunnel),
		portMin: portMin,
		portMax: portMax,
	}
}

// Ensure returns a tcp:// URL on a local port forwarding to the host's
// Docker endpoint, establishing the tunnel on first call.
func (tm *TunnelManager) Ensure(host *models.WorkerHost) (string, error) {
	if !host.HasSSHConfig() {
		return "", fmt.Errorf("host %s has no ssh config", host.HostID)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if t, ok := tm.tunnels[host.HostID]; ok {
		return fmt.Sprintf("tcp://127.0.0.1:%d", t.localPort), nil
	}

	t, err := tm.dial(host)
	if err != nil {
		return "", err
	}
	tm.tunnels[host.HostID] = t

	logging.Log.WithField("host_id", host.HostID).
		WithField("local_port", t.localPort).
		Info("SSH tunnel established")
	return fmt.Sprintf("tcp://127.0.0.1:%d", t.localPort), nil
}

func (tm *TunnelManager) dial(host *models.WorkerHost) (*sshTunnel, error) {
	cfg := host.SSHConfig

	keyBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key: %w", err)
	}

	clientConfig := &ssh.ClientConfig{
		User: cfg.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Hosts live on a trusted LAN and are registered by the operator
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	client, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("ssh dial failed: %w", err)
	}

	listener, localPort, err := tm.listenLocal()
	if err != nil {
		client.Close()
		return nil, err
	}

	// The remote side of the forward is the Docker endpoint address as seen
	// from the SSH host.
	remoteAddr := trimScheme(host.Endpoint)

	t := &sshTunnel{
		hostID:    host.HostID,
		client:    client,
		listener:  listener,
		localPort: localPort,
		done:      make(chan struct{}),
	}
	go t.forward(remoteAddr)
	return t, nil
}

// listenLocal binds the first free port in the configured range.
func (tm *TunnelManager) listenLocal() (net.Listener, int, error) {
	for port := tm.portMin; port <= tm.portMax; port++ {
		listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return listener, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no free local port in range %d-%d", tm.portMin, tm.portMax)
}

// forward accepts local connections and pipes them through the SSH client.
func (t *sshTunnel) forward(remoteAddr string) {
	for {
		localConn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				logging.Log.WithError(err).WithField("host_id", t.hostID).Warn("Tunnel accept failed")
				return
			}
		}

		go func() {
			defer localConn.Close()

			remoteConn, err := t.client.Dial("tcp", remoteAddr)
			if err != nil {
				logging.Log.WithError(err).WithField("host_id", t.hostID).Warn("Tunnel remote dial failed")
				return
			}
			defer remoteConn.Close()

			go io.Copy(remoteConn, localConn)
			io.Copy(localConn, remoteConn)
		}()
	}
}

// Close tears down the tunnel for a host, if any.
func (tm *TunnelManager) Close(hostID string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if t, ok := tm.tunnels[hostID]; ok {
		close(t.done)
		t.listener.Close()
		t.client.Close()
		delete(tm.tunnels, hostID)
		logging.Log.WithField("host_id", hostID).Info("SSH tunnel closed")
	}
}

// CloseAll tears down every tunnel. Called on process shutdown.
func (tm *TunnelManager) CloseAll() {
	tm.mu.Lock()
	ids := make([]string, 0, len(tm.tunnels))
	for id := range tm.tunnels {
		ids = append(ids, id)
	}
	tm.mu.Unlock()

	for _, id := range ids {
		tm.Close(id)
	}
}

func trimScheme(endpoint string) string {
	for _, scheme := range []string{"tcp://", "unix://"} {
		if len(endpoint) > len(scheme) && endpoint[:len(scheme)] == scheme {
			return endpoint[len(scheme):]
		}
	}
	return endpoint
}
