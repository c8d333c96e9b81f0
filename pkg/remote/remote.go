// Package remote runs commands on the worker over SSH. It is the single
// transport shared by the readiness prober, the configurator, and the work
// runner.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/sandstream/stoker/pkg/config"
)

// Runner executes a command on a remote worker. The error carries stderr
// context when the command fails. RunInput feeds stdin to the command;
// secret material travels that way so it never appears in a remote argv.
type Runner interface {
	Run(ctx context.Context, addr, cmd string) (stdout string, err error)
	RunInput(ctx context.Context, addr, cmd string, stdin []byte) (stdout string, err error)
}

// Dialer opens an SSH control channel. Split from Runner so the prober can
// do a pure handshake without running anything.
type Dialer interface {
	Dial(ctx context.Context, addr string) (*ssh.Client, error)
}

// Client implements Dialer and Runner from a worker spec's SSH section.
type Client struct {
	user        string
	port        int
	signer      ssh.Signer
	hostKeyCB   ssh.HostKeyCallback
	dialTimeout time.Duration
}

// NewClient builds an SSH client from the spec. The private key is read
// once at startup; host key policy comes from the known-hosts file when one
// is configured.
func NewClient(spec config.SSHSpec) (*Client, error) {
	keyData, err := os.ReadFile(spec.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	cb := ssh.InsecureIgnoreHostKey() //nolint:gosec // fresh instances have no pre-shared host key
	if !spec.InsecureHostKey {
		cb, err = knownhosts.New(spec.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
	}

	return &Client{
		user:        spec.User,
		port:        spec.Port,
		signer:      signer,
		hostKeyCB:   cb,
		dialTimeout: 10 * time.Second,
	}, nil
}

// Dial opens an authenticated SSH connection to addr, honoring ctx for the
// TCP dial and handshake.
func (c *Client) Dial(ctx context.Context, addr string) (*ssh.Client, error) {
	hostport := net.JoinHostPort(addr, fmt.Sprintf("%d", c.port))
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", hostport, err)
	}

	cfg := &ssh.ClientConfig{
		User:            c.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.signer)},
		HostKeyCallback: c.hostKeyCB,
		Timeout:         c.dialTimeout,
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, hostport, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", hostport, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Run executes cmd on addr and returns its stdout. Cancellation closes the
// session; the remote command is abandoned and any half-done unit is the
// queue's re-delivery problem.
func (c *Client) Run(ctx context.Context, addr, cmd string) (string, error) {
	return c.run(ctx, addr, cmd, nil)
}

// RunInput is Run with stdin attached.
func (c *Client) RunInput(ctx context.Context, addr, cmd string, stdin []byte) (string, error) {
	return c.run(ctx, addr, cmd, stdin)
}

func (c *Client) run(ctx context.Context, addr, cmd string, stdin []byte) (string, error) {
	client, err := c.Dial(ctx, addr)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return stdout.String(), ctx.Err()
	case err := <-done:
		if err != nil {
			return stdout.String(), fmt.Errorf("remote command failed: %w (stderr: %s)",
				err, truncate(stderr.String(), 512))
		}
		return stdout.String(), nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
