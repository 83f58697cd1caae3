package nvidia

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Runner opens shell sessions on remote hosts.
type Runner interface {
	Connect(ctx context.Context, hostname string) (Session, error)
}

// Session executes shell commands over one connection. A non-zero exit
// code is reported in the Result, not as an error; errors mean the
// command could not be run at all.
type Session interface {
	Run(ctx context.Context, cmd string) (Result, error)
	Close() error
}

// Result holds the outcome of one remote command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// SSHRunner connects to hosts over SSH with key-based auth.
type SSHRunner struct {
	user           string
	keyFile        string
	knownHostsFile string
	timeout        time.Duration
}

// NewSSHRunner creates a runner that authenticates as user with the
// private key at keyFile. An empty knownHostsFile disables host key
// verification.
func NewSSHRunner(user, keyFile, knownHostsFile string) *SSHRunner {
	return &SSHRunner{
		user:           user,
		keyFile:        keyFile,
		knownHostsFile: knownHostsFile,
		timeout:        30 * time.Second,
	}
}

func (r *SSHRunner) Connect(ctx context.Context, hostname string) (Session, error) {
	key, err := os.ReadFile(r.keyFile)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if r.knownHostsFile != "" {
		hostKeys, err = knownhosts.New(r.knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
	}

	cfg := &ssh.ClientConfig{
		User:            r.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         r.timeout,
	}

	addr := hostname
	if _, _, err := net.SplitHostPort(hostname); err != nil {
		addr = net.JoinHostPort(hostname, "22")
	}

	d := net.Dialer{Timeout: r.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	return &sshSession{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

type sshSession struct {
	client *ssh.Client
}

func (s *sshSession) Run(ctx context.Context, cmd string) (Result, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case <-ctx.Done():
		sess.Signal(ssh.SIGKILL)
		return Result{}, ctx.Err()
	case err = <-done:
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, fmt.Errorf("run %q: %w", cmd, err)
	}
	return res, nil
}

func (s *sshSession) Close() error {
	return s.client.Close()
}
