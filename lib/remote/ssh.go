// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/time/rate"

	"github.com/bureau-foundation/cacheguard/lib/fault"
	"github.com/bureau-foundation/cacheguard/lib/secret"
	"github.com/bureau-foundation/cacheguard/lib/version"
)

// DefaultConnectTimeout bounds TCP connect plus SSH handshake when the
// configuration does not set one.
const DefaultConnectTimeout = 15 * time.Second

// maxOutputBytes caps how much of a command's stdout or stderr is kept.
// du over a cache root with thousands of entries stays far below this.
const maxOutputBytes = 8 << 20

// SSHConfig configures an SSHDialer. It is shared by every target in a
// pass; per-target credentials travel on the Target.
type SSHConfig struct {
	// KnownHostsFile is the OpenSSH known_hosts file used to verify
	// worker host keys. Required unless InsecureIgnoreHostKey is set.
	KnownHostsFile string

	// InsecureIgnoreHostKey accepts any host key. Only for lab clusters
	// whose workers are re-imaged faster than known_hosts can track.
	InsecureIgnoreHostKey bool

	// ConnectTimeout bounds connect plus handshake per target.
	ConnectTimeout time.Duration

	// DialRate is the maximum number of new connections per second
	// across all targets. Zero means unlimited.
	DialRate float64

	// AgentSocket is the ssh-agent socket used for targets whose
	// credential sets UseAgent. Defaults to $SSH_AUTH_SOCK.
	AgentSocket string

	Logger *slog.Logger
}

// SSHDialer opens SSH sessions. It is safe for concurrent use: the rate
// limiter and the parsed-key cache are the only shared state.
type SSHDialer struct {
	config          SSHConfig
	hostKeyCallback ssh.HostKeyCallback
	limiter         *rate.Limiter
	logger          *slog.Logger

	signersMu sync.Mutex
	signers   map[string]signerEntry
}

type signerEntry struct {
	signer ssh.Signer
	err    error
}

// NewSSHDialer validates the host key policy and returns a dialer. A
// missing or unreadable known_hosts file is a configuration error, not
// a per-host failure.
func NewSSHDialer(config SSHConfig) (*SSHDialer, error) {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.AgentSocket == "" {
		config.AgentSocket = os.Getenv("SSH_AUTH_SOCK")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var hostKeyCallback ssh.HostKeyCallback
	if config.InsecureIgnoreHostKey {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		if config.KnownHostsFile == "" {
			return nil, fmt.Errorf("known_hosts file is required unless host key checking is disabled")
		}
		callback, err := knownhosts.New(config.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts %s: %w", config.KnownHostsFile, err)
		}
		hostKeyCallback = callback
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.DialRate > 0 {
		burst := int(config.DialRate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.DialRate), burst)
	}

	return &SSHDialer{
		config:          config,
		hostKeyCallback: hostKeyCallback,
		limiter:         limiter,
		logger:          logger,
		signers:         make(map[string]signerEntry),
	}, nil
}

// Open connects and authenticates to target.
func (d *SSHDialer) Open(ctx context.Context, target Target) (Session, error) {
	host := target.Host
	if err := d.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fault.FromContext(host, "waiting for dial slot", ctxErr)
		}
		// The limiter refuses waits that cannot finish before the
		// deadline.
		return nil, fault.New(fault.Timeout, host, "waiting for dial slot", err)
	}

	authMethods, agentConnection, err := d.authMethods(target.Credential)
	if err != nil {
		return nil, fault.New(fault.Connection, host, "loading credential", err).WithReason(fault.ReasonCredential)
	}
	closeAgent := func() {
		if agentConnection != nil {
			agentConnection.Close()
		}
	}

	clientConfig := &ssh.ClientConfig{
		User:            target.Credential.User,
		Auth:            authMethods,
		HostKeyCallback: d.hostKeyCallback,
		Timeout:         d.config.ConnectTimeout,
		ClientVersion:   version.UserAgent(),
	}

	address := target.Address()
	dialContext, cancelDial := context.WithTimeout(ctx, d.config.ConnectTimeout)
	defer cancelDial()

	var netDialer net.Dialer
	connection, err := netDialer.DialContext(dialContext, "tcp", address)
	if err != nil {
		closeAgent()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fault.FromContext(host, "dial "+address, ctxErr)
		}
		return nil, fault.New(fault.Connection, host, "dial "+address, err).WithReason(fault.ReasonNetwork)
	}

	// The handshake does not observe a context; a deadline on the raw
	// connection bounds it instead, and a watcher closes the socket if
	// the pass is cancelled mid-handshake.
	if deadline, ok := dialContext.Deadline(); ok {
		connection.SetDeadline(deadline)
	}
	handshakeDone := make(chan struct{})
	go func() {
		select {
		case <-dialContext.Done():
			connection.Close()
		case <-handshakeDone:
		}
	}()

	clientConnection, channels, requests, err := ssh.NewClientConn(connection, address, clientConfig)
	close(handshakeDone)
	if err != nil {
		connection.Close()
		closeAgent()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fault.FromContext(host, "ssh handshake", ctxErr)
		}
		return nil, fault.New(fault.Connection, host, "ssh handshake", err).WithReason(handshakeReason(err))
	}
	connection.SetDeadline(time.Time{})

	d.logger.Debug("ssh session established",
		"host", host,
		"address", address,
		"user", target.Credential.User,
		"server_version", string(clientConnection.ServerVersion()),
	)

	return &sshSession{
		host:            host,
		client:          ssh.NewClient(clientConnection, channels, requests),
		agentConnection: agentConnection,
	}, nil
}

// authMethods builds the authentication chain for a credential. The
// agent connection, if any, must be closed with the session.
func (d *SSHDialer) authMethods(credential Credential) ([]ssh.AuthMethod, net.Conn, error) {
	if credential.User == "" {
		return nil, nil, fmt.Errorf("no ssh user configured")
	}

	var methods []ssh.AuthMethod
	if credential.KeyFile != "" {
		signer, err := d.signer(credential.KeyFile)
		if err != nil {
			return nil, nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	var agentConnection net.Conn
	if credential.UseAgent {
		if d.config.AgentSocket == "" {
			return nil, nil, fmt.Errorf("ssh-agent requested but SSH_AUTH_SOCK is not set")
		}
		connection, err := net.Dial("unix", d.config.AgentSocket)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to ssh-agent: %w", err)
		}
		agentConnection = connection
		methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(connection).Signers))
	}

	if len(methods) == 0 {
		return nil, nil, fmt.Errorf("no key file or agent configured for user %s", credential.User)
	}
	return methods, agentConnection, nil
}

// signer parses a key file once per pass. The raw key bytes live only
// in a locked secret buffer for the duration of parsing.
func (d *SSHDialer) signer(path string) (ssh.Signer, error) {
	d.signersMu.Lock()
	defer d.signersMu.Unlock()

	if entry, ok := d.signers[path]; ok {
		return entry.signer, entry.err
	}

	entry := signerEntry{}
	buffer, err := secret.ReadKeyFile(path)
	if err != nil {
		entry.err = fmt.Errorf("reading key file: %w", err)
	} else {
		signer, parseErr := ssh.ParsePrivateKey(buffer.Bytes())
		buffer.Close()
		if parseErr != nil {
			entry.err = fmt.Errorf("parsing key file %s: %w", path, parseErr)
		} else {
			entry.signer = signer
		}
	}
	d.signers[path] = entry
	return entry.signer, entry.err
}

// handshakeReason distinguishes authentication and host key failures
// from network failures during the SSH handshake.
func handshakeReason(err error) string {
	var keyError *knownhosts.KeyError
	if errors.As(err, &keyError) {
		return fault.ReasonHostKey
	}
	message := err.Error()
	switch {
	case strings.Contains(message, "unable to authenticate"):
		return fault.ReasonAuthentication
	case strings.Contains(message, "knownhosts:"), strings.Contains(message, "host key"):
		return fault.ReasonHostKey
	default:
		return fault.ReasonNetwork
	}
}

type sshSession struct {
	host            string
	client          *ssh.Client
	agentConnection net.Conn
	closeOnce       sync.Once
	closeErr        error
}

func (s *sshSession) Host() string { return s.host }

func (s *sshSession) Run(ctx context.Context, command string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fault.FromContext(s.host, command, err)
	}

	channel, err := s.client.NewSession()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fault.FromContext(s.host, command, ctxErr)
		}
		return Result{}, fault.New(fault.Command, s.host, command, fmt.Errorf("opening channel: %w", err))
	}
	defer channel.Close()

	stdout := &cappedBuffer{limit: maxOutputBytes}
	stderr := &cappedBuffer{limit: maxOutputBytes}
	channel.Stdout = stdout
	channel.Stderr = stderr

	done := make(chan error, 1)
	go func() { done <- channel.Run(command) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		// Closing the client is the only way to abort a remote command.
		// The session is unusable afterwards.
		s.Close()
		<-done
		return Result{}, fault.FromContext(s.host, command, ctx.Err())
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}

	var exitError *ssh.ExitError
	if errors.As(err, &exitError) {
		result.ExitCode = exitError.ExitStatus()
		return result, nil
	}
	return result, fault.New(fault.Command, s.host, command, err)
}

func (s *sshSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
		if s.agentConnection != nil {
			s.agentConnection.Close()
		}
	})
	return s.closeErr
}

// cappedBuffer keeps the first limit bytes written and discards the
// rest while still reporting full writes, so a chatty command cannot
// exhaust controller memory or stall the channel.
type cappedBuffer struct {
	buffer bytes.Buffer
	limit  int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if remaining := c.limit - c.buffer.Len(); remaining > 0 {
		if len(p) > remaining {
			c.buffer.Write(p[:remaining])
		} else {
			c.buffer.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string { return c.buffer.String() }
