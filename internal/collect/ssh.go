package collect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes a remote target and an optional jump host.
type SSHConfig struct {
	Host string
	User string
	Port int
	// KeyPath is a private key. Empty tries the usual ~/.ssh identities.
	KeyPath        string
	KnownHostsPath string
	// InsecureIgnoreHostKey skips host key checks entirely.
	InsecureIgnoreHostKey bool

	ProxyHost string
	ProxyUser string

	CommandTimeout  time.Duration
	ConnectAttempts int
	RetryDelay      time.Duration

	Logger *slog.Logger
}

func (c SSHConfig) addr(host string) string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// SSH runs commands on a remote machine.
type SSH struct {
	client  *ssh.Client
	proxy   *ssh.Client
	agent   net.Conn
	timeout time.Duration
	log     *slog.Logger
}

// DialSSH connects to cfg.Host, through cfg.ProxyHost when set. Freshly
// provisioned machines refuse connections for a while, so each hop is
// retried up to ConnectAttempts times.
func DialSSH(ctx context.Context, cfg SSHConfig) (*SSH, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("host", cfg.Host)

	auth, agentConn, err := authMethods(cfg.KeyPath)
	if err != nil {
		return nil, err
	}
	s := &SSH{agent: agentConn, timeout: cfg.CommandTimeout, log: log}
	hostKeys, err := hostKeyCallback(cfg, log)
	if err != nil {
		s.Close()
		return nil, err
	}
	clientConfig := func(user string) *ssh.ClientConfig {
		return &ssh.ClientConfig{
			User:            user,
			Auth:            auth,
			HostKeyCallback: hostKeys,
			Timeout:         30 * time.Second,
		}
	}

	target := cfg.addr(cfg.Host)

	if cfg.ProxyHost == "" {
		s.client, err = retry(ctx, cfg, log, func() (*ssh.Client, error) {
			return ssh.Dial("tcp", target, clientConfig(cfg.User))
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connect %s: %w", target, err)
		}
		return s, nil
	}

	proxyUser := cfg.ProxyUser
	if proxyUser == "" {
		proxyUser = cfg.User
	}
	proxyAddr := cfg.addr(cfg.ProxyHost)
	s.proxy, err = retry(ctx, cfg, log.With("proxy", proxyAddr), func() (*ssh.Client, error) {
		return ssh.Dial("tcp", proxyAddr, clientConfig(proxyUser))
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("connect proxy %s: %w", proxyAddr, err)
	}

	s.client, err = retry(ctx, cfg, log, func() (*ssh.Client, error) {
		conn, err := s.proxy.Dial("tcp", target)
		if err != nil {
			return nil, err
		}
		c, chans, reqs, err := ssh.NewClientConn(conn, target, clientConfig(cfg.User))
		if err != nil {
			conn.Close()
			return nil, err
		}
		return ssh.NewClient(c, chans, reqs), nil
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("connect %s via %s: %w", target, proxyAddr, err)
	}
	return s, nil
}

func retry(ctx context.Context, cfg SSHConfig, log *slog.Logger, dial func() (*ssh.Client, error)) (*ssh.Client, error) {
	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		c, err := dial()
		if err == nil {
			return c, nil
		}
		lastErr = err
		log.Debug("ssh connect failed", "attempt", i, "error", err)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.RetryDelay):
		}
	}
	return nil, lastErr
}

// authMethods prefers a running agent, then falls back to key files. The
// returned agent connection, if any, stays open for the life of the client.
func authMethods(keyPath string) ([]ssh.AuthMethod, net.Conn, error) {
	var (
		methods   []ssh.AuthMethod
		agentConn net.Conn
	)
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			agentConn = conn
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	fail := func(err error) ([]ssh.AuthMethod, net.Conn, error) {
		if agentConn != nil {
			agentConn.Close()
		}
		return nil, nil, err
	}

	paths := []string{keyPath}
	if keyPath == "" {
		home, _ := os.UserHomeDir()
		paths = []string{
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_ecdsa"),
			filepath.Join(home, ".ssh", "id_rsa"),
		}
	}
	var signers []ssh.Signer
	for _, p := range paths {
		pem, err := os.ReadFile(p)
		if err != nil {
			if keyPath != "" {
				return fail(fmt.Errorf("read ssh key: %w", err))
			}
			continue
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return fail(fmt.Errorf("parse ssh key %s: %w", p, err))
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	if len(methods) == 0 {
		return nil, nil, errors.New("no ssh agent or private key available")
	}
	return methods, agentConn, nil
}

// hostKeyCallback checks known_hosts. Hosts missing from it are accepted and
// logged; hosts whose key changed are rejected.
func hostKeyCallback(cfg SSHConfig, log *slog.Logger) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	var known ssh.HostKeyCallback
	if cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(cfg.KnownHostsPath)
		switch {
		case err == nil:
			known = cb
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if known != nil {
			err := known(hostname, remote, key)
			var keyErr *knownhosts.KeyError
			if err == nil || !errors.As(err, &keyErr) || len(keyErr.Want) > 0 {
				return err
			}
		}
		log.Warn("accepting unknown host key", "remote", hostname, "fingerprint", ssh.FingerprintSHA256(key))
		return nil
	}, nil
}

// Run implements Runner. Each call gets its own session and is bounded by
// the configured command timeout.
func (s *SSH) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	session, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	line := shellJoin(name, args)
	s.log.Debug("executing", "cmd", line)

	done := make(chan error, 1)
	go func() { done <- session.Run(line) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, fmt.Errorf("%s: %w", line, ctx.Err())
	case err := <-done:
		if err == nil {
			return stdout.Bytes(), nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), &CommandError{Command: line, ExitCode: exitErr.ExitStatus(), Stderr: stderr.String()}
		}
		return nil, fmt.Errorf("%s: %w", line, err)
	}
}

// Close tears down the target connection, then the jump host and the agent
// connection.
func (s *SSH) Close() error {
	var errs []error
	if s.client != nil {
		errs = append(errs, s.client.Close())
	}
	if s.proxy != nil {
		errs = append(errs, s.proxy.Close())
	}
	if s.agent != nil {
		errs = append(errs, s.agent.Close())
	}
	return errors.Join(errs...)
}
