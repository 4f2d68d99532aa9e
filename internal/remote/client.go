package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// DefaultRunTimeout bounds commands whose caller passes no timeout.
const DefaultRunTimeout = 2 * time.Minute

// dialTimeout bounds a single TCP connect plus handshake attempt.
const dialTimeout = 10 * time.Second

// Config carries the connection parameters for one guest.
type Config struct {
	Host string
	User string
	Port int

	// KeyPath is the private key used for authentication; discovered
	// from ~/.ssh when empty.
	KeyPath string

	Logger *slog.Logger
}

// Client is the SSH-backed Session implementation. The connection is
// established lazily on first use and reused until Close.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	conn *ssh.Client
}

var _ Session = (*Client)(nil)

// NewClient prepares a session for one guest without connecting.
func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger}
}

// connect returns the cached connection, dialing first if needed.
func (c *Client) connect() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	keyPath := c.cfg.KeyPath
	if keyPath == "" {
		discovered, err := DiscoverKey()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuth, err)
		}
		keyPath = discovered
	}

	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read private key: %v", ErrAuth, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to parse private key %s: %v", ErrAuth, keyPath, err)
	}

	config := &ssh.ClientConfig{
		User: c.cfg.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		// Ephemeral guests regenerate host keys on every boot.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	conn, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, classifyDialError(addr, err)
	}

	c.logger.Debug("ssh connection established", "addr", addr, "user", c.cfg.User)
	c.conn = conn
	return conn, nil
}

// reset drops a cached connection so the next call redials.
func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Handshake dials and authenticates without running a command. It is
// the readiness probe polled while the guest boots.
func (c *Client) Handshake(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.connect()
	return err
}

// Run executes command in the guest, capturing stdout and stderr. The
// zero timeout means DefaultRunTimeout. On timeout the remote process
// is abandoned and the partial output is returned with ErrTimeout.
func (c *Client) Run(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	conn, err := c.connect()
	if err != nil {
		return Result{}, err
	}

	sess, err := conn.NewSession()
	if err != nil {
		c.reset()
		return Result{}, fmt.Errorf("%w: unable to open session: %v", ErrConnection, err)
	}
	defer closeAndLogErr(c.logger, sess.Close)

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-runCtx.Done():
		// Closing the session unblocks the goroutine; wait for it so
		// the output buffers are no longer written to.
		_ = sess.Close()
		<-done
		res := Result{ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String()}
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("remote command %q: %w", command, err)
		}
		return res, fmt.Errorf("%w: %q after %s", ErrTimeout, command, timeout)
	case err := <-done:
		res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return res, nil
		}

		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		var missingErr *ssh.ExitMissingError
		if errors.As(err, &missingErr) {
			c.reset()
			return res, fmt.Errorf("%w: remote command %q ended without exit status", ErrConnection, command)
		}
		return res, fmt.Errorf("%w: remote command %q: %v", ErrConnection, command, err)
	}
}

// Fetch copies a guest file to the host via SFTP, creating parent
// directories for localPath as needed.
func (c *Client) Fetch(ctx context.Context, remotePath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := c.sftp()
	if err != nil {
		return err
	}
	defer closeAndLogErr(c.logger, client.Close)

	src, err := client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("unable to open remote file %s: %w", remotePath, err)
	}
	defer closeAndLogErr(c.logger, src.Close)

	if dir := filepath.Dir(localPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("unable to create directory %s: %w", dir, err)
		}
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("unable to create %s: %w", localPath, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("unable to fetch %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("unable to write %s: %w", localPath, err)
	}
	return nil
}

// Push copies a host file into the guest via SFTP.
func (c *Client) Push(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := c.sftp()
	if err != nil {
		return err
	}
	defer closeAndLogErr(c.logger, client.Close)

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("unable to open %s: %w", localPath, err)
	}
	defer closeAndLogErr(c.logger, src.Close)

	dst, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("unable to create remote file %s: %w", remotePath, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("unable to push %s: %w", localPath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("unable to write remote file %s: %w", remotePath, err)
	}
	return nil
}

func (c *Client) sftp() (*sftp.Client, error) {
	conn, err := c.connect()
	if err != nil {
		return nil, err
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		c.reset()
		return nil, fmt.Errorf("%w: unable to open sftp channel: %v", ErrConnection, err)
	}
	return client, nil
}

// Close tears down the cached connection. Safe to call repeatedly and
// before any connection was made.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// classifyDialError separates credential rejection, which is fatal,
// from everything else, which the boot poll retries.
func classifyDialError(addr string, err error) error {
	if strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("%w: %s: %v", ErrAuth, addr, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrConnection, addr, err)
}

func closeAndLogErr(logger *slog.Logger, f func() error) {
	if err := f(); err != nil && !errors.Is(err, io.EOF) {
		logger.Debug("error closing remote resource", "err", err.Error())
	}
}
