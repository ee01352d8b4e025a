// Package sftp downloads source files from a remote directory over a single
// SSH session.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	pkgsftp "github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/sync/errgroup"

	"github.com/turbolytics/csvimport/internal"
)

var ErrNoFiles = errors.New("no files found")

const (
	DefaultPort          = 22
	DefaultExtension     = ".csv"
	DefaultExpectedFiles = 3
	DefaultConcurrency   = 4
	DefaultTimeout       = 5 * time.Minute
)

type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	Path       string
	KnownHosts string
}

func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Recorder receives run-level log lines.
type Recorder interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

// Dialer opens an SFTP client. Closing the returned closer tears down the
// client and its transport.
type Dialer func(ctx context.Context, cfg Config) (*pkgsftp.Client, io.Closer, error)

type Retriever struct {
	cfg         Config
	ext         string
	expected    int
	concurrency int
	timeout     time.Duration
	dial        Dialer
	logger      *zap.Logger
}

type Option func(*Retriever)

func WithExtension(ext string) Option {
	return func(r *Retriever) {
		r.ext = ext
	}
}

// WithExpectedFiles sets the file count below or above which a warning is
// logged. Zero disables the check.
func WithExpectedFiles(n int) Option {
	return func(r *Retriever) {
		r.expected = n
	}
}

func WithConcurrency(n int) Option {
	return func(r *Retriever) {
		r.concurrency = n
	}
}

func WithTimeout(d time.Duration) Option {
	return func(r *Retriever) {
		r.timeout = d
	}
}

func WithDialer(d Dialer) Option {
	return func(r *Retriever) {
		r.dial = d
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) {
		r.logger = l
	}
}

func New(cfg Config, opts ...Option) *Retriever {
	r := &Retriever{
		cfg:         cfg,
		ext:         DefaultExtension,
		expected:    DefaultExpectedFiles,
		concurrency: DefaultConcurrency,
		timeout:     DefaultTimeout,
		dial:        DialSSH,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve downloads every matching file in the configured remote directory
// into dst and returns the file names. On any failure no names are returned.
func (r *Retriever) Retrieve(ctx context.Context, dst internal.Repository, rec Recorder) ([]string, error) {
	rec.Infof("Downloading files from SFTP server %s...", r.cfg.Host)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	client, closer, err := r.dial(ctx, r.cfg)
	if err != nil {
		return nil, err
	}
	closeOnce := sync.OnceValue(closer.Close)
	defer closeOnce()

	// unblock in-flight transfers when the deadline passes
	stop := context.AfterFunc(ctx, func() {
		closeOnce()
	})
	defer stop()

	files, err := r.list(client)
	if err != nil {
		return nil, err
	}

	if r.expected > 0 && len(files) != r.expected {
		rec.Warnf("Expected exactly %d files, but found %d", r.expected, len(files))
	}
	rec.Infof("Found files: %v", files)

	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	// a failed download does not cancel its siblings
	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for _, name := range files {
		name := name
		g.Go(func() error {
			return r.download(ctx, client, name, dst)
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, err
	}

	rec.Infof("Successfully downloaded %d files", len(files))
	return files, nil
}

func (r *Retriever) list(client *pkgsftp.Client) ([]string, error) {
	dir := r.cfg.Path
	if dir == "" {
		dir = "."
	}

	info, err := client.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("change to %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("change to %s: not a directory", dir)
	}

	entries, err := client.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), r.ext) {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

func (r *Retriever) download(ctx context.Context, client *pkgsftp.Client, name string, dst internal.Repository) error {
	remote := path.Join(r.cfg.Path, name)

	f, err := client.Open(remote)
	if err != nil {
		return fmt.Errorf("open %s: %w", remote, err)
	}
	defer f.Close()

	start := time.Now()
	if err := dst.Write(ctx, name, f); err != nil {
		return fmt.Errorf("download %s: %w", remote, err)
	}

	r.logger.Debug("downloaded file",
		zap.String("remote", remote),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// DialSSH connects with password authentication. When cfg.KnownHosts is empty
// the server host key is not verified.
func DialSSH(ctx context.Context, cfg Config) (*pkgsftp.Client, io.Closer, error) {
	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKey = cb
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: hostKey,
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", cfg.Addr(), err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, cfg.Addr(), sshCfg)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("ssh handshake: %w", err)
	}
	conn.SetDeadline(time.Time{})
	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := pkgsftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, nil, fmt.Errorf("start sftp: %w", err)
	}

	return client, &session{client: client, ssh: sshClient}, nil
}

type session struct {
	client *pkgsftp.Client
	ssh    *ssh.Client
}

func (s *session) Close() error {
	err := s.client.Close()
	if sshErr := s.ssh.Close(); err == nil {
		err = sshErr
	}
	return err
}
