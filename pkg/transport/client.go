package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/netchunk/netchunk/pkg/config"
	"github.com/netchunk/netchunk/pkg/errs"
)

// ftpClient wraps a single authenticated *ftp.ServerConn for one
// server, implementing the Client interface's primitives.
type ftpClient struct {
	conn     *ftp.ServerConn
	basePath string
	timeout  time.Duration
}

// DialFTP opens and authenticates a connection to srv. It is the
// Dialer used in production; fakeftp.Dial stands in for it in tests.
func DialFTP(ctx context.Context, srv config.ServerDescriptor, timeout time.Duration) (Client, error) {
	addr := fmt.Sprintf("%s:%d", srv.Host, srv.Port)

	opts := []ftp.DialOption{
		ftp.DialWithTimeout(timeout),
		ftp.DialWithContext(ctx),
		ftp.DialWithDisabledEPSV(!srv.PassiveMode),
	}
	if srv.UseTLS {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: srv.Host}))
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, classifyDialError(srv, err)
	}

	if err := conn.Login(srv.Username, srv.Password); err != nil {
		conn.Quit()
		return nil, errs.New(errs.Ftp, "login failed for server "+srv.ServerID, err).WithServer(srv.ServerID).WithRetryable(false)
	}

	return &ftpClient{conn: conn, basePath: srv.BasePath, timeout: timeout}, nil
}

func classifyDialError(srv config.ServerDescriptor, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "i/o timeout") {
		return errs.New(errs.Timeout, "connect timed out to server "+srv.ServerID, err).WithServer(srv.ServerID).WithRetryable(true)
	}
	if strings.Contains(msg, "no such host") || strings.Contains(msg, "lookup") {
		return errs.New(errs.Network, "name resolution failed for server "+srv.ServerID, err).WithServer(srv.ServerID).WithRetryable(true)
	}
	return errs.New(errs.Network, "connect failed to server "+srv.ServerID, err).WithServer(srv.ServerID).WithRetryable(true)
}

func (c *ftpClient) resolve(remotePath string) string {
	return JoinRemotePath(c.basePath, remotePath)
}

// Upload writes r to remotePath atomically: it stores under a .tmp
// name and renames into place only on full success, so a partial
// transfer never becomes a discoverable replica (spec.md §4.2).
func (c *ftpClient) Upload(ctx context.Context, remotePath string, r io.Reader, size int64, progress ProgressFunc) error {
	final := c.resolve(remotePath)
	tmp := final + ".tmp"

	if err := c.ensureParentDir(final); err != nil {
		return err
	}

	pr := &progressReader{r: r, progress: progress}
	if err := c.conn.Stor(tmp, pr); err != nil {
		return classifyTransferError(err, "upload to "+tmp)
	}
	if pr.cancelled {
		c.conn.Delete(tmp)
		return errs.New(errs.Cancelled, "upload cancelled by progress callback", nil)
	}

	if err := c.conn.Rename(tmp, final); err != nil {
		c.conn.Delete(tmp)
		return classifyTransferError(err, "rename "+tmp+" to "+final)
	}
	return nil
}

// ensureParentDir best-effort creates the directory component of
// path; MakeDir on an existing directory is tolerated.
func (c *ftpClient) ensureParentDir(path string) error {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return nil
	}
	dir := path[:idx]
	c.conn.MakeDir(dir) // ignore error: directory may already exist
	return nil
}

func (c *ftpClient) Download(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	resp, err := c.conn.Retr(c.resolve(remotePath))
	if err != nil {
		return nil, classifyTransferError(err, "download "+remotePath)
	}
	return resp, nil
}

func (c *ftpClient) Delete(ctx context.Context, remotePath string) error {
	if err := c.conn.Delete(c.resolve(remotePath)); err != nil {
		return classifyTransferError(err, "delete "+remotePath)
	}
	return nil
}

func (c *ftpClient) Exists(ctx context.Context, remotePath string) (bool, error) {
	_, err := c.Size(ctx, remotePath)
	if err == nil {
		return true, nil
	}
	if errs.Is(err, errs.FileNotFound) {
		return false, nil
	}
	return false, err
}

func (c *ftpClient) Size(ctx context.Context, remotePath string) (int64, error) {
	size, err := c.conn.FileSize(c.resolve(remotePath))
	if err != nil {
		if isNotFoundError(err) {
			return 0, errs.New(errs.FileNotFound, "remote file not found: "+remotePath, err)
		}
		return 0, classifyTransferError(err, "size "+remotePath)
	}
	return size, nil
}

func (c *ftpClient) Mkdir(ctx context.Context, remotePath string) error {
	if err := c.conn.MakeDir(c.resolve(remotePath)); err != nil {
		if isAlreadyExistsError(err) {
			return nil
		}
		return classifyTransferError(err, "mkdir "+remotePath)
	}
	return nil
}

func (c *ftpClient) List(ctx context.Context, remotePath string) ([]Entry, error) {
	entries, err := c.conn.List(c.resolve(remotePath))
	if err != nil {
		return nil, classifyTransferError(err, "list "+remotePath)
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, Entry{
			Name:  e.Name,
			Size:  int64(e.Size),
			IsDir: e.Type == ftp.EntryTypeFolder,
		})
	}
	return out, nil
}

func (c *ftpClient) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := c.conn.NoOp(); err != nil {
		return 0, errs.New(errs.ServerUnavailable, "ping failed", err).WithRetryable(true)
	}
	return time.Since(start), nil
}

func (c *ftpClient) Close() error {
	return c.conn.Quit()
}

func isNotFoundError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such file") || strings.Contains(msg, "not found") || strings.Contains(msg, "550")
}

func isAlreadyExistsError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "exists") || strings.Contains(msg, "550")
}

// classifyTransferError maps a jlaffaye/ftp error to the
// retryable/fatal taxonomy of spec.md §4.2: not-found and
// access-denied (including a 530 "not logged in" reply) are fatal;
// timeouts and everything else are retryable (Timeout or Ftp kind).
func classifyTransferError(err error, op string) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such file") || strings.Contains(msg, "550"):
		return errs.New(errs.FileNotFound, op+": not found", err)
	case strings.Contains(msg, "permission") || strings.Contains(msg, "530") || strings.Contains(msg, "access"):
		return errs.New(errs.FileAccess, op+": access denied", err)
	case strings.Contains(msg, "timeout"):
		return errs.New(errs.Timeout, op+": timed out", err).WithRetryable(true)
	default:
		return errs.New(errs.Ftp, op+": transport error", err).WithRetryable(true)
	}
}

// progressReader wraps an io.Reader, invoking progress after every
// Read and stopping the transfer cooperatively if it returns false.
type progressReader struct {
	r         io.Reader
	progress  ProgressFunc
	done      int64
	cancelled bool
}

func (p *progressReader) Read(buf []byte) (int, error) {
	if p.cancelled {
		return 0, io.EOF
	}
	n, err := p.r.Read(buf)
	if n > 0 {
		p.done += int64(n)
		if p.progress != nil && !p.progress(p.done) {
			p.cancelled = true
			return n, io.EOF
		}
	}
	return n, err
}
