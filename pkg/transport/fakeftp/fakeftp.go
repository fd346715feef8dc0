// Package fakeftp provides an in-memory stand-in for a server's FTP
// endpoint, used to exercise pkg/transport, pkg/orchestrator, and
// pkg/repair deterministically without a real FTP daemon.
//
// Grounded on the teacher's pkg/content/provider.go MockDHT
// (NewMockDHT/Put/Get/Clear/Size): a mutex-guarded in-memory map
// standing in for a real backend, generalized from DHT key/value pairs
// to named chunk/manifest blobs plus simulated reachability and
// latency.
package fakeftp

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/netchunk/netchunk/pkg/config"
	"github.com/netchunk/netchunk/pkg/errs"
	"github.com/netchunk/netchunk/pkg/transport"
)

// Server is a shared in-memory backing store for one fake FTP
// endpoint. Multiple fakeftp.Client instances dialed against the same
// Server see the same files, modeling one real remote host.
type Server struct {
	mu        sync.Mutex
	files     map[string][]byte
	reachable bool
	latency   time.Duration
}

// NewServer returns a reachable, zero-latency fake server.
func NewServer() *Server {
	return &Server{files: make(map[string][]byte), reachable: true}
}

// SetReachable flips simulated availability; used by tests modeling
// S2/S4-style "kill server N" scenarios.
func (s *Server) SetReachable(reachable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reachable = reachable
}

// SetLatency sets the artificial ping delay returned by Client.Ping.
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// Corrupt flips one byte of the stored file at path, if present.
// Used to model S3's "corrupt one replica" scenario.
func (s *Server) Corrupt(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok || len(data) == 0 {
		return false
	}
	data[0] ^= 0xFF
	return true
}

// Dial returns a transport.Dialer bound to srv, a drop-in for
// transport.DialFTP in tests. The server descriptor's base_path is
// honored exactly as the real client would.
func Dial(server *Server) func(ctx context.Context, srv config.ServerDescriptor) (transport.Client, error) {
	return func(ctx context.Context, srv config.ServerDescriptor) (transport.Client, error) {
		server.mu.Lock()
		reachable := server.reachable
		server.mu.Unlock()
		if !reachable {
			return nil, errs.New(errs.ServerUnavailable, "fake server unreachable: "+srv.ServerID, nil).WithServer(srv.ServerID).WithRetryable(true)
		}
		return &client{server: server, basePath: srv.BasePath, serverID: srv.ServerID}, nil
	}
}

type client struct {
	server   *Server
	basePath string
	serverID string
}

func (c *client) resolve(remotePath string) string {
	return transport.JoinRemotePath(c.basePath, remotePath)
}

func (c *client) checkReachable() error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if !c.server.reachable {
		return errs.New(errs.ServerUnavailable, "fake server unreachable: "+c.serverID, nil).WithServer(c.serverID).WithRetryable(true)
	}
	return nil
}

func (c *client) Upload(ctx context.Context, remotePath string, r io.Reader, size int64, progress transport.ProgressFunc) error {
	if err := c.checkReachable(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return errs.New(errs.Io, "fake upload read failed", err)
	}
	if progress != nil {
		progress(int64(len(data)))
	}

	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.server.files[c.resolve(remotePath)] = data
	return nil
}

func (c *client) Download(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	if err := c.checkReachable(); err != nil {
		return nil, err
	}

	c.server.mu.Lock()
	data, ok := c.server.files[c.resolve(remotePath)]
	c.server.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.FileNotFound, "fake file not found: "+remotePath, nil)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return io.NopCloser(bytes.NewReader(cp)), nil
}

func (c *client) Delete(ctx context.Context, remotePath string) error {
	if err := c.checkReachable(); err != nil {
		return err
	}
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	delete(c.server.files, c.resolve(remotePath))
	return nil
}

func (c *client) Exists(ctx context.Context, remotePath string) (bool, error) {
	if err := c.checkReachable(); err != nil {
		return false, err
	}
	c.server.mu.Lock()
	_, ok := c.server.files[c.resolve(remotePath)]
	c.server.mu.Unlock()
	return ok, nil
}

func (c *client) Size(ctx context.Context, remotePath string) (int64, error) {
	if err := c.checkReachable(); err != nil {
		return 0, err
	}
	c.server.mu.Lock()
	data, ok := c.server.files[c.resolve(remotePath)]
	c.server.mu.Unlock()
	if !ok {
		return 0, errs.New(errs.FileNotFound, "fake file not found: "+remotePath, nil)
	}
	return int64(len(data)), nil
}

func (c *client) Mkdir(ctx context.Context, remotePath string) error {
	return c.checkReachable()
}

func (c *client) List(ctx context.Context, remotePath string) ([]transport.Entry, error) {
	if err := c.checkReachable(); err != nil {
		return nil, err
	}
	prefix := c.resolve(remotePath)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	c.server.mu.Lock()
	defer c.server.mu.Unlock()

	var out []transport.Entry
	for path, data := range c.server.files {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(path, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		out = append(out, transport.Entry{Name: rest, Size: int64(len(data))})
	}
	return out, nil
}

func (c *client) Ping(ctx context.Context) (time.Duration, error) {
	if err := c.checkReachable(); err != nil {
		return 0, err
	}
	c.server.mu.Lock()
	latency := c.server.latency
	c.server.mu.Unlock()
	return latency, nil
}

func (c *client) Close() error {
	return nil
}
