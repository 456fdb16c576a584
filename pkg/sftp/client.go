// Package sftp moves clearing files to and from the banks' SFTP drop boxes.
package sftp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	gosftp "github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/angelmondragon/giroflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
)

// File describes a remote directory entry.
type File struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Transfer is the file exchange surface the provider engines depend on.
type Transfer interface {
	List(ctx context.Context, dir string) ([]File, error)
	Read(ctx context.Context, filePath string) ([]byte, error)
	Write(ctx context.Context, filePath string, content []byte) error
}

// Client opens one SSH session per operation; bank endpoints drop idle sessions.
type Client struct {
	addr   string
	ssh    *ssh.ClientConfig
	logg   *logger.Logger
	dialer net.Dialer
}

// New validates the endpoint config and loads the private key.
func New(cfg config.SFTPConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Host) == "" || strings.TrimSpace(cfg.User) == "" {
		return nil, fmt.Errorf("sftp host and user are required")
	}
	keyBytes, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read sftp private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse sftp private key: %w", err)
	}
	hostKey, err := parseHostKey(cfg.HostKey)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	port := cfg.Port
	if port == 0 {
		port = 22
	}
	return &Client{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		ssh: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: ssh.FixedHostKey(hostKey),
			Timeout:         timeout,
		},
		logg:   logg,
		dialer: net.Dialer{Timeout: timeout},
	}, nil
}

func parseHostKey(line string) (ssh.PublicKey, error) {
	if strings.TrimSpace(line) == "" {
		return nil, fmt.Errorf("sftp host key is required")
	}
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		return nil, fmt.Errorf("parse sftp host key: %w", err)
	}
	return key, nil
}

func (c *Client) session(ctx context.Context, fn func(*gosftp.Client) error) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dial sftp")
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, c.addr, c.ssh)
	if err != nil {
		_ = conn.Close()
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ssh handshake")
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)
	defer func() { _ = sshClient.Close() }()

	client, err := gosftp.NewClient(sshClient)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open sftp subsystem")
	}
	defer func() { _ = client.Close() }()

	done := make(chan error, 1)
	go func() { done <- fn(client) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = sshClient.Close()
		return ctx.Err()
	}
}

func (c *Client) List(ctx context.Context, dir string) ([]File, error) {
	var files []File
	err := c.session(ctx, func(client *gosftp.Client) error {
		entries, err := client.ReadDir(dir)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("list %s", dir))
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			files = append(files, File{Name: e.Name(), Size: e.Size(), ModTime: e.ModTime()})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortFiles(files)
	return files, nil
}

func (c *Client) Read(ctx context.Context, filePath string) ([]byte, error) {
	var buf bytes.Buffer
	err := c.session(ctx, func(client *gosftp.Client) error {
		f, err := client.Open(filePath)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("open %s", filePath))
		}
		defer func() { _ = f.Close() }()
		if _, err := io.Copy(&buf, f); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("read %s", filePath))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Client) Write(ctx context.Context, filePath string, content []byte) error {
	err := c.session(ctx, func(client *gosftp.Client) error {
		f, err := client.Create(filePath)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("create %s", filePath))
		}
		if _, err := f.Write(content); err != nil {
			_ = f.Close()
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("write %s", filePath))
		}
		return f.Close()
	})
	if err == nil && c.logg != nil {
		c.logg.Info(c.logg.WithFields(ctx, map[string]any{"path": filePath, "bytes": len(content)}), "sftp upload complete")
	}
	return err
}

func sortFiles(files []File) {
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
}

// Join builds a remote path with forward slashes.
func Join(dir, name string) string {
	return path.Join(dir, name)
}
