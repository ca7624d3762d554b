package source

import (
	"context"
	"io"
	"net"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPConfig locates a directory on an FTP server. Empty credentials log in
// anonymously.
type FTPConfig struct {
	Addr     string
	User     string
	Password string
	Dir      string
	Timeout  time.Duration
}

// FTP lists and retrieves files from one FTP directory. Each call opens its
// own control connection.
type FTP struct {
	cfg FTPConfig
}

// NewFTP creates an FTP source. Addr without a port defaults to 21.
func NewFTP(cfg FTPConfig) *FTP {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.User == "" {
		cfg.User, cfg.Password = "anonymous", "anonymous@"
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil && cfg.Addr != "" {
		cfg.Addr = net.JoinHostPort(cfg.Addr, "21")
	}
	if cfg.Dir == "" {
		cfg.Dir = "/"
	}
	return &FTP{cfg: cfg}
}

func (f *FTP) dial(ctx context.Context) (*ftp.ServerConn, error) {
	zap.L().Debug("ftp: connecting", zap.String("addr", f.cfg.Addr), zap.String("dir", f.cfg.Dir))

	conn, err := ftp.Dial(f.cfg.Addr, ftp.DialWithTimeout(f.cfg.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "source: ftp dial %s", f.cfg.Addr)
	}
	if err := conn.Login(f.cfg.User, f.cfg.Password); err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrap(err, "source: ftp login")
	}
	return conn, nil
}

func (f *FTP) List(ctx context.Context) ([]Object, error) {
	conn, err := f.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit() //nolint:errcheck

	names, err := conn.NameList(f.cfg.Dir)
	if err != nil {
		return nil, eris.Wrapf(err, "source: ftp list %s", f.cfg.Dir)
	}

	objs := make([]Object, 0, len(names))
	for _, n := range names {
		base := path.Base(n)
		if base == "." || base == ".." || base == "/" {
			continue
		}
		objs = append(objs, Object{Name: base})
	}
	sortObjects(objs)
	return objs, nil
}

// ftpConnReader closes the transfer and the control connection together.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "source: close ftp response")
	}
	return eris.Wrap(quitErr, "source: quit ftp connection")
}

func (f *FTP) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	conn, err := f.dial(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := conn.Retr(path.Join(f.cfg.Dir, name))
	if err != nil {
		conn.Quit() //nolint:errcheck
		return nil, eris.Wrapf(err, "source: ftp retrieve %s", name)
	}
	return &ftpConnReader{resp: resp, conn: conn}, nil
}
