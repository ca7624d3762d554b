package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// miniFTPServer speaks enough FTP for login, NLST and RETR.
type miniFTPServer struct {
	listener net.Listener
	files    map[string]string // path -> content
	wg       sync.WaitGroup
}

func newMiniFTPServer(t *testing.T, files map[string]string) *miniFTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &miniFTPServer{listener: ln, files: files}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.close)
	return s
}

func (s *miniFTPServer) addr() string {
	return s.listener.Addr().String()
}

func (s *miniFTPServer) close() {
	s.listener.Close() //nolint:errcheck
	s.wg.Wait()
}

func (s *miniFTPServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *miniFTPServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close() //nolint:errcheck

	conn.SetDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck

	w := bufio.NewWriter(conn)
	r := bufio.NewReader(conn)
	reply := func(format string, args ...any) {
		fmt.Fprintf(w, format+"\r\n", args...) //nolint:errcheck
		w.Flush()                              //nolint:errcheck
	}

	reply("220 Mini FTP Server ready")

	var dataListener net.Listener
	sendData := func(content string) {
		if dataListener == nil {
			reply("425 Use PASV first")
			return
		}
		reply("150 Opening data connection")
		dataConn, err := dataListener.Accept()
		if err != nil {
			reply("425 Can't open data connection")
			return
		}
		io.WriteString(dataConn, content) //nolint:errcheck
		dataConn.Close()                  //nolint:errcheck
		dataListener.Close()              //nolint:errcheck
		dataListener = nil
		reply("226 Transfer complete")
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		parts := strings.SplitN(strings.TrimSpace(line), " ", 2)
		cmd := strings.ToUpper(parts[0])
		arg := ""
		if len(parts) > 1 {
			arg = parts[1]
		}

		switch cmd {
		case "USER", "PASS":
			reply("230 User logged in")
		case "FEAT":
			fmt.Fprintf(w, "211-Features:\r\n UTF8\r\n") //nolint:errcheck
			reply("211 End")
		case "TYPE":
			reply("200 Type set to %s", arg)
		case "OPTS":
			reply("200 OK")
		case "EPSV":
			dataListener, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 Can't open data connection")
				continue
			}
			reply("229 Entering Extended Passive Mode (|||%d|)", dataListener.Addr().(*net.TCPAddr).Port)
		case "NLST":
			dir := strings.TrimSuffix(arg, "/") + "/"
			var names []string
			for p := range s.files {
				if strings.HasPrefix(p, dir) && !strings.Contains(strings.TrimPrefix(p, dir), "/") {
					names = append(names, p)
				}
			}
			sort.Strings(names)
			var b strings.Builder
			for _, n := range names {
				b.WriteString(n + "\r\n")
			}
			sendData(b.String())
		case "RETR":
			content, ok := s.files[arg]
			if !ok {
				reply("550 File not found")
				if dataListener != nil {
					dataListener.Close() //nolint:errcheck
					dataListener = nil
				}
				continue
			}
			sendData(content)
		case "QUIT":
			reply("221 Goodbye")
			return
		default:
			reply("502 Command not implemented")
		}
	}
}

func TestFTP_ListAndOpen(t *testing.T) {
	srv := newMiniFTPServer(t, map[string]string{
		"/sales/b.csv":        "x\n2\n",
		"/sales/a.csv":        "x\n1\n",
		"/sales/readme.txt":   "hello",
		"/sales/old/c.csv":    "x\n3\n",
		"/elsewhere/skip.csv": "x\n4\n",
	})

	src := NewFTP(FTPConfig{Addr: srv.addr(), Dir: "/sales", Timeout: 5 * time.Second})
	ctx := context.Background()

	objs, err := src.List(ctx)
	require.NoError(t, err)
	var names []string
	for _, o := range objs {
		names = append(names, o.Name)
	}
	assert.Equal(t, []string{"a.csv", "b.csv", "readme.txt"}, names)

	rc, err := src.Open(ctx, "b.csv")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "x\n2\n", string(data))
}

func TestFTP_OpenMissing(t *testing.T) {
	srv := newMiniFTPServer(t, map[string]string{})

	src := NewFTP(FTPConfig{Addr: srv.addr(), Dir: "/sales", Timeout: 5 * time.Second})
	_, err := src.Open(context.Background(), "nope.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp retrieve nope.csv")
}

func TestFTP_DialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close() //nolint:errcheck

	src := NewFTP(FTPConfig{Addr: addr, Timeout: time.Second})
	_, err = src.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp dial")
}

func TestNewFTP_Defaults(t *testing.T) {
	src := NewFTP(FTPConfig{Addr: "ftp.example.com"})
	assert.Equal(t, "ftp.example.com:21", src.cfg.Addr)
	assert.Equal(t, "anonymous", src.cfg.User)
	assert.Equal(t, "/", src.cfg.Dir)
	assert.Equal(t, 30*time.Second, src.cfg.Timeout)

	src = NewFTP(FTPConfig{Addr: "127.0.0.1:2121", User: "u", Password: "p"})
	assert.Equal(t, "127.0.0.1:2121", src.cfg.Addr)
	assert.Equal(t, "u", src.cfg.User)
}
