package main

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"

	"github.com/fansqz/go-debug-adapter/debugger"
	"github.com/fansqz/go-debug-adapter/utils/gosync"
	"github.com/sirupsen/logrus"
)

// server 每个客户端连接对应一个调试会话
type server struct {
	opts     *debugger.Options
	listener net.Listener
	wg       sync.WaitGroup
}

func newServer(opts *debugger.Options) *server {
	return &server{opts: opts}
}

// listen 监听tcp端口，ctx取消后停止接收新连接并等待已有会话结束
func (s *server) listen(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	// 编辑器通过这一行得知适配器已经可以连接
	logrus.Infof("[Server] DAP server listening at: %s", listener.Addr())
	os.Stdout.WriteString("DAP server listening at: " + listener.Addr().String() + "\n")

	gosync.Go(ctx, func(ctx context.Context) {
		<-ctx.Done()
		_ = listener.Close()
	})

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			logrus.Warnf("[Server] accept fail, err = %v", err)
			continue
		}
		logrus.Infof("[Server] connection from %s", conn.RemoteAddr())
		s.wg.Add(1)
		gosync.Go(ctx, func(ctx context.Context) {
			defer s.wg.Done()
			s.serve(conn)
		})
	}
	s.wg.Wait()
	return nil
}

// serveStdio 使用stdin、stdout与编辑器通信，只有一个会话
func (s *server) serveStdio() error {
	s.serve(&stdio{Reader: os.Stdin, Writer: os.Stdout})
	return nil
}

func (s *server) serve(conn io.ReadWriteCloser) {
	defer conn.Close()
	session := debugger.NewDebugSession(conn, s.opts)
	if err := session.Serve(); err != nil {
		logrus.Warnf("[Server] session end, err = %v", err)
	}
}

type stdio struct {
	io.Reader
	io.Writer
}

func (s *stdio) Close() error {
	return nil
}
