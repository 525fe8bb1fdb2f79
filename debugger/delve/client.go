package delve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"time"

	e "github.com/fansqz/go-debug-adapter/error"
	"github.com/sirupsen/logrus"
)

// Connection 与dlv headless服务之间的连接
type Connection interface {
	// Call 调用 RPCServer.<method>，reply必须是指针
	Call(ctx context.Context, method string, args, reply interface{}) error
	// IsAPIV1 连接时确定的api版本，结果结构依赖于该版本
	IsAPIV1() bool
	// Done 连接断开时关闭
	Done() <-chan struct{}
	Close() error
}

// Client dlv json-rpc客户端
// 请求与响应的对应关系由net/rpc根据请求id维护，允许并发调用
type Client struct {
	addr    string
	apiV1   bool
	rpc     *rpc.Client
	conn    *watchedConn
	closeMu sync.Mutex
	closed  bool
}

// Dial 连接dlv，apiVersion为1时使用v1协议，其余使用v2
func Dial(ctx context.Context, addr string, apiVersion int) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrBackendUnreachable, err)
	}
	logrus.Infof("[DelveClient] connected to %s, api version %d", addr, apiVersion)
	c := NewClient(conn, apiVersion)
	c.addr = addr
	return c, nil
}

// NewClient 使用已经建立的连接创建客户端
func NewClient(conn net.Conn, apiVersion int) *Client {
	w := &watchedConn{Conn: conn, done: make(chan struct{})}
	return &Client{
		addr:  conn.RemoteAddr().String(),
		apiV1: apiVersion == 1,
		rpc:   jsonrpc.NewClient(w),
		conn:  w,
	}
}

func (c *Client) IsAPIV1() bool {
	return c.apiV1
}

func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) Done() <-chan struct{} {
	return c.conn.done
}

// Call 同步调用，ctx取消时立即返回，迟到的响应由net/rpc丢弃
func (c *Client) Call(ctx context.Context, method string, args, reply interface{}) error {
	start := time.Now()
	call := c.rpc.Go("RPCServer."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		logrus.Debugf("[DelveClient] %s cost %v", method, time.Since(start))
		return c.translate(call.Error)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify 只发送请求，不等待响应
func (c *Client) Notify(method string, args interface{}) {
	c.rpc.Go("RPCServer."+method, args, nil, make(chan *rpc.Call, 1))
}

// translate dlv返回的错误原样透传，连接错误转为ErrBackendClosed
func (c *Client) translate(err error) error {
	if err == nil {
		return nil
	}
	var serverErr rpc.ServerError
	if errors.As(err, &serverErr) {
		return &BackendError{Message: string(serverErr)}
	}
	if errors.Is(err, rpc.ErrShutdown) || c.conn.isDone() {
		return fmt.Errorf("%w: %v", e.ErrBackendClosed, err)
	}
	return err
}

// Close 关闭连接，可以重复调用
func (c *Client) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	logrus.Infof("[DelveClient] close %s", c.addr)
	return c.rpc.Close()
}

// BackendError dlv返回的错误，Message为dlv的原始信息
type BackendError struct {
	Message string
}

func (b *BackendError) Error() string {
	return b.Message
}

// watchedConn 读失败时关闭done，用于感知连接断开
type watchedConn struct {
	net.Conn
	done chan struct{}
	once sync.Once
}

func (w *watchedConn) Read(p []byte) (int, error) {
	n, err := w.Conn.Read(p)
	if err != nil {
		w.once.Do(func() { close(w.done) })
	}
	return n, err
}

func (w *watchedConn) Close() error {
	w.once.Do(func() { close(w.done) })
	return w.Conn.Close()
}

func (w *watchedConn) isDone() bool {
	select {
	case <-w.done:
		return true
	default:
	}
	return false
}
