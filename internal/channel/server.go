package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Server exposes a Handler on a unix socket.
type Server struct {
	path      string
	listener  net.Listener
	rpcServer *rpc.Server
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer listens on path, replacing a stale socket file. Requests run
// with a context derived from ctx.
func NewServer(ctx context.Context, path string, h Handler, logger *zap.Logger) (*Server, error) {
	if h == nil {
		return nil, errors.New("channel server requires a handler")
	}
	logger = logger.Named("channel")

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, &service{handler: h, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		_ = listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}
	return &Server{
		path:      path,
		listener:  listener,
		rpcServer: rpcServer,
		logger:    logger,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Serve accepts connections in the background until Close.
func (s *Server) Serve() {
	s.logger.Info("Channel listening.", zap.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("Accept failed.", zap.Error(err))
				continue
			}
			s.track(conn, true)
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.track(c, false)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

// Close cancels in-flight requests, drops open connections, waits for the
// connection goroutines and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	_ = s.listener.Close()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("Failed to remove socket.", zap.String("socket", s.path), zap.Error(err))
	}
}

type service struct {
	handler Handler
	logger  *zap.Logger
	ctx     context.Context
}

func (s *service) Ping(_ PingRequest, resp *PingResponse) error {
	resp.Status = StatusReady
	return nil
}

func (s *service) FillForm(req FillFormRequest, resp *FillFormResponse) error {
	s.logger.Info("Fill requested.", zap.String("code", req.Data.Code), zap.Int("index", req.EntryIndex))
	if err := s.handler.FillForm(s.ctx, req.Data, req.EntryIndex); err != nil {
		resp.Status = StatusError
		resp.Error = err.Error()
		return nil
	}
	resp.Status = StatusCompleted
	return nil
}

func (s *service) ClickAddEntry(_ ClickAddEntryRequest, resp *ClickAddEntryResponse) error {
	if err := s.handler.ClickAddEntry(s.ctx); err != nil {
		return err
	}
	resp.Status = StatusClicked
	return nil
}

func (s *service) CheckPage(_ CheckPageRequest, resp *CheckPageResponse) error {
	kind, err := s.handler.CheckPage(s.ctx)
	if err != nil {
		return err
	}
	resp.PageType = kind.String()
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	if err := s.handler.Stop(s.ctx); err != nil {
		return err
	}
	resp.Status = StatusStopped
	return nil
}
