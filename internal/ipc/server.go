package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"importq/internal/daemon"
	"importq/internal/logging"
	"importq/internal/queue"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldComponent, "ipc"))

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Importq", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("ipc server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed", logging.Error(err))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) QueueHealth(_ QueueHealthRequest, resp *QueueHealthResponse) error {
	health, err := s.daemon.QueueHealth(s.ctx)
	if err != nil {
		return err
	}
	resp.Health = health
	return nil
}

func (s *service) DatabaseHealth(_ DatabaseHealthRequest, resp *DatabaseHealthResponse) error {
	health, err := s.daemon.DatabaseHealth(s.ctx)
	if err != nil {
		return err
	}
	resp.Health = health
	return nil
}

func (s *service) QueueAdd(req QueueAddRequest, resp *QueueAddResponse) error {
	items, err := s.daemon.Queue().AddItems(s.ctx, req.Items)
	if err != nil {
		return err
	}
	resp.Items = items
	return nil
}

func (s *service) QueueList(req QueueListRequest, resp *QueueListResponse) error {
	statuses := make([]queue.Status, 0, len(req.Statuses))
	for _, raw := range req.Statuses {
		status, ok := queue.ParseStatus(raw)
		if !ok {
			return fmt.Errorf("unknown status %q", raw)
		}
		statuses = append(statuses, status)
	}
	items, err := s.daemon.Queue().List(s.ctx, statuses...)
	if err != nil {
		return err
	}
	resp.Items = items
	return nil
}

func (s *service) QueueDescribe(req QueueDescribeRequest, resp *QueueDescribeResponse) error {
	item, err := s.daemon.Queue().Describe(s.ctx, req.ID)
	if err != nil {
		return err
	}
	if item == nil {
		resp.Found = false
		return nil
	}
	resp.Found = true
	resp.Item = *item
	return nil
}

func (s *service) QueueStats(_ QueueStatsRequest, resp *QueueStatsResponse) error {
	counts, err := s.daemon.Queue().Stats(s.ctx)
	if err != nil {
		return err
	}
	resp.Counts = counts
	return nil
}

func (s *service) QueueCancel(req QueueCancelRequest, resp *QueueCancelResponse) error {
	result, err := s.daemon.Queue().CancelItem(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Result = result
	return nil
}

func (s *service) QueueCancelAll(_ QueueCancelAllRequest, resp *QueueCancelAllResponse) error {
	result, err := s.daemon.Queue().CancelAll(s.ctx)
	if err != nil {
		return err
	}
	resp.Result = result
	return nil
}

func (s *service) QueueRetry(req QueueRetryRequest, resp *QueueRetryResponse) error {
	result, err := s.daemon.Queue().RetryItems(s.ctx, req.IDs)
	if err != nil {
		return err
	}
	resp.Result = result
	return nil
}

func (s *service) QueueRemove(req QueueRemoveRequest, resp *QueueRemoveResponse) error {
	result, err := s.daemon.Queue().RemoveItems(s.ctx, req.IDs)
	if err != nil {
		return err
	}
	resp.Result = result
	return nil
}

func (s *service) QueueReorder(req QueueReorderRequest, resp *QueueReorderResponse) error {
	return s.daemon.Queue().ReorderItems(s.ctx, req.IDs)
}

func (s *service) QueueUpdate(req QueueUpdateRequest, resp *QueueUpdateResponse) error {
	item, err := s.daemon.Queue().UpdateItem(s.ctx, req.ID, req.Update)
	if err != nil {
		return err
	}
	resp.Item = *item
	return nil
}

func (s *service) QueueClearCompleted(_ QueueClearRequest, resp *QueueClearResponse) error {
	removed, err := s.daemon.Queue().ClearCompleted(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) QueueClearErrored(_ QueueClearRequest, resp *QueueClearResponse) error {
	removed, err := s.daemon.Queue().ClearErrored(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) Start(_ StartRequest, _ *StartResponse) error {
	return s.daemon.Queue().Start(s.ctx)
}

func (s *service) Pause(_ PauseRequest, _ *PauseResponse) error {
	return s.daemon.Queue().Pause()
}

func (s *service) Resume(_ ResumeRequest, _ *ResumeResponse) error {
	return s.daemon.Queue().Resume()
}

func (s *service) SetAutoStart(req SetAutoStartRequest, _ *SetAutoStartResponse) error {
	return s.daemon.Queue().SetAutoStart(req.Enabled)
}

func (s *service) Shutdown(_ ShutdownRequest, _ *ShutdownResponse) error {
	s.logger.Info("shutdown requested over ipc")
	s.daemon.Shutdown()
	return nil
}
