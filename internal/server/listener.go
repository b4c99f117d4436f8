package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// StatusServer 是一个已绑定端口、在后台运行的状态服务。
type StatusServer struct {
	app      *fiber.App
	listener net.Listener
	logger   *logrus.Logger
	done     chan error
}

// Start 同步绑定 addr（绑定失败立即返回），随后在后台提供服务。
func Start(app *fiber.App, addr string, logger *logrus.Logger) (*StatusServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	s := &StatusServer{app: app, listener: ln, logger: logger, done: make(chan error, 1)}
	go func() {
		s.done <- app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"addr":   ln.Addr().String(),
	}).Info("状态服务启动")
	return s, nil
}

// Addr 返回实际监听地址，addr 使用 :0 时可据此获取端口。
func (s *StatusServer) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown 在超时内优雅关闭服务。
func (s *StatusServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return err
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
