// Package shutdown 编排进程的分阶段停机
package shutdown

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SlpAus/trivia-rewards-backend/pkg/lifecycle"
)

// Timeouts 是各停机阶段的等待时间
type Timeouts struct {
	HTTP     time.Duration
	Graceful time.Duration
	Forceful time.Duration
}

// DefaultTimeouts 返回默认的停机超时
func DefaultTimeouts() Timeouts {
	return Timeouts{
		HTTP:     15 * time.Second,
		Graceful: 30 * time.Second,
		Forceful: time.Second,
	}
}

// Coordinator 负责编排停机流程：
// 先关闭HTTP服务器，再通知后台服务优雅退出，超时后发出强制信号，最后释放资源。
type Coordinator struct {
	graceful *lifecycle.Manager
	forceful *lifecycle.Manager
	timeouts Timeouts
	closers  []namedCloser
	log      *logrus.Entry
}

type namedCloser struct {
	name string
	fn   func() error
}

// NewCoordinator 创建停机协调器
func NewCoordinator(graceful, forceful *lifecycle.Manager, timeouts Timeouts, log *logrus.Entry) *Coordinator {
	return &Coordinator{
		graceful: graceful,
		forceful: forceful,
		timeouts: timeouts,
		log:      log,
	}
}

// AddCloser 注册一个在最后阶段执行的释放操作，按注册的逆序执行
func (c *Coordinator) AddCloser(name string, fn func() error) {
	c.closers = append(c.closers, namedCloser{name: name, fn: fn})
}

// ListenForSignalsAndShutdown 阻塞直到收到停机信号，然后执行停机流程
func (c *Coordinator) ListenForSignalsAndShutdown(server *http.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	c.log.WithField("signal", sig.String()).Info("收到关闭信号，开始优雅停机")
	c.Shutdown(server)
}

// Shutdown 执行停机流程
func (c *Coordinator) Shutdown(server *http.Server) {
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeouts.HTTP)
		if err := server.Shutdown(ctx); err != nil {
			c.log.WithError(err).Error("HTTP服务器关闭错误")
		} else {
			c.log.Info("HTTP服务器已关闭")
		}
		cancel()
	}

	// 阶段一: 优雅停机
	c.graceful.Shutdown()
	remaining := c.graceful.WaitWithTimeout(c.timeouts.Graceful)
	if len(remaining) > 0 {
		// 阶段二: 强制停机，不再等待未退出的服务
		c.log.WithField("remaining", remaining).Warn("第一阶段超时，发送强制停机信号")
		c.forceful.Shutdown()
		if stuck := c.forceful.WaitWithTimeout(c.timeouts.Forceful); len(stuck) > 0 {
			c.log.WithField("remaining", stuck).Error("部分服务未能退出")
		}
	} else {
		c.forceful.Shutdown()
	}

	for i := len(c.closers) - 1; i >= 0; i-- {
		closer := c.closers[i]
		if err := closer.fn(); err != nil {
			c.log.WithError(err).WithField("resource", closer.name).Error("释放资源失败")
		}
	}
	c.log.Info("优雅停机完成")
}
