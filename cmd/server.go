package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"doc-qa/internal/router"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 HTTP 服务",
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler: router.SetupRouter(a.svcCtx),
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("服务启动在 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.Wrap(err, "启动服务失败")
		}
	case sig := <-quit:
		a.log.WithField("signal", sig.String()).Info("收到退出信号")
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Task.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		a.log.WithError(err).Warn("关闭 HTTP 服务超时")
	}
	// 等待后台任务写回结果，超时后取消
	if err := a.svcCtx.Dispatcher.Shutdown(ctx); err != nil {
		a.log.WithError(err).Warn("等待后台任务超时，已取消")
	}
	a.log.Info("服务已退出")
	return nil
}
