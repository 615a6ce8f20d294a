package cmd

import (
	"fmt"
	"os"

	"doc-qa/internal/config"
	"doc-qa/internal/db"
	"doc-qa/internal/logger"
	"doc-qa/internal/paths"
	"doc-qa/internal/service"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "doc-qa",
	Short: "基于上传文档的问答任务服务",
	// 不带子命令时直接启动服务
	RunE:          runServer,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "配置文件路径")
}

// Execute 命令行入口
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.Config
	log    *logrus.Logger
	svcCtx *service.ServiceContext
}

// bootstrap 加载配置、初始化日志与数据库并组装服务
func bootstrap() (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "加载配置失败")
	}

	log := logger.New(cfg.Log)
	resolver := paths.NewResolver(cfg.Data.Dir)

	conn, err := db.Open(cfg, resolver, log)
	if err != nil {
		return nil, errors.Wrap(err, "初始化数据库失败")
	}

	svcCtx, err := service.NewServiceContext(cfg, conn, resolver, log)
	if err != nil {
		return nil, errors.Wrap(err, "初始化服务失败")
	}
	return &app{cfg: cfg, log: log, svcCtx: svcCtx}, nil
}

func (a *app) close() {
	if sqlDB, err := a.svcCtx.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
