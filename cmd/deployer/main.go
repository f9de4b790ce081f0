package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	xerrors "contract-deployer/internal/errors"
)

// main 是部署工具的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Printf("deployer 运行失败: %v", err)
		stop()
		os.Exit(xerrors.ExitCode(err))
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "deployer",
		Usage: "按任务目录部署并校验合约",
		// 退出码由 main 按错误码决定。
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "JSON 配置文件路径",
				EnvVars: []string{"DEPLOYER_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "覆盖配置中的日志级别：debug、info、warn、error",
			},
		},
		Commands: []*cli.Command{
			runCommand,
			authorizerCommand,
			outputsCommand,
			tasksCommand,
			networksCommand,
			serveCommand,
		},
	}
}
