package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"contract-deployer/internal/api"
	"contract-deployer/internal/artifact"
	"contract-deployer/internal/auth"
	"contract-deployer/internal/authorizer"
	"contract-deployer/internal/config"
	"contract-deployer/internal/contract"
	"contract-deployer/internal/deployment"
	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/job"
	"contract-deployer/internal/observability/alerting"
	"contract-deployer/internal/observability/metrics"
	"contract-deployer/internal/signer"
	"contract-deployer/pkg/logger"
)

var networkFlag = &cli.StringFlag{
	Name:    "network",
	Aliases: []string{"n"},
	Usage:   "目标网络，为空时使用默认网络",
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "在指定网络上执行部署任务",
	ArgsUsage: "<task-id>",
	Flags: []cli.Flag{
		networkFlag,
		&cli.BoolFlag{Name: "force", Usage: "忽略已有部署记录重新部署"},
		&cli.StringFlag{Name: "from", Usage: "发送交易的账户地址"},
		&cli.StringFlag{Name: "mode", Usage: "运行模式：live、test、check、readonly"},
		&cli.StringFlag{Name: "metrics-addr", Usage: "执行期间在该地址暴露 /metrics"},
	},
	Action: func(c *cli.Context) error {
		taskID := strings.TrimSpace(c.Args().First())
		if taskID == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "缺少任务 ID")
		}
		a, err := bootstrap(c)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := c.Context
		if addr := c.String("metrics-addr"); addr != "" {
			var cancel context.CancelFunc
			ctx, cancel = context.WithCancel(ctx)
			defer cancel()
			go func() {
				if err := metrics.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
					logger.L().Warn("指标服务退出", slog.String("addr", addr), slog.Any("error", err))
				}
			}()
		}

		result, err := a.runner.Run(ctx, deployment.Request{
			TaskID:  taskID,
			Network: c.String("network"),
			Force:   c.Bool("force"),
			From:    c.String("from"),
		})
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, result)
	},
}

var authorizerCommand = &cli.Command{
	Name:  "authorizer",
	Usage: "部署 TimelockAuthorizer",
	Flags: []cli.Flag{
		networkFlag,
		&cli.StringFlag{Name: "admin", Usage: "管理员地址，可为多签等外部账户；默认为 --from 或默认签名账户"},
		&cli.StringFlag{Name: "from", Usage: "管理员候选，未指定 --admin 时使用，需已加载私钥"},
	},
	Action: func(c *cli.Context) error {
		a, err := bootstrap(c)
		if err != nil {
			return err
		}
		defer a.Close()

		client, err := a.networks.Resolve(c.Context, c.String("network"))
		if err != nil {
			return err
		}
		admin, err := lookupAdmin(c.Context, a.signers, c.String("admin"))
		if err != nil {
			return err
		}
		from, err := lookupSigner(c.Context, a.signers, c.String("from"))
		if err != nil {
			return err
		}

		contracts := contract.NewDeployer(client, artifact.NewDirectory(a.cfg.Runtime.ArtifactsDir), a.signers,
			contract.WithLogger(logger.Named("authorizer")))
		deployed, err := authorizer.NewDeployer(contracts, a.signers).Deploy(c.Context, authorizer.TimelockAuthorizerDeployment{
			Admin: admin,
			From:  from,
		})
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, map[string]string{
			"network": client.Name(),
			"address": deployed.Instance().Address().Hex(),
			"admin":   deployed.Admin().Address().Hex(),
		})
	},
}

var outputsCommand = &cli.Command{
	Name:  "outputs",
	Usage: "列出已记录的部署地址",
	Flags: []cli.Flag{
		networkFlag,
		&cli.StringFlag{Name: "task", Usage: "按任务 ID 过滤"},
	},
	Action: func(c *cli.Context) error {
		a, err := bootstrap(c)
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.outputs.List(c.Context, c.String("task"), c.String("network"))
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, records)
	},
}

var tasksCommand = &cli.Command{
	Name:  "tasks",
	Usage: "列出已注册的部署任务",
	Action: func(c *cli.Context) error {
		registry, err := newTaskRegistry()
		if err != nil {
			return err
		}
		for _, def := range registry.List() {
			fmt.Fprintf(c.App.Writer, "%s\t%s\n", def.ID, def.Description)
		}
		return nil
	},
}

var networksCommand = &cli.Command{
	Name:  "networks",
	Usage: "列出配置的网络",
	Action: func(c *cli.Context) error {
		a, err := bootstrap(c)
		if err != nil {
			return err
		}
		defer a.Close()

		for _, name := range a.networks.Chains() {
			marker := ""
			if name == a.networks.DefaultChain() {
				marker = "*"
			}
			fmt.Fprintf(c.App.Writer, "%s%s\n", name, marker)
		}
		return nil
	},
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "启动 HTTP API 与部署作业处理器",
	Flags: []cli.Flag{
		&cli.DurationFlag{Name: "recover-after", Value: 15 * time.Minute, Usage: "启动时重新排队停留在 running 超过该时长的作业，0 表示不恢复"},
	},
	Action: func(c *cli.Context) error {
		a, err := bootstrap(c)
		if err != nil {
			return err
		}
		defer a.Close()

		store, err := a.openJobStore(c.Context)
		if err != nil {
			return err
		}
		a.onClose(store.Close)

		queue, err := a.openQueue(c.Context)
		if err != nil {
			return err
		}
		a.onClose(queue.Close)

		service := job.NewService(store, queue, a.cfg.Storage.Jobs.Retries, job.WithCatalog(a.registry))
		processor := job.NewProcessor(job.NewRunnerExecutor(a.runner), store, queue, queue,
			job.WithWorkerCount(a.cfg.Queue.Worker),
			job.WithAlertDispatcher(a.alerts()),
		)

		if after := c.Duration("recover-after"); after > 0 {
			recovered, err := service.RecoverStale(c.Context, after)
			if err != nil {
				return err
			}
			if recovered > 0 {
				logger.L().Warn("已恢复中断的作业", slog.Int("count", recovered))
			}
		}

		go func() {
			if err := processor.Start(c.Context); err != nil && !errors.Is(err, c.Context.Err()) {
				logger.L().Error("作业处理器异常退出", slog.Any("error", err))
			}
		}()

		authService, err := newAuthService(a.cfg.Auth)
		if err != nil {
			return err
		}
		server := api.NewServer(a.cfg.Server.Address, service, a.outputs, a.registry, api.WithAuth(authService))
		if err := server.Start(c.Context); err != nil && !errors.Is(err, c.Context.Err()) {
			return err
		}
		return nil
	},
}

func lookupSigner(ctx context.Context, signers signer.Provider, raw string) (*signer.Signer, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	address, err := signer.ToAddress(raw)
	if err != nil {
		return nil, err
	}
	return signer.Lookup(ctx, signers, address)
}

// lookupAdmin 优先使用已加载的签名账户，找不到私钥时按外部地址处理。
func lookupAdmin(ctx context.Context, signers signer.Provider, raw string) (*signer.Signer, error) {
	admin, err := lookupSigner(ctx, signers, raw)
	if !xerrors.HasCode(err, xerrors.CodeSignerResolutionFailure) {
		return admin, err
	}
	address, addrErr := signer.ToAddress(raw)
	if addrErr != nil {
		return nil, addrErr
	}
	return signer.FromAddress(address, "admin"), nil
}

func (a *application) alerts() alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if url := strings.TrimSpace(a.cfg.Alerting.WebhookURL); url != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    url,
			Client: &http.Client{Timeout: 5 * time.Second},
		})
	}
	return alerting.NewFanout(notifiers...)
}

func newAuthService(cfg config.AuthConfig) (*auth.Service, error) {
	credentials := make([]auth.Credential, 0, len(cfg.Tokens)+1)
	if cfg.AdminToken != "" {
		credentials = append(credentials, auth.Credential{Name: "admin", Token: cfg.AdminToken, Permissions: auth.AllPermissions()})
	}
	for _, token := range cfg.Tokens {
		credentials = append(credentials, auth.Credential{
			Name:        token.Name,
			TokenHash:   token.TokenHash,
			Permissions: token.Permissions,
			Disabled:    token.Disabled,
		})
	}
	return auth.NewService(auth.Config{Mode: auth.Mode(cfg.Mode), Credentials: credentials})
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "输出结果失败")
	}
	return nil
}
