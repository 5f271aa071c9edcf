package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/paulodamaso/artipie-npm-adapter/internal/config"
	"github.com/paulodamaso/artipie-npm-adapter/internal/logging"
	"github.com/paulodamaso/artipie-npm-adapter/internal/npmproxy"
	"github.com/paulodamaso/artipie-npm-adapter/internal/remote"
	"github.com/paulodamaso/artipie-npm-adapter/internal/server"
	"github.com/paulodamaso/artipie-npm-adapter/internal/storage"
	"github.com/paulodamaso/artipie-npm-adapter/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "load config failed: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "init logger failed: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["upstream"] = cfg.Upstream
		fields["storage_path"] = cfg.StoragePath
		fields["result"] = "ok"
		logger.WithFields(fields).Info("config check passed")
		return 0
	}

	// 启动遵循“配置 → 磁盘缓存 → 上游客户端 → 核心 → Fiber server”顺序，
	// 所有请求共享同一份存储与上游连接池。
	store, err := storage.NewStore(cfg.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "init storage failed: %v\n", err)
		return 1
	}

	client, err := remote.New(cfg.Upstream, cfg.UpstreamTimeout.DurationValue(), logger)
	if err != nil {
		fmt.Fprintf(stdErr, "init upstream client failed: %v\n", err)
		return 1
	}

	mirror := npmproxy.New(store, client, logger)
	// 核心独占上游客户端，任何退出路径都必须释放一次。
	defer func() {
		if closeErr := mirror.Close(); closeErr != nil {
			logger.WithField("action", "shutdown").Warn(closeErr.Error())
		}
	}()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["upstream"] = cfg.Upstream
	fields["storage_path"] = cfg.StoragePath
	fields["listen_port"] = cfg.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("config loaded")

	if err := startHTTPServer(cfg, mirror, logger); err != nil {
		fmt.Fprintf(stdErr, "http server failed: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("npm-mirror", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "config file path (default ./config.toml, NPM_MIRROR_CONFIG overrides)")
	fs.BoolVar(&checkOnly, "check-config", false, "validate config and exit")
	fs.BoolVar(&showVer, "version", false, "print version information")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("parse flags: %w", err)
	}

	path := os.Getenv("NPM_MIRROR_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, mirror *npmproxy.Proxy, logger *logrus.Logger) error {
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Mirror:     mirror,
		ListenPort: cfg.ListenPort,
	})
	if err != nil {
		return err
	}

	// SIGINT/SIGTERM 时先排空在途请求，再由 run 的 defer 释放上游客户端。
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-stop
		logger.WithFields(logrus.Fields{
			"action": "shutdown",
			"signal": sig.String(),
		}).Info("draining requests")
		if shutdownErr := app.Shutdown(); shutdownErr != nil {
			logger.WithField("action", "shutdown").Warn(shutdownErr.Error())
		}
	}()
	defer signal.Stop(stop)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   cfg.ListenPort,
	}).Info("fiber server starting")

	return app.Listen(fmt.Sprintf(":%d", cfg.ListenPort))
}
