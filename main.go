package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/pixcache/internal/cache"
	"github.com/any-hub/pixcache/internal/config"
	"github.com/any-hub/pixcache/internal/decode"
	"github.com/any-hub/pixcache/internal/engine"
	"github.com/any-hub/pixcache/internal/fetcher"
	"github.com/any-hub/pixcache/internal/logging"
	"github.com/any-hub/pixcache/internal/server"
	"github.com/any-hub/pixcache/internal/server/routes"
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
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	defaults, err := engineDefaults(cfg.Defaults)
	if err != nil {
		fmt.Fprintf(stdErr, "读取占位图失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["storage_path"] = cfg.Global.StoragePath
		fields["max_cache_size"] = cfg.Global.MaxCacheSize.String()
		fields["auth_mode"] = cfg.Defaults.AuthMode()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 磁盘缓存 → 淘汰任务 → 回源/解码 → 引擎 → Fiber server，
	// 所有请求共享同一个缓存目录与在途任务表。
	store, err := cache.NewStore(cfg.Global.StoragePath, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	eng, err := engine.New(engine.Options{
		Store:    store,
		Fetcher:  fetcher.NewFromConfig(cfg, logger),
		Decoder:  decode.HeaderDecoder{},
		Logger:   logger,
		Defaults: defaults,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化引擎失败: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	janitor := cache.NewJanitor(store, cfg.Global.MaxCacheSize.Bytes(), cfg.Global.EvictInterval.DurationValue(), logger)
	go janitor.Run(ctx)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = cfg.Global.StoragePath
	fields["max_cache_size"] = cfg.Global.MaxCacheSize.String()
	fields["auth_mode"] = cfg.Defaults.AuthMode()
	fields["version"] = printableVersion()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, cfg, eng, cache.NewMaintenance(store, logger), logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("pixcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 PIXCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("PIXCACHE_CONFIG")
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

// engineDefaults 把 [Defaults] 表转换为每个请求的初始配置，占位图在启动时一次性读入。
func engineDefaults(d config.DefaultsConfig) (engine.Settings, error) {
	loading, failed, err := d.ReadPlaceholders()
	if err != nil {
		return engine.Settings{}, err
	}
	return engine.Settings{
		Cached:             d.Cached,
		FadeDuration:       d.FadeDuration.DurationValue(),
		TargetAlpha:        d.TargetAlpha,
		AuthToken:          d.AuthToken,
		LoadingPlaceholder: loading,
		ErrorPlaceholder:   failed,
		EnableLog:          d.EnableLog,
	}, nil
}

func startHTTPServer(ctx context.Context, cfg *config.Config, eng *engine.Engine, maintenance *cache.Maintenance, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:         logger,
		Engine:         eng,
		RequestTimeout: cfg.Global.RequestTimeout.DurationValue(),
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, eng.Registry(), maintenance, cfg.Global.MaxCacheSize.Bytes())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		eng.Close(shutdownCtx)
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.WithError(err).WithField("action", "shutdown").Warn("fiber_shutdown_failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
