package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/secubox/secubox-waf/pkg/admin"
	"github.com/secubox/secubox-waf/pkg/config"
	applog "github.com/secubox/secubox-waf/pkg/logger"
)

// Version 版本号, 构建时通过 -ldflags 覆盖
var Version = "1.0.0"

func main() {
	var (
		configPath  string
		showVersion bool
		genToken    string
		tokenTTL    time.Duration
	)

	flag.StringVar(&configPath, "config", "/etc/secubox/waf.yml", "config file path")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.StringVar(&genToken, "gen-token", "", "print an admin API token for the given subject and exit")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of tokens issued by -gen-token (0 disables expiry)")
	flag.Parse()

	if showVersion {
		fmt.Printf("secubox-waf %s\n", Version)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	if genToken != "" {
		tok, err := admin.GenerateToken(cfg.Admin.JWTSecret, genToken, tokenTTL)
		if err != nil {
			log.Fatalf("生成Token失败: %v", err)
		}
		fmt.Println(tok)
		return
	}

	logger, err := applog.New(applog.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	if !logger.IsLevelEnabled("debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("初始化失败: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for s := range sig {
			if s == syscall.SIGHUP {
				a.reload()
				continue
			}
			logger.Infof("received %s, shutting down", s)
			cancel()
			return
		}
	}()

	if err := a.run(ctx); err != nil {
		logger.Fatalf("%v", err)
	}
	logger.Info("服务已关闭")
}

// loadConfig 读取配置文件, 文件不存在时使用默认配置
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		log.Printf("警告: 配置文件 %s 不存在, 使用默认配置", path)
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
