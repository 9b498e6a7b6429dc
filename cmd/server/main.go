// file: cmd/server/main.go

package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"LoomBase/internal/app"
	"LoomBase/internal/control"
	"LoomBase/internal/loommiddleware"
	"LoomBase/internal/loomobserve"
	"LoomBase/internal/plugins/auditlog"
	"LoomBase/internal/resolver"
	"LoomBase/internal/service"
	"LoomBase/internal/service/plugin_manager"
	"LoomBase/internal/transport/http/router"

	_ "modernc.org/sqlite"
)

const version = "v0.3.0"

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	LogLevel  string `mapstructure:"log_level"`
	PprofAddr string `mapstructure:"pprof_addr"`
}

type PluginManagementConfig struct {
	InstallDirectory string `mapstructure:"install_directory"`
	DefaultRegistry  string `mapstructure:"default_registry"`
	SocketPath       string `mapstructure:"socket_path"`
}

type Config struct {
	AppName          string                 `mapstructure:"app_name"`
	Server           ServerConfig           `mapstructure:"server"`
	PluginManagement PluginManagementConfig `mapstructure:"plugin_management"`
}

func main() {
	// 在日志系统完全初始化前，使用标准 log
	log.Printf("LoomBase Kernel %s 正在启动...", version)

	method := plugin_manager.MethodStart
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case plugin_manager.MethodInstall, plugin_manager.MethodUpgrade,
			plugin_manager.MethodStart, plugin_manager.MethodReload:
			method = os.Args[1]
		default:
			log.Fatalf("CRITICAL: 未知的启动方式 '%s' (可选: install/upgrade/start/reload)", os.Args[1])
		}
	}

	rootDir := resolveRootDir()
	config, err := loadConfig(rootDir)
	if err != nil {
		log.Fatalf("CRITICAL: %v", err)
	}

	instanceDir := filepath.Join(rootDir, "instance")
	if _, err := os.Stat(instanceDir); os.IsNotExist(err) {
		_ = os.MkdirAll(instanceDir, 0755)
	}

	sysDB, err := initSystemDB(filepath.Join(instanceDir, "loombase.db"))
	if err != nil {
		log.Fatalf("CRITICAL: 初始化系统数据库失败: %v", err)
	}
	defer func() {
		slog.Info("正在关闭系统数据库连接...")
		if err := sysDB.Close(); err != nil {
			slog.Error("关闭系统数据库时发生错误", "error", err)
		}
	}()

	if err := service.InitPlatformTables(sysDB); err != nil {
		log.Fatalf("CRITICAL: 初始化平台系统表失败: %v", err)
	}

	loomobserve.InitLogger(config.Server.LogLevel)
	slog.Info("LoomBase Kernel starting up", "version", version, "method", method)
	slog.Info("检测到项目根目录", "path", rootDir)

	application, err := app.New(config.AppName, sysDB)
	if err != nil {
		slog.Error("初始化 Application 失败", "error", err)
		os.Exit(1)
	}

	store, err := plugin_manager.NewSQLiteRecordStore(sysDB, config.AppName)
	if err != nil {
		slog.Error("初始化插件记录存储失败", "error", err)
		os.Exit(1)
	}

	installDir := filepath.Join(rootDir, config.PluginManagement.InstallDirectory)
	pkgResolver, err := resolver.New(installDir, config.PluginManagement.DefaultRegistry)
	if err != nil {
		slog.Error("初始化包解析器失败", "error", err)
		os.Exit(1)
	}
	slog.Info("插件安装目录绝对路径", "path", installDir)

	pm, err := plugin_manager.NewManager(application, store, pkgResolver, plugin_manager.Options{
		Method: method,
		StaticPlugins: []plugin_manager.StaticPlugin{
			{Name: auditlog.PluginName, Constructor: auditlog.New, Enabled: true, BuiltIn: true},
		},
	})
	if err != nil {
		slog.Error("初始化 PluginManager 失败", "error", err)
		os.Exit(1)
	}
	slog.Info("服务层: PluginManager 初始化完成")

	ctx := context.Background()
	if method == plugin_manager.MethodUpgrade {
		if err := application.EmitAsync(ctx, "beforeUpgrade"); err != nil {
			slog.Error("beforeUpgrade 阶段失败", "error", err)
			os.Exit(1)
		}
	}
	if err := application.EmitAsync(ctx, "beforeLoad", method); err != nil {
		slog.Error("插件装配阶段 (beforeLoad) 失败", "error", err)
		os.Exit(1)
	}
	if method == plugin_manager.MethodInstall {
		if err := pm.InstallAll(ctx, nil); err != nil {
			slog.Error("插件批量安装失败", "error", err)
			os.Exit(1)
		}
	}
	if err := pm.LoadAll(ctx); err != nil {
		slog.Error("插件批量加载失败", "error", err)
		os.Exit(1)
	}
	slog.Info("插件体系装配完成，应用即将对外服务。")

	if err := pm.StartWatcher(installDir); err != nil {
		slog.Warn("启动插件目录监视器失败，热重载不可用", "error", err)
	}

	socketPath := filepath.Join(rootDir, config.PluginManagement.SocketPath)
	controlServer, err := control.NewServer(socketPath, pm)
	if err == nil {
		err = controlServer.Listen()
	}
	if err != nil {
		slog.Error("启动控制通道失败", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := controlServer.Close(); err != nil {
			slog.Error("关闭控制通道时发生错误", "error", err)
		}
	}()

	var setupToken string
	var setupTokenDeadline time.Time
	if service.UserCount(sysDB) == 0 {
		setupToken = genToken()
		setupTokenDeadline = time.Now().Add(30 * time.Minute)
		slog.Warn("系统中无管理员，安装令牌已生成 (30分钟内有效)", "setup_token", setupToken)
	}

	rateLimiter := loommiddleware.NewIPRateLimiter(50, 100, 5, 15)
	httpRouter := router.New(router.Dependencies{
		PluginManager:      pm,
		AuthDB:             sysDB,
		RateLimiter:        rateLimiter.Middleware(),
		SetupToken:         setupToken,
		SetupTokenDeadline: setupTokenDeadline,
	})
	slog.Info("传输层: HTTP 路由器创建完成。")

	loomobserve.Register()
	if config.Server.PprofAddr != "" {
		loomobserve.EnablePprof(config.Server.PprofAddr)
	}
	slog.Info("监控: metrics 已注册。")

	addr := fmt.Sprintf(":%d", config.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: httpRouter,
	}

	go func() {
		slog.Info("LoomBase 内核启动成功，开始监听HTTP请求...", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP服务启动失败", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("收到停机信号，准备优雅关闭...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP服务优雅关闭失败", "error", err)
		os.Exit(1)
	}

	slog.Info("HTTP服务已成功关闭。")
	slog.Info("程序即将退出。")
}

// resolveRootDir 以可执行文件位置推导项目根目录，
// go run 场景下退回到当前工作目录。
func resolveRootDir() string {
	exePath, err := os.Executable()
	if err != nil {
		log.Fatalf("CRITICAL: 无法获取可执行文件路径: %v", err)
	}
	rootDir := filepath.Dir(filepath.Dir(exePath))
	if _, err := os.Stat(filepath.Join(rootDir, "configs", "config.yaml")); os.IsNotExist(err) {
		if cwd, errWd := os.Getwd(); errWd == nil {
			rootDir = cwd
		}
	}
	return rootDir
}

// loadConfig 读取并解析主配置文件
func loadConfig(rootDir string) (*Config, error) {
	configFilePath := filepath.Join(rootDir, "configs", "config.yaml")
	viper.SetConfigFile(configFilePath)

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件 '%s' 失败: %w", configFilePath, err)
	}
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置到结构体失败: %w", err)
	}
	if config.AppName == "" {
		config.AppName = "main"
	}
	return &config, nil
}

// initSystemDB 封装了系统数据库的初始化逻辑
func initSystemDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=ON&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开/创建系统数据库 '%s' 失败: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("连接系统数据库 '%s' (Ping) 失败: %w", path, err)
	}
	return db, nil
}

// genToken 生成一次性的安装令牌
func genToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback_token_generation_failed"
	}
	return hex.EncodeToString(b)
}
