// file: cmd/loomctl/main.go
//
// loomctl 是 LoomBase 的本地运维命令行。
// 生命周期指令 (enable/disable/remove/upgrade/load) 优先发给运行中的
// 服务进程执行；服务未启动时在本进程内直接执行。
// add 与 list 永远在本进程内执行。
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"LoomBase/internal/app"
	"LoomBase/internal/control"
	"LoomBase/internal/resolver"
	"LoomBase/internal/service"
	"LoomBase/internal/service/plugin_manager"

	_ "modernc.org/sqlite"
)

type ctlConfig struct {
	AppName          string `mapstructure:"app_name"`
	PluginManagement struct {
		InstallDirectory string `mapstructure:"install_directory"`
		DefaultRegistry  string `mapstructure:"default_registry"`
		SocketPath       string `mapstructure:"socket_path"`
	} `mapstructure:"plugin_management"`
}

// localRuntime 按需构造一次本地插件管理器。
// CLI 的大多数命令会被远程服务进程执行，只有在回退或执行
// add/list 时才真正打开数据库。
type localRuntime struct {
	rootDir string
	cfg     *ctlConfig

	once sync.Once
	db   *sql.DB
	pm   *plugin_manager.Manager
	err  error
}

func (r *localRuntime) manager(ctx context.Context, method string) (*plugin_manager.Manager, error) {
	r.once.Do(func() {
		instanceDir := filepath.Join(r.rootDir, "instance")
		if err := os.MkdirAll(instanceDir, 0755); err != nil {
			r.err = fmt.Errorf("创建实例目录失败: %w", err)
			return
		}
		dbPath := filepath.Join(instanceDir, "loombase.db")
		dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=ON&_synchronous=NORMAL", dbPath)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			r.err = fmt.Errorf("打开系统数据库失败: %w", err)
			return
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			r.err = fmt.Errorf("连接系统数据库失败: %w", err)
			return
		}
		if err := service.InitPlatformTables(db); err != nil {
			_ = db.Close()
			r.err = fmt.Errorf("初始化平台系统表失败: %w", err)
			return
		}

		application, err := app.New(r.cfg.AppName, db)
		if err != nil {
			_ = db.Close()
			r.err = err
			return
		}
		store, err := plugin_manager.NewSQLiteRecordStore(db, r.cfg.AppName)
		if err != nil {
			_ = db.Close()
			r.err = err
			return
		}
		// 首次在本机使用时记录表可能还不存在，
		// 本地回退要先把它建出来，CLI 才能脱离服务进程独立工作
		if err := store.Sync(ctx); err != nil {
			_ = db.Close()
			r.err = fmt.Errorf("同步插件记录表失败: %w", err)
			return
		}
		installDir := filepath.Join(r.rootDir, r.cfg.PluginManagement.InstallDirectory)
		pkgResolver, err := resolver.New(installDir, r.cfg.PluginManagement.DefaultRegistry)
		if err != nil {
			_ = db.Close()
			r.err = err
			return
		}
		pm, err := plugin_manager.NewManager(application, store, pkgResolver, plugin_manager.Options{Method: method})
		if err != nil {
			_ = db.Close()
			r.err = err
			return
		}
		// 装配阶段: 同步记录表并回填注册表，之后才能按名称分发指令
		if err := application.EmitAsync(ctx, "beforeLoad", method); err != nil {
			_ = db.Close()
			r.err = fmt.Errorf("本地装配阶段失败: %w", err)
			return
		}
		r.db = db
		r.pm = pm
	})
	if r.err != nil {
		return nil, r.err
	}
	return r.pm, nil
}

// localDispatcher 把 control.Dispatcher 适配到按需构造的本地运行时
type localDispatcher struct {
	rt     *localRuntime
	method string
}

func (d *localDispatcher) Dispatch(ctx context.Context, method string, plugins []string) error {
	pm, err := d.rt.manager(ctx, d.method)
	if err != nil {
		return err
	}
	return pm.Dispatch(ctx, method, plugins)
}

func main() {
	rootDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: 无法获取工作目录: %v\n", err)
		os.Exit(1)
	}
	cfg, err := loadCtlConfig(rootDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
	rt := &localRuntime{rootDir: rootDir, cfg: cfg}

	rootCmd := &cobra.Command{
		Use:           "loomctl",
		Short:         "LoomBase 插件管理命令行",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newAddCmd(rt))
	rootCmd.AddCommand(newListCmd(rt))
	for _, method := range []string{"enable", "disable", "remove", "upgrade", "load"} {
		rootCmd.AddCommand(newLifecycleCmd(rt, cfg, rootDir, method))
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func loadCtlConfig(rootDir string) (*ctlConfig, error) {
	configFilePath := filepath.Join(rootDir, "configs", "config.yaml")
	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件 '%s' 失败: %w", configFilePath, err)
	}
	var cfg ctlConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if cfg.AppName == "" {
		cfg.AppName = "main"
	}
	return &cfg, nil
}

// newAddCmd 添加插件。add 不经过控制通道，永远本地执行。
func newAddCmd(rt *localRuntime) *cobra.Command {
	var (
		registry string
		version  string
		zipURL   string
		local    string
	)
	cmd := &cobra.Command{
		Use:   "add [package]",
		Short: "添加一个插件 (npm 包名、zip 地址或本地路径)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pm, err := rt.manager(ctx, plugin_manager.MethodReload)
			if err != nil {
				return err
			}

			switch {
			case local != "":
				fmt.Printf("正在从本地路径添加插件: %s\n", local)
				err = pm.AddByLocalPath(ctx, local, nil)
			case zipURL != "":
				fmt.Printf("正在从压缩包添加插件: %s\n", zipURL)
				err = pm.AddByZip(ctx, zipURL, nil)
			case len(args) == 1:
				fmt.Printf("正在从 npm 添加插件: %s\n", args[0])
				err = pm.AddByNpm(ctx, plugin_manager.AddNpmOptions{
					Name:     args[0],
					Registry: registry,
					Version:  version,
				})
			default:
				return fmt.Errorf("必须提供 npm 包名、--zip 或 --local 之一")
			}
			if err != nil {
				return err
			}
			fmt.Println("插件添加成功。")
			return nil
		},
	}
	cmd.Flags().StringVar(&registry, "registry", "", "npm registry 地址 (默认使用配置文件)")
	cmd.Flags().StringVar(&version, "version", "", "指定版本 (默认 latest)")
	cmd.Flags().StringVar(&zipURL, "zip", "", "zip 包地址 (http/https/file 或本地路径)")
	cmd.Flags().StringVar(&local, "local", "", "本地插件目录路径")
	return cmd
}

func newListCmd(rt *localRuntime) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "列出当前应用实例下的全部插件记录",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pm, err := rt.manager(ctx, plugin_manager.MethodReload)
			if err != nil {
				return err
			}
			records, err := pm.Store().List(ctx, nil)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("(无插件记录)")
				return nil
			}
			fmt.Printf("%-28s %-12s %-8s %-8s %s\n", "NAME", "VERSION", "ENABLED", "BUILTIN", "INSTALLED")
			for _, rec := range records {
				fmt.Printf("%-28s %-12s %-8v %-8v %v\n",
					rec.Name, rec.Version, rec.Enabled, rec.BuiltIn, rec.Installed)
			}
			return nil
		},
	}
}

// newLifecycleCmd 生成 enable/disable/remove/upgrade/load 子命令。
// 指令优先发给运行中的服务进程；upgrade 的本地回退使用 upgrade 装配方式。
func newLifecycleCmd(rt *localRuntime, cfg *ctlConfig, rootDir, method string) *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("%s <name>...", method),
		Short: fmt.Sprintf("对指定插件执行 %s", method),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fallbackMethod := plugin_manager.MethodReload
			if method == "upgrade" {
				fallbackMethod = plugin_manager.MethodUpgrade
			}
			socketPath := filepath.Join(rootDir, cfg.PluginManagement.SocketPath)
			client, err := control.NewClient(socketPath, &localDispatcher{rt: rt, method: fallbackMethod})
			if err != nil {
				return err
			}
			fmt.Printf("执行 %s: %v\n", method, args)
			if err := client.Run(cmd.Context(), method, args); err != nil {
				return err
			}
			fmt.Println("操作成功。")
			return nil
		},
	}
}
