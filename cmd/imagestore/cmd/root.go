package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/imagestore"
	"github.com/aweris/imagestore/internal/config"
)

var rootCmd = &cobra.Command{
	Use:          "imagestore",
	Short:        "Two-tier image store",
	Long:         "CLI for adding, popping and backing up images kept in a directory with an optional Redis cache.",
	SilenceUsage: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ~/.config/imagestore/config.yaml)")
	rootCmd.PersistentFlags().String("dir", "", "image directory (default: ~/.local/share/imagestore/images)")
	rootCmd.PersistentFlags().Bool("cache", false, "enable the cache tier")
	rootCmd.PersistentFlags().String("cache-backend", config.BackendRedis, "cache backend: redis or memory")
	rootCmd.PersistentFlags().String("cache-host", "127.0.0.1", "redis host")
	rootCmd.PersistentFlags().Int("cache-port", 6379, "redis port")
	rootCmd.PersistentFlags().Bool("filter", true, "skip images that were already popped")
	rootCmd.PersistentFlags().String("log-level", "info", "log level")
	rootCmd.PersistentFlags().String("log-format", "console", "log format: console or json")

	viper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))
	viper.BindPFlag("cache.enabled", rootCmd.PersistentFlags().Lookup("cache"))
	viper.BindPFlag("cache.backend", rootCmd.PersistentFlags().Lookup("cache-backend"))
	viper.BindPFlag("cache.host", rootCmd.PersistentFlags().Lookup("cache-host"))
	viper.BindPFlag("cache.port", rootCmd.PersistentFlags().Lookup("cache-port"))
	viper.BindPFlag("filter.enabled", rootCmd.PersistentFlags().Lookup("filter"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	config.SetDefaults(viper.GetViper())

	viper.ReadInConfig()
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "imagestore")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "imagestore")
	}
	return ".imagestore"
}

func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	log, err := cfg.Logger(os.Stderr)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, log, nil
}

func openStore() (*imagestore.Store, zerolog.Logger, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, log, err
	}
	s, err := cfg.Open(log)
	if err != nil {
		return nil, log, err
	}
	return s, log, nil
}
