package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"matchcore.com/pkg/logger"
)

// newViper 约定：config/{service}.yaml，找不到再看当前目录
func newViper(service string, paths ...string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	// 环境变量覆盖，例如：
	//   MATCHING_ENGINE_HTTP_ADDR 覆盖 http.addr
	//   MATCHING_ENGINE_ENGINE_WAL_DIR 覆盖 engine.wal_dir
	v.SetEnvPrefix(envPrefix(service))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

func envPrefix(service string) string {
	return strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
}

// Load 只读一次，不监听（测试和命令行工具用）
func Load(service string, out interface{}, paths ...string) (*viper.Viper, error) {
	v := newViper(service, paths...)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}
	logger.Info(context.Background(), "config loaded",
		zap.String("service", service), zap.String("file", v.ConfigFileUsed()))
	return v, nil
}

// LoadAndWatch 读取后监听文件变更，热更新到 out；onChange 可以为空
func LoadAndWatch(service string, out interface{}, onChange func(), paths ...string) (*viper.Viper, error) {
	v, err := Load(service, out, paths...)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info(context.Background(), "config file changed",
			zap.String("service", service), zap.String("file", e.Name), zap.String("op", e.Op.String()))
		if err := v.Unmarshal(out); err != nil {
			logger.Error(context.Background(), "reload config error", zap.String("service", service), zap.Error(err))
			return
		}
		if onChange != nil {
			onChange()
		}
	})
	v.WatchConfig()
	return v, nil
}
