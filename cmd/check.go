package cmd

import (
	"fmt"

	"CoralPlay/cache"
	"CoralPlay/config"
	"CoralPlay/db"
	"CoralPlay/logger"
	"CoralPlay/storage"

	"github.com/spf13/cobra"
)

// 部署前的连通性自检命令

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "检查外部依赖的连通性",
}

var checkRedisCmd = &cobra.Command{
	Use:   "redis",
	Short: "检查Redis连接",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadForCheck()
		if err := cache.ConnectRedis(cfg); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer cache.CloseRedis()
		fmt.Println("redis: ok")
		return nil
	},
}

var checkMysqlCmd = &cobra.Command{
	Use:   "mysql",
	Short: "检查MySQL连接",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadForCheck()
		if err := db.ConnectGormDB(cfg); err != nil {
			return fmt.Errorf("mysql: %w", err)
		}
		defer db.CloseGormDB()
		fmt.Println("mysql: ok")
		return nil
	},
}

var checkMinioCmd = &cobra.Command{
	Use:   "minio",
	Short: "检查MinIO连接与桶",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadForCheck()
		if cfg.MinioEndpoint == "" {
			return fmt.Errorf("minio: MINIO_ENDPOINT not configured")
		}
		if _, err := storage.NewAudioStore(cfg); err != nil {
			return fmt.Errorf("minio: %w", err)
		}
		fmt.Println("minio: ok")
		return nil
	},
}

func loadForCheck() *config.Config {
	cfg := config.Load()
	logger.InitLogger(logger.Config{Level: logger.LogLevel(cfg.LogLevel)})
	return cfg
}

func init() {
	checkCmd.AddCommand(checkRedisCmd, checkMysqlCmd, checkMinioCmd)
	rootCmd.AddCommand(checkCmd)
}
