// Package cmd implements the nutrikb command-line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nutrikb/nutrikb/internal/app"
	"github.com/nutrikb/nutrikb/internal/config"
	"github.com/nutrikb/nutrikb/internal/log"
)

var (
	flagVerbose bool
	flagJSONLog bool
)

var rootCmd = &cobra.Command{
	Use:   "nutrikb",
	Short: "nutrikb - 營養健康文獻知識庫",
	Long: `nutrikb 將營養健康文獻解析、過濾、向量化後存入知識庫，
並提供中英雙語的相似度檢索。

常用流程：
  nutrikb ingest <檔案>    解析並向量化單一文件
  nutrikb batch --days 7   批次處理最近上傳的文件
  nutrikb query "關鍵詞"    檢索最相關的段落`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "輸出除錯日誌")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLog, "json-log", false, "以 JSON 格式輸出日誌")

	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newLogger() log.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: flagJSONLog})
}

// withApp loads configuration, builds the application, runs fn, and tears
// everything down afterwards.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("載入設定失敗: %w", err)
	}

	a, err := app.Setup(ctx, cfg, newLogger())
	if err != nil {
		return fmt.Errorf("初始化失敗: %w", err)
	}
	defer a.Close()

	return fn(ctx, a)
}
