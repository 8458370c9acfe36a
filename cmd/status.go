package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nutrikb/nutrikb/internal/app"
)

func newStatusCmd() *cobra.Command {
	var pendingOnly bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "顯示檔案索引與知識庫狀態",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return runStatus(ctx, a, pendingOnly)
			})
		},
	}

	cmd.Flags().BoolVar(&pendingOnly, "pending", false, "只列出尚未向量化的文件")
	return cmd
}

func runStatus(ctx context.Context, a *app.App, pendingOnly bool) error {
	records, err := a.Index.GetAll()
	if err != nil {
		return fmt.Errorf("讀取檔案索引失敗: %w", err)
	}

	count, err := a.Docs.Count(ctx)
	if err != nil {
		return fmt.Errorf("讀取知識庫失敗: %w", err)
	}

	var vectorized int
	for _, rec := range records {
		if rec.Vectorized {
			vectorized++
		}
	}

	fmt.Printf("檔案索引: %d 份文件，其中 %d 份已向量化\n", len(records), vectorized)
	fmt.Printf("知識庫:   %d 個段落\n\n", count)

	for _, rec := range records {
		if pendingOnly && rec.Vectorized {
			continue
		}
		state := "未向量化"
		if rec.Vectorized {
			state = "已向量化"
		}
		fmt.Printf("  [%s] %s  (上傳於 %s)\n",
			state, rec.Filename, rec.UploadTime.Format("2006-01-02 15:04"))
	}
	return nil
}
