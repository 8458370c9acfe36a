package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nutrikb/nutrikb/internal/app"
	"github.com/nutrikb/nutrikb/internal/ingest"
)

func newBatchCmd() *cobra.Command {
	var (
		days     int
		noFilter bool
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "批次向量化最近上傳的文件",
		Long: `掃描檔案索引，將最近上傳且尚未向量化的文件逐一處理。
單一文件失敗不會中斷整批，結果會彙整為報表輸出。`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return runBatch(ctx, a, days, noFilter)
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "處理最近幾天內上傳的文件")
	cmd.Flags().BoolVar(&noFilter, "no-filter", false, "跳過 LLM 過濾，直接整篇切塊向量化")
	return cmd
}

func runBatch(ctx context.Context, a *app.App, days int, noFilter bool) error {
	var opts []ingest.Option
	if noFilter {
		opts = append(opts, ingest.WithoutFilter())
	}

	report := a.Batch.ProcessRecent(ctx, days, opts...)

	fmt.Printf("批次處理完成（最近 %d 天）\n", days)
	fmt.Printf("  總數:   %d\n", report.Total)
	fmt.Printf("  成功:   %d\n", report.Processed)
	fmt.Printf("  失敗:   %d\n", report.Failed)
	fmt.Printf("  已略過: %d\n", report.Skipped)

	if report.Failed > 0 {
		return fmt.Errorf("%d 份文件處理失敗，請檢查日誌後重試", report.Failed)
	}
	return nil
}
