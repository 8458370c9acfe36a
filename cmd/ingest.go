package cmd

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nutrikb/nutrikb/internal/app"
	"github.com/nutrikb/nutrikb/internal/ingest"
)

func newIngestCmd() *cobra.Command {
	var (
		noFilter bool
		noIndex  bool
		register bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <檔案或儲存鍵>",
		Short: "解析並向量化單一文件",
		Long: `解析文件版面、以 LLM 過濾出高資訊量段落，逐段向量化後寫入知識庫。
來源可以是本機檔案路徑，或 blob 儲存中的鍵值。

段落過濾失敗時會退回整篇切塊向量化，不會中斷。`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return runIngest(ctx, a, args[0], noFilter, noIndex, register)
			})
		},
	}

	cmd.Flags().BoolVar(&noFilter, "no-filter", false, "跳過 LLM 過濾，直接整篇切塊向量化")
	cmd.Flags().BoolVar(&noIndex, "no-index-update", false, "成功後不更新檔案索引")
	cmd.Flags().BoolVar(&register, "register", false, "先在檔案索引中登記此文件")
	return cmd
}

func runIngest(ctx context.Context, a *app.App, source string, noFilter, noIndex, register bool) error {
	if register {
		if err := a.Index.AddRecord(filenameOf(source), source); err != nil {
			return fmt.Errorf("登記文件失敗: %w", err)
		}
	}

	var opts []ingest.Option
	if noFilter {
		opts = append(opts, ingest.WithoutFilter())
	}
	if noIndex {
		opts = append(opts, ingest.WithoutIndexUpdate())
	}

	if err := a.Pipeline.Ingest(ctx, source, opts...); err != nil {
		return fmt.Errorf("文件處理失敗: %w", err)
	}
	fmt.Printf("已完成向量化: %s\n", source)
	return nil
}

func filenameOf(source string) string {
	return path.Base(strings.ReplaceAll(source, `\`, `/`))
}
