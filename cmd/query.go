package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nutrikb/nutrikb/internal/app"
)

func newQueryCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "query <檢索詞>",
		Short: "檢索最相關的段落",
		Long: `以中英雙語檢索知識庫：自動偵測檢索詞語言、翻譯成另一種語言
後分別檢索，合併去重取相似度最高的段落。`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return runQuery(ctx, a, strings.Join(args, " "), topK)
			})
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "回傳的段落數量上限")
	return cmd
}

func runQuery(ctx context.Context, a *app.App, query string, topK int) error {
	passages, err := a.Retrieval.TopK(ctx, query, topK)
	if err != nil {
		return fmt.Errorf("檢索失敗: %w", err)
	}

	if len(passages) == 0 {
		fmt.Println("沒有找到相關段落。")
		return nil
	}

	for i, passage := range passages {
		fmt.Printf("--- 第 %d 筆 ---\n%s\n\n", i+1, passage)
	}
	return nil
}
