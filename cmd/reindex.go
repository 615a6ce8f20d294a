package cmd

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var reindexAll bool

var reindexCmd = &cobra.Command{
	Use:   "reindex [task_id...]",
	Short: "重建任务的文档索引",
	RunE:  runReindex,
}

func init() {
	reindexCmd.Flags().BoolVar(&reindexAll, "all", false, "重建所有带文件任务的索引")
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	ids, err := parseTaskIDs(args)
	if err != nil {
		return err
	}
	if !reindexAll && len(ids) == 0 {
		return errors.New("请指定任务 id 或使用 --all")
	}

	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if reindexAll {
		ids, err = a.svcCtx.Store.ListTaskIDsWithFiles(ctx)
		if err != nil {
			return err
		}
	}

	var failed int
	for _, id := range ids {
		if _, err := a.svcCtx.Store.GetTask(ctx, id); err != nil {
			a.log.WithError(err).WithField("task_id", id).Error("跳过任务")
			failed++
			continue
		}
		n, err := a.svcCtx.Ask.Rebuild(ctx, id)
		if err != nil {
			a.log.WithError(err).WithField("task_id", id).Error("重建索引失败")
			failed++
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "task %d: %d chunks\n", id, n)
	}
	if failed > 0 {
		return errors.Errorf("%d 个任务重建失败", failed)
	}
	return nil
}

func parseTaskIDs(args []string) ([]uint, error) {
	ids := make([]uint, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil || id == 0 {
			return nil, errors.Errorf("无效的任务 id: %s", arg)
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}
