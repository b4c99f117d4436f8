package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunPool 以至多 workers 个并发调用 fn 处理 items，结果按输入顺序返回。
// fn 不返回错误，单个任务失败不会取消其它任务。
func RunPool[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) R) []R {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results
	}
	if workers <= 0 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, item := range items {
		g.Go(func() error {
			results[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
