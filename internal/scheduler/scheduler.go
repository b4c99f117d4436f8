// Package scheduler 把 manifest 中的包分发给还原协调器，支持单池、按 manifest 分组
// 以及每个 manifest 一个子进程三种调度方式，并在全部任务结束后汇总报告。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/pkg-restore/internal/cache"
	"github.com/any-hub/pkg-restore/internal/config"
	"github.com/any-hub/pkg-restore/internal/identity"
	"github.com/any-hub/pkg-restore/internal/restore"
)

// Options 汇总调度依赖。Coordinator 用于 shared/grouped，Runner 用于 process。
type Options struct {
	Mode        config.GroupMode
	Workers     int
	Coordinator *restore.Coordinator
	Store       cache.Store
	Runner      ProcessRunner
	// Progress 在每个结果产生时被调用，调度器保证串行调用。
	Progress func(restore.Outcome)
	Logger   *logrus.Logger
}

// Scheduler 执行一次还原运行。
type Scheduler struct {
	mode        config.GroupMode
	workers     int
	coordinator *restore.Coordinator
	store       cache.Store
	runner      ProcessRunner
	progress    func(restore.Outcome)
	logger      *logrus.Logger

	progressMu sync.Mutex
}

// New 校验模式所需的依赖。
func New(opts Options) (*Scheduler, error) {
	s := &Scheduler{
		mode:        opts.Mode,
		workers:     opts.Workers,
		coordinator: opts.Coordinator,
		store:       opts.Store,
		runner:      opts.Runner,
		progress:    opts.Progress,
		logger:      opts.Logger,
	}
	if s.mode == "" {
		s.mode = config.GroupModeShared
	}
	if s.workers <= 0 {
		s.workers = 1
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.store == nil && s.coordinator != nil {
		s.store = s.coordinator.Store()
	}
	if s.store == nil {
		return nil, errors.New("scheduler: cache store required")
	}

	switch s.mode {
	case config.GroupModeShared, config.GroupModeGrouped:
		if s.coordinator == nil {
			return nil, fmt.Errorf("scheduler: mode %s requires a coordinator", s.mode)
		}
	case config.GroupModeProcess:
		if s.runner == nil {
			return nil, errors.New("scheduler: process mode requires a runner")
		}
	default:
		return nil, fmt.Errorf("scheduler: unknown mode %q", s.mode)
	}
	return s, nil
}

// Run 处理全部分组并等待所有任务结束。返回的报告包含运行后仍缺失的 identity。
func (s *Scheduler) Run(ctx context.Context, groups []Group) restore.Report {
	s.logger.WithFields(logrus.Fields{
		"action":  "restore_started",
		"mode":    s.mode,
		"groups":  len(groups),
		"workers": s.workers,
	}).Info("开始还原")

	var report restore.Report
	switch s.mode {
	case config.GroupModeShared:
		report = s.runShared(ctx, groups)
	case config.GroupModeGrouped:
		report = s.runGrouped(ctx, groups)
	case config.GroupModeProcess:
		report = s.runProcesses(ctx, groups)
	}

	report.Missing = s.missing(report)
	restore.SortOutcomes(report.Outcomes)

	s.logger.WithFields(logrus.Fields{
		"action":  "restore_finished",
		"mode":    s.mode,
		"summary": report.Summary(),
	}).Info("还原结束")
	return report
}

func (s *Scheduler) runShared(ctx context.Context, groups []Group) restore.Report {
	jobs, rejected := jobsFor(flatten(groups))
	return restore.Report{
		Outcomes: s.runJobs(ctx, jobs),
		Rejected: rejected,
	}
}

func (s *Scheduler) runGrouped(ctx context.Context, groups []Group) restore.Report {
	reports := make([]restore.Report, len(groups))
	var g errgroup.Group
	for i, group := range groups {
		g.Go(func() error {
			jobs, rejected := jobsFor(group.Records)
			reports[i] = restore.Report{
				Outcomes: s.runJobs(ctx, jobs),
				Rejected: rejected,
			}
			return nil
		})
	}
	_ = g.Wait()

	var merged restore.Report
	for _, r := range reports {
		merged.Merge(r)
	}
	return merged
}

func (s *Scheduler) runJobs(ctx context.Context, jobs []restore.Job) []restore.Outcome {
	return RunPool(ctx, jobs, s.workers, func(ctx context.Context, job restore.Job) restore.Outcome {
		o := s.coordinator.Restore(ctx, job)
		s.report(o)
		return o
	})
}

func (s *Scheduler) report(o restore.Outcome) {
	if s.progress == nil {
		return
	}
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	s.progress(o)
}

// missing 复查所有未失败的 identity；被其它进程认领但最终没有完成的包会出现在这里。
func (s *Scheduler) missing(report restore.Report) []identity.Identity {
	failed := make(map[identity.Identity]struct{})
	for _, id := range report.FailedIdentities() {
		failed[id] = struct{}{}
	}
	var out []identity.Identity
	for _, id := range report.Identities() {
		if _, ok := failed[id]; ok {
			continue
		}
		if !s.store.Exists(id) {
			out = append(out, id)
		}
	}
	if len(out) > 0 {
		s.logger.WithFields(logrus.Fields{
			"action":  "missing_after_run",
			"missing": len(out),
		}).Warn("部分包在运行结束后仍不在缓存中")
	}
	return out
}
