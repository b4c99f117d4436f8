package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/pkg-restore/internal/restore"
)

// ProcessRunner 在独立进程中还原一个 manifest 并返回该进程的报告。
type ProcessRunner interface {
	Run(ctx context.Context, manifest string) (restore.Report, error)
}

// ExecRunner 以 `<Path> <Args...> worker --manifest <m> <ExtraArgs...>` 启动子进程，
// 子进程在 stdout 上输出 JSON 报告，stderr 原样转发。
type ExecRunner struct {
	Path      string
	Args      []string
	ExtraArgs []string
	Env       []string
	Stderr    io.Writer
}

// NewExecRunner 使用当前可执行文件作为 worker。
func NewExecRunner(extraArgs []string, stderr io.Writer) (*ExecRunner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	return &ExecRunner{Path: exe, ExtraArgs: extraArgs, Stderr: stderr}, nil
}

func (r *ExecRunner) Run(ctx context.Context, manifest string) (restore.Report, error) {
	args := append([]string{}, r.Args...)
	args = append(args, "worker", "--manifest", manifest)
	args = append(args, r.ExtraArgs...)

	cmd := exec.CommandContext(ctx, r.Path, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = r.Stderr
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	if err := cmd.Run(); err != nil {
		return restore.Report{}, fmt.Errorf("worker process for %s: %w", manifest, err)
	}
	var report restore.Report
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		return restore.Report{}, fmt.Errorf("worker process for %s: decode report: %w", manifest, err)
	}
	return report, nil
}

func (s *Scheduler) runProcesses(ctx context.Context, groups []Group) restore.Report {
	reports := make([]restore.Report, len(groups))
	var g errgroup.Group
	for i, group := range groups {
		g.Go(func() error {
			reports[i] = s.runProcess(ctx, group)
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

func (s *Scheduler) runProcess(ctx context.Context, group Group) restore.Report {
	report, err := s.runner.Run(ctx, group.Manifest)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"action":   "worker_failed",
			"manifest": group.Manifest,
		}).Error(err.Error())

		jobs, rejected := jobsFor(group.Records)
		report = restore.Report{Rejected: rejected}
		for _, job := range jobs {
			report.Outcomes = append(report.Outcomes, restore.Outcome{
				Identity: job.Identity,
				Manifest: group.Manifest,
				Kind:     restore.OutcomeFailed,
				Reason:   err.Error(),
			})
		}
	}

	// 子进程有自己的状态表，这里把结果同步到父进程的表中供状态端点展示。
	for _, o := range report.Outcomes {
		if s.coordinator != nil {
			switch o.Kind {
			case restore.OutcomeRestored, restore.OutcomeAlreadyPresent:
				s.coordinator.Table().MarkPresent(o.Identity)
			case restore.OutcomeFailed:
				s.coordinator.Table().MarkFailed(o.Identity, o.Reason)
			}
		}
		s.report(o)
	}
	return report
}
