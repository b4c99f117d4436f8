// Package restore 实现还原协调器：认领 identity、检查缓存、拉取并落盘，
// 以及一次运行的状态表与结果报告。
package restore

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/pkg-restore/internal/cache"
	"github.com/any-hub/pkg-restore/internal/identity"
	"github.com/any-hub/pkg-restore/internal/logging"
)

// Fetcher 拉取制品字节，由 fetch.Fetcher 实现。
type Fetcher interface {
	Fetch(ctx context.Context, id identity.Identity) ([]byte, error)
}

// urlResolver 是可选能力，用于在完成标记中记录来源地址。
type urlResolver interface {
	URL(id identity.Identity) string
}

// Options 汇总 Coordinator 的依赖。Table 为空时新建；Locker 为空时使用 NopLocker。
type Options struct {
	Store   cache.Store
	Fetcher Fetcher
	Locker  Locker
	Table   *StatusTable
	Logger  *logrus.Logger
}

// Coordinator 可被任意数量的 worker 并发调用。
type Coordinator struct {
	store   cache.Store
	fetcher Fetcher
	locker  Locker
	table   *StatusTable
	logger  *logrus.Logger
	now     func() time.Time
}

// NewCoordinator 校验依赖并构造 Coordinator。
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, errors.New("restore: cache store required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("restore: fetcher required")
	}
	c := &Coordinator{
		store:   opts.Store,
		fetcher: opts.Fetcher,
		locker:  opts.Locker,
		table:   opts.Table,
		logger:  opts.Logger,
		now:     time.Now,
	}
	if c.locker == nil {
		c.locker = NopLocker{}
	}
	if c.table == nil {
		c.table = NewStatusTable()
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	return c, nil
}

// Table 返回协调器使用的状态表。
func (c *Coordinator) Table() *StatusTable {
	return c.table
}

// Store 返回协调器写入的缓存。
func (c *Coordinator) Store() cache.Store {
	return c.store
}

// Restore 确保 job 对应的 identity 存在于缓存中。错误不会返回给调用方，
// 而是记录在 Outcome 中。
func (c *Coordinator) Restore(ctx context.Context, job Job) Outcome {
	start := c.now()
	outcome := c.restore(ctx, job)
	outcome.Identity = job.Identity
	outcome.Manifest = job.Manifest
	outcome.Duration = c.now().Sub(start)
	c.logOutcome(outcome)
	return outcome
}

func (c *Coordinator) restore(ctx context.Context, job Job) Outcome {
	id := job.Identity

	prev, claimed := c.table.Claim(id)
	if !claimed {
		if prev.State == StatePresent {
			return Outcome{Kind: OutcomeAlreadyPresent}
		}
		return Outcome{Kind: OutcomeSkipped, Reason: ErrConcurrencyConflict.Error()}
	}

	if _, err := c.store.EntryPath(id); err != nil {
		return c.fail(id, err)
	}
	if c.store.Exists(id) {
		c.table.MarkPresent(id)
		return Outcome{Kind: OutcomeAlreadyPresent}
	}

	release, err := c.locker.TryLock(id)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			c.table.Release(id)
			return Outcome{Kind: OutcomeSkipped, Reason: "claimed by another process"}
		}
		return c.fail(id, err)
	}
	defer release()

	// 另一个进程可能在本进程检查与加锁之间完成了发布。
	if c.store.Exists(id) {
		c.table.MarkPresent(id)
		return Outcome{Kind: OutcomeAlreadyPresent}
	}

	data, err := c.fetcher.Fetch(ctx, id)
	if err != nil {
		return c.fail(id, err)
	}

	opts := cache.MaterializeOptions{RestoredAt: c.now().UTC()}
	if r, ok := c.fetcher.(urlResolver); ok {
		opts.SourceURL = r.URL(id)
	}
	if err := c.store.Materialize(ctx, id, data, opts); err != nil {
		return c.fail(id, err)
	}

	c.table.MarkPresent(id)
	return Outcome{Kind: OutcomeRestored}
}

func (c *Coordinator) fail(id identity.Identity, err error) Outcome {
	reason := err.Error()
	c.table.MarkFailed(id, reason)
	return Outcome{Kind: OutcomeFailed, Reason: reason}
}

func (c *Coordinator) logOutcome(o Outcome) {
	fields := logging.PackageFields(o.Identity.Name, o.Identity.Version, o.Manifest)
	for k, v := range logging.OutcomeFields(string(o.Kind), o.Duration.Milliseconds(), o.Kind == OutcomeRestored) {
		fields[k] = v
	}
	entry := c.logger.WithFields(fields)
	switch o.Kind {
	case OutcomeRestored:
		entry.Info("package_restored")
	case OutcomeFailed:
		entry.WithField("reason", o.Reason).Warn("package_failed")
	case OutcomeSkipped:
		entry.WithField("reason", o.Reason).Info("package_skipped")
	default:
		entry.Debug("package_present")
	}
}
