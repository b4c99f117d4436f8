package scheduler

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pkg-restore/internal/identity"
	"github.com/any-hub/pkg-restore/internal/manifest"
	"github.com/any-hub/pkg-restore/internal/restore"
)

// Group 是一个 manifest 及其读出的原始记录。
type Group struct {
	Manifest string
	Records  []identity.Record
}

// LoadGroups 逐个读取 manifest。无法解析的 manifest 被记录并跳过，不影响其它 manifest。
func LoadGroups(paths []string, logger *logrus.Logger) ([]Group, []string) {
	groups := make([]Group, 0, len(paths))
	var skipped []string
	for _, path := range paths {
		records, err := manifest.Read(path)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"action":   "manifest_skipped",
				"manifest": path,
			}).Warn(err.Error())
			skipped = append(skipped, err.Error())
			continue
		}
		groups = append(groups, Group{Manifest: path, Records: records})
	}
	return groups, skipped
}

// jobsFor 去重并排序记录，每个 identity 归属到首个声明它的 manifest。
func jobsFor(records []identity.Record) ([]restore.Job, []identity.Rejected) {
	ids, rejected := identity.Build(records)
	owner := make(map[identity.Identity]string, len(ids))
	for _, rec := range records {
		id := rec.Identity()
		if _, ok := owner[id]; !ok {
			owner[id] = rec.Source
		}
	}
	jobs := make([]restore.Job, len(ids))
	for i, id := range ids {
		jobs[i] = restore.Job{Identity: id, Manifest: owner[id]}
	}
	return jobs, rejected
}

func flatten(groups []Group) []identity.Record {
	var all []identity.Record
	for _, g := range groups {
		all = append(all, g.Records...)
	}
	return all
}
