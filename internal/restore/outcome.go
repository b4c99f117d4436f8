package restore

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/any-hub/pkg-restore/internal/identity"
)

// ErrConcurrencyConflict 表示 identity 已被其它 worker 或进程认领，属于良性结果。
var ErrConcurrencyConflict = errors.New("identity already claimed")

// Job 是一次还原请求，多个 Job 可以指向同一个 identity。
type Job struct {
	Identity identity.Identity `json:"identity"`
	Manifest string            `json:"manifest,omitempty"`
}

// OutcomeKind 描述单个 Job 的最终结果。
type OutcomeKind string

const (
	OutcomeRestored       OutcomeKind = "restored"
	OutcomeAlreadyPresent OutcomeKind = "already-present"
	OutcomeSkipped        OutcomeKind = "skipped-in-progress"
	OutcomeFailed         OutcomeKind = "failed"
)

// Outcome 是 Restore 的返回值，错误以 Reason 的形式携带，从不向上抛出。
type Outcome struct {
	Identity identity.Identity `json:"identity"`
	Manifest string            `json:"manifest,omitempty"`
	Kind     OutcomeKind       `json:"kind"`
	Reason   string            `json:"reason,omitempty"`
	Duration time.Duration     `json:"duration_ns"`
}

// String 输出状态流中的一行。
func (o Outcome) String() string {
	line := fmt.Sprintf("%-19s %s", o.Kind, o.Identity)
	if o.Reason != "" {
		line += ": " + o.Reason
	}
	return line
}

// Report 汇总一次运行（或一个 worker 进程）的结果，可 JSON 序列化。
type Report struct {
	Outcomes []Outcome           `json:"outcomes"`
	Rejected []identity.Rejected `json:"rejected,omitempty"`
	// ManifestErrors 记录被跳过的 manifest 及原因。
	ManifestErrors []string `json:"manifest_errors,omitempty"`
	// Missing 列出运行结束后仍不在缓存中、但没有失败记录的 identity，
	// 典型来源是被其它进程认领后未完成的包。
	Missing []identity.Identity `json:"missing,omitempty"`
}

// Merge 追加另一份报告的内容。
func (r *Report) Merge(other Report) {
	r.Outcomes = append(r.Outcomes, other.Outcomes...)
	r.Rejected = append(r.Rejected, other.Rejected...)
	r.ManifestErrors = append(r.ManifestErrors, other.ManifestErrors...)
	r.Missing = append(r.Missing, other.Missing...)
}

// Failures 返回全部失败结果。
func (r Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Kind == OutcomeFailed {
			out = append(out, o)
		}
	}
	return out
}

// Counts 按结果类型统计。
func (r Report) Counts() map[OutcomeKind]int {
	counts := make(map[OutcomeKind]int, 4)
	for _, o := range r.Outcomes {
		counts[o.Kind]++
	}
	return counts
}

// Identities 返回报告中出现过的去重、排序后的 identity。
func (r Report) Identities() []identity.Identity {
	seen := make(map[identity.Identity]struct{}, len(r.Outcomes))
	var out []identity.Identity
	for _, o := range r.Outcomes {
		if _, ok := seen[o.Identity]; ok {
			continue
		}
		seen[o.Identity] = struct{}{}
		out = append(out, o.Identity)
	}
	identity.Sort(out)
	return out
}

// FailedIdentities 返回至少有一次失败结果、且没有任何成功结果的 identity。
func (r Report) FailedIdentities() []identity.Identity {
	failed := make(map[identity.Identity]bool)
	for _, o := range r.Outcomes {
		switch o.Kind {
		case OutcomeFailed:
			if _, ok := failed[o.Identity]; !ok {
				failed[o.Identity] = true
			}
		case OutcomeRestored, OutcomeAlreadyPresent:
			failed[o.Identity] = false
		}
	}
	var out []identity.Identity
	for id, isFailed := range failed {
		if isFailed {
			out = append(out, id)
		}
	}
	identity.Sort(out)
	return out
}

// Summary 输出聚合统计行。
func (r Report) Summary() string {
	c := r.Counts()
	return fmt.Sprintf("restored=%d already-present=%d skipped=%d failed=%d missing=%d rejected=%d",
		c[OutcomeRestored], c[OutcomeAlreadyPresent], c[OutcomeSkipped], c[OutcomeFailed],
		len(r.Missing), len(r.Rejected))
}

// SortOutcomes 按 identity、manifest 排序，便于稳定输出。
func SortOutcomes(outcomes []Outcome) {
	sort.SliceStable(outcomes, func(i, j int) bool {
		a, b := outcomes[i], outcomes[j]
		if a.Identity != b.Identity {
			if a.Identity.Name != b.Identity.Name {
				return a.Identity.Name < b.Identity.Name
			}
			return a.Identity.Version < b.Identity.Version
		}
		return a.Manifest < b.Manifest
	})
}
