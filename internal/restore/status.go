package restore

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/any-hub/pkg-restore/internal/identity"
)

// State 是 identity 在一次运行内的还原状态。
type State int

const (
	StateNotStarted State = iota
	StateInProgress
	StatePresent
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInProgress:
		return "in-progress"
	case StatePresent:
		return "present"
	case StateFailed:
		return "failed"
	default:
		return "not-started"
	}
}

// MarshalText 让状态在 JSON 中以字符串呈现。
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status 是状态表中的一条记录，Reason 仅在 StateFailed 时填写。
type Status struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// StatusTable 记录一次运行内每个 identity 的状态。所有转换都是单个 key 上的
// 原子 compute，从不在持有分片锁时做 I/O。
type StatusTable struct {
	m *xsync.MapOf[identity.Identity, Status]
}

// NewStatusTable 创建空状态表，生命周期限定为一次还原运行。
func NewStatusTable() *StatusTable {
	return &StatusTable{m: xsync.NewMapOf[identity.Identity, Status]()}
}

// Claim 尝试把 identity 从 NotStarted/Failed 转为 InProgress。
// claimed 为 false 时 prev 给出阻止认领的当前状态（InProgress 或 Present）。
func (t *StatusTable) Claim(id identity.Identity) (prev Status, claimed bool) {
	t.m.Compute(id, func(old Status, loaded bool) (Status, bool) {
		prev = old
		if loaded && (old.State == StateInProgress || old.State == StatePresent) {
			return old, false
		}
		claimed = true
		return Status{State: StateInProgress}, false
	})
	return prev, claimed
}

// Get 返回当前状态，未出现过的 identity 视为 NotStarted。
func (t *StatusTable) Get(id identity.Identity) Status {
	st, _ := t.m.Load(id)
	return st
}

// MarkPresent 记录 identity 已在缓存中。
func (t *StatusTable) MarkPresent(id identity.Identity) {
	t.m.Store(id, Status{State: StatePresent})
}

// MarkFailed 记录失败原因；失败的 identity 可以被再次认领。
func (t *StatusTable) MarkFailed(id identity.Identity, reason string) {
	t.m.Store(id, Status{State: StateFailed, Reason: reason})
}

// Release 放弃认领，把 InProgress 退回 NotStarted。
func (t *StatusTable) Release(id identity.Identity) {
	t.m.Compute(id, func(old Status, loaded bool) (Status, bool) {
		if loaded && old.State == StateInProgress {
			return Status{}, true
		}
		return old, !loaded
	})
}

// Snapshot 复制当前全部状态，键为 name@version。
func (t *StatusTable) Snapshot() map[string]Status {
	out := make(map[string]Status, t.m.Size())
	t.m.Range(func(id identity.Identity, st Status) bool {
		out[id.String()] = st
		return true
	})
	return out
}

// Counts 按状态统计条目数。
func (t *StatusTable) Counts() map[string]int {
	counts := make(map[string]int, 4)
	t.m.Range(func(_ identity.Identity, st Status) bool {
		counts[st.State.String()]++
		return true
	})
	return counts
}
