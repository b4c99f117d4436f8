// Package identity 描述包身份 (name, version) 及其去重规则。包内全部为纯函数，
// 不做任何 I/O，manifest 读取与网络访问都由上层负责。
package identity

import (
	"sort"
	"strings"
)

// Identity 唯一定位一个包制品，按 (Name, Version) 判等，可直接作为 map key。
type Identity struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// String 以 name@version 形式输出，供日志与报告使用。
func (id Identity) String() string {
	return id.Name + "@" + id.Version
}

// IsZero 表示两个字段均为空。
func (id Identity) IsZero() bool {
	return id.Name == "" && id.Version == ""
}

// Record 是从 manifest 中采集到的原始记录，字段可能缺失。
type Record struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Source  string `json:"source,omitempty"`
}

// Identity 返回去除首尾空白后的 identity，不做合法性检查。
func (r Record) Identity() Identity {
	return Identity{
		Name:    strings.TrimSpace(r.Name),
		Version: strings.TrimSpace(r.Version),
	}
}

// Rejected 记录被丢弃的原始记录及原因。
type Rejected struct {
	Record Record `json:"record"`
	Reason string `json:"reason"`
}

const (
	reasonMissingName    = "missing package name"
	reasonMissingVersion = "missing package version"
)

// Build 将原始记录整理成去重后的 Identity 集合，结果按 Name、Version 排序以便输出稳定。
// 缺少 name 或 version 的记录会出现在第二个返回值中。
func Build(records []Record) ([]Identity, []Rejected) {
	seen := make(map[Identity]struct{}, len(records))
	var (
		ids      []Identity
		rejected []Rejected
	)
	for _, rec := range records {
		id := rec.Identity()
		switch {
		case id.Name == "":
			rejected = append(rejected, Rejected{Record: rec, Reason: reasonMissingName})
			continue
		case id.Version == "":
			rejected = append(rejected, Rejected{Record: rec, Reason: reasonMissingVersion})
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	Sort(ids)
	return ids, rejected
}

// Sort 按 Name、Version 字典序原地排序。
func Sort(ids []Identity) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Name != ids[j].Name {
			return ids[i].Name < ids[j].Name
		}
		return ids[i].Version < ids[j].Version
	})
}
