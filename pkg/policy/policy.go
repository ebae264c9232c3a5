// Package policy はエンドポイントごとのロール要件（アクセスポリシー）を提供する。
//
// ポリシーはルート登録時に一度だけテーブルへ登録し、リクエスト時には
// 参照のみを行う。ルート単位のポリシーが存在しない場合はグループ単位の
// ポリシーにフォールバックし、どちらも無ければ制限なしとみなす。
package policy

import (
	"net/http"
	"strings"
	"sync"
)

// 既知のロール名。
const (
	RoleAdmin = "ROLE_ADMIN"
	RoleHR    = "ROLE_HR"
	RoleUser  = "ROLE_USER"
)

// Policy は1つのエンドポイントに要求されるロールの集合。
type Policy struct {
	// Roles は要求されるロール名。
	Roles []string
	// MatchAll がtrueの場合はすべてのロールを、falseの場合はいずれか1つを要求する。
	MatchAll bool
}

// AnyOf はいずれかのロールを要求するポリシーを返す。
func AnyOf(roles ...string) Policy {
	return Policy{Roles: roles}
}

// AllOf はすべてのロールを要求するポリシーを返す。
func AllOf(roles ...string) Policy {
	return Policy{Roles: roles, MatchAll: true}
}

// IsEmpty はロール要件を持たないポリシーかを返す。
func (p Policy) IsEmpty() bool {
	return len(p.Roles) == 0
}

// Allows は与えられたロールがポリシーを満たすかを返す。
// ロール名は完全一致で比較する。
func (p Policy) Allows(roles []string) bool {
	if p.IsEmpty() {
		return true
	}
	held := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		held[strings.TrimSpace(r)] = struct{}{}
	}
	if p.MatchAll {
		for _, r := range p.Roles {
			if _, ok := held[r]; !ok {
				return false
			}
		}
		return true
	}
	for _, r := range p.Roles {
		if _, ok := held[r]; ok {
			return true
		}
	}
	return false
}

// groupPolicy はパス接頭辞に対するポリシー。
type groupPolicy struct {
	prefix string
	policy Policy
}

// Table はルートとポリシーの対応表。
// 登録はルーター構築時に行い、以降は読み取りのみを想定する。
type Table struct {
	mu     sync.RWMutex
	routes map[string]Policy
	groups []groupPolicy
}

// NewTable は空のポリシーテーブルを生成する。
func NewTable() *Table {
	return &Table{routes: make(map[string]Policy)}
}

func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// SetRoute はメソッドとルートパターン（例: "/api/v1/jobs/:id"）に対するポリシーを登録する。
func (t *Table) SetRoute(method, path string, p Policy) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.routes[routeKey(method, path)] = p
}

// SetGroup はパス接頭辞に対するポリシーを登録する。
// ルート単位のポリシーが無い場合に、最も長く一致する接頭辞のポリシーを使用する。
func (t *Table) SetGroup(prefix string, p Policy) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, g := range t.groups {
		if g.prefix == prefix {
			t.groups[i].policy = p
			return
		}
	}
	t.groups = append(t.groups, groupPolicy{prefix: prefix, policy: p})
}

// Lookup はメソッドとルートパターンに対応するポリシーを返す。
// ポリシーが存在しない場合はfalseを返す。
func (t *Table) Lookup(method, path string) (Policy, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if p, ok := t.routes[routeKey(method, path)]; ok {
		return p, true
	}

	var (
		best  groupPolicy
		found bool
	)
	for _, g := range t.groups {
		if !hasPathPrefix(path, g.prefix) {
			continue
		}
		if !found || len(g.prefix) > len(best.prefix) {
			best, found = g, true
		}
	}
	return best.policy, found
}

// hasPathPrefix はpathがprefixのパスセグメント境界で始まるかを返す。
func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || strings.HasSuffix(prefix, "/") || path[len(prefix)] == '/'
}

// IsSafeMethod は参照系（GET/HEAD）のメソッドかを返す。
func IsSafeMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead:
		return true
	default:
		return false
	}
}
