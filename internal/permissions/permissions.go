// Package permissions maps an actor in a chat to a permission level and
// the set of permission names that level grants.
package permissions

import (
	"sort"
)

// Level is an ordered permission level.
type Level int

const (
	Guest Level = iota
	Member
	Admin
	Owner
	PlatformOwner
)

var levelNames = [...]string{"guest", "member", "admin", "owner", "platform_owner"}

func (l Level) String() string {
	if l < Guest || l > PlatformOwner {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLevel returns the level with the given name.
func ParseLevel(name string) (Level, bool) {
	for i, n := range levelNames {
		if n == name {
			return Level(i), true
		}
	}
	return Guest, false
}

// All is the wildcard permission; a grant holding it satisfies any check.
const All = "all"

var (
	memberPerms = []string{"report", "info", "help", "member"}
	adminPerms  = []string{"admin", "ban", "kick", "mute", "unmute", "warn", "pin", "delete", "welcome"}
	ownerPerms  = []string{"owner", "unpin", "invite", "promote", "demote", "config", "stats"}
	rootPerms   = []string{"platform_owner", All}
)

// levelSets holds the precomputed set per level. Each set is a strict
// superset of the one below it.
var levelSets = func() [PlatformOwner + 1]map[string]struct{} {
	var sets [PlatformOwner + 1]map[string]struct{}
	acc := map[string]struct{}{}
	sets[Guest] = map[string]struct{}{}
	layers := [][]string{memberPerms, adminPerms, ownerPerms, rootPerms}
	for i, layer := range layers {
		for _, p := range layer {
			acc[p] = struct{}{}
		}
		snapshot := make(map[string]struct{}, len(acc))
		for p := range acc {
			snapshot[p] = struct{}{}
		}
		sets[Level(i+1)] = snapshot
	}
	return sets
}()

// Grant is the resolved level plus its permission names. The zero value is
// a guest grant.
type Grant struct {
	Level Level
	perms map[string]struct{}
}

// GrantFor returns the grant for a level.
func GrantFor(l Level) Grant {
	if l < Guest || l > PlatformOwner {
		l = Guest
	}
	return Grant{Level: l, perms: levelSets[l]}
}

// Has reports whether the grant includes name, honouring the wildcard.
func (g Grant) Has(name string) bool {
	if _, ok := g.perms[All]; ok {
		return true
	}
	_, ok := g.perms[name]
	return ok
}

// HasAny reports whether the grant satisfies at least one of names.
// An empty list is satisfied by every grant.
func (g Grant) HasAny(names []string) bool {
	if len(names) == 0 {
		return true
	}
	for _, n := range names {
		if g.Has(n) {
			return true
		}
	}
	return false
}

// AtLeast reports whether the grant's level is l or higher.
func (g Grant) AtLeast(l Level) bool { return g.Level >= l }

// Names returns the granted permission names, sorted.
func (g Grant) Names() []string {
	out := make([]string, 0, len(g.perms))
	for p := range g.perms {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
