package cache

import (
	"path"
	"strings"
)

// PathTrie maps directory prefixes to replacement prefixes, resolved by
// longest-prefix match over whole path segments — "/a/b" redirects
// "/a/b/c.o" but never "/a/bc.o". It is how a cache read relocates recorded
// output paths into the requester's tree (the request's dir_redirects).
type PathTrie struct {
	children map[string]*PathTrie
	target   string
	bound    bool
}

// NewPathTrie builds a trie from a prefix -> replacement map.
func NewPathTrie(redirects map[string]string) *PathTrie {
	t := &PathTrie{}
	for prefix, target := range redirects {
		t.Insert(prefix, target)
	}
	return t
}

// Insert binds prefix to target, overwriting any previous binding for the
// same prefix.
func (t *PathTrie) Insert(prefix, target string) {
	node := t
	for _, seg := range splitSegments(prefix) {
		if node.children == nil {
			node.children = map[string]*PathTrie{}
		}
		child := node.children[seg]
		if child == nil {
			child = &PathTrie{}
			node.children[seg] = child
		}
		node = child
	}
	node.target = target
	node.bound = true
}

// Redirect rewrites p's longest bound prefix to that prefix's target,
// returning p unchanged when no prefix matches.
func (t *PathTrie) Redirect(p string) string {
	segs := splitSegments(p)
	node := t
	bestTarget := ""
	bestDepth := -1
	if node.bound {
		bestTarget, bestDepth = node.target, 0
	}
	for i, seg := range segs {
		node = node.children[seg]
		if node == nil {
			break
		}
		if node.bound {
			bestTarget, bestDepth = node.target, i+1
		}
	}
	if bestDepth < 0 {
		return p
	}
	rest := segs[bestDepth:]
	if len(rest) == 0 {
		return bestTarget
	}
	return path.Join(append([]string{bestTarget}, rest...)...)
}

func splitSegments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
