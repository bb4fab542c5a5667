package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathTrieLongestPrefixWins(t *testing.T) {
	trie := NewPathTrie(map[string]string{
		"build":         "out",
		"build/obj":     "out/objects",
		"build/obj/dbg": "scratch",
	})

	assert.Equal(t, "out/main.o", trie.Redirect("build/main.o"))
	assert.Equal(t, "out/objects/a.o", trie.Redirect("build/obj/a.o"))
	assert.Equal(t, "scratch/a.o", trie.Redirect("build/obj/dbg/a.o"))
	assert.Equal(t, "out/objects", trie.Redirect("build/obj"))
}

func TestPathTrieMatchesWholeSegmentsOnly(t *testing.T) {
	trie := NewPathTrie(map[string]string{"a/b": "x"})
	assert.Equal(t, "a/bc.o", trie.Redirect("a/bc.o"), "a/b must not prefix-match a/bc.o")
	assert.Equal(t, "x/c.o", trie.Redirect("a/b/c.o"))
}

func TestPathTrieUnmatchedPassesThrough(t *testing.T) {
	trie := NewPathTrie(map[string]string{"build": "out"})
	assert.Equal(t, "src/a.c", trie.Redirect("src/a.c"))
}

func TestRedirectFnDefaultsToIdentity(t *testing.T) {
	var req FindJobRequest
	fn := req.RedirectFn()
	assert.Equal(t, "anything/at/all", fn("anything/at/all"))

	req.DirRedirects = map[string]string{"build": "out"}
	fn = req.RedirectFn()
	assert.Equal(t, "out/a.o", fn("build/a.o"))
}
