package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opengxv/solo/internal/network"
)

func TestParseName_PlainName(t *testing.T) {
	name, id := parseName("/usr/bin/gamed")
	assert.Equal(t, "gamed", name)
	assert.Equal(t, uint32(0), id)
}

func TestParseName_NameWithTrailingID(t *testing.T) {
	name, id := parseName("/usr/bin/game-3")
	assert.Equal(t, "game", name)
	assert.Equal(t, uint32(3), id)
}

func TestParseName_NonNumericSuffixKeptAsName(t *testing.T) {
	name, id := parseName("/usr/bin/game-beta")
	assert.Equal(t, "game-beta", name)
	assert.Equal(t, uint32(0), id)
}

func TestResolveDirs_JoinsUnderHome(t *testing.T) {
	d := resolveDirs("/opt/gx")
	assert.Equal(t, "/opt/gx/etc", d.etc)
	assert.Equal(t, "/opt/gx/script/var", d.scriptVar)
	assert.Equal(t, "/opt/gx/var", d.varDir)
}

func TestFindNodeType_MatchesConfiguredName(t *testing.T) {
	n := network.New(network.Config{}, nil, nil, nil, nil, nil)
	n.AddNode(0, "login")
	n.AddNode(1, "game")

	typ, ok := findNodeType(n, "game")
	assert.True(t, ok)
	assert.Equal(t, uint32(1), typ)

	_, ok = findNodeType(n, "missing")
	assert.False(t, ok)
}
