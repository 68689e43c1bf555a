package permission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/walletmesh/router/pkg/permission"
)

func TestPattern_WildcardMethod(t *testing.T) {
	p := permission.Pattern("eip155:1:eth_*")
	assert.True(t, p.Matches("eip155:1", "eth_getBalance"))
	assert.False(t, p.Matches("eip155:1", "sol_getBalance"))
}

func TestPattern_ExactMatch(t *testing.T) {
	p := permission.Pattern("eip155:1:eth_sendTransaction")
	assert.True(t, p.Matches("eip155:1", "eth_sendTransaction"))
	assert.False(t, p.Matches("eip155:1", "eth_call"))
}

func TestPattern_WildcardChain(t *testing.T) {
	p := permission.Pattern("*:eth_chainId")
	assert.True(t, p.Matches("eip155:1", "eth_chainId"))
	assert.True(t, p.Matches("eip155:137", "eth_chainId"))
}

func TestManager_ApproveAndCheck(t *testing.T) {
	m := permission.New()

	approved := m.Approve("s1", map[string][]string{"eip155:1": {"eth_*"}})
	assert.Contains(t, approved["eip155:1"], "eth_*")

	assert.True(t, m.Check("s1", "eip155:1", "eth_getBalance"))
	assert.False(t, m.Check("s1", "eip155:1", "personal_sign"))
	assert.False(t, m.Check("s1", "eip155:137", "eth_getBalance"))
}

func TestManager_ApproveIsAdditive(t *testing.T) {
	m := permission.New()
	m.Approve("s1", map[string][]string{"eip155:1": {"eth_call"}})
	merged := m.Approve("s1", map[string][]string{"eip155:1": {"eth_sendTransaction"}})

	assert.ElementsMatch(t, []string{"eth_call", "eth_sendTransaction"}, merged["eip155:1"])
}

func TestManager_GetFiltersByChain(t *testing.T) {
	m := permission.New()
	m.Approve("s1", map[string][]string{
		"eip155:1":   {"eth_call"},
		"eip155:137": {"eth_call"},
	})

	filtered := m.Get("s1", []string{"eip155:1"})
	assert.Contains(t, filtered, "eip155:1")
	assert.NotContains(t, filtered, "eip155:137")
}

func TestManager_Cleanup(t *testing.T) {
	m := permission.New()
	m.Approve("s1", map[string][]string{"eip155:1": {"eth_call"}})
	m.Cleanup("s1")

	assert.False(t, m.Check("s1", "eip155:1", "eth_call"))
	assert.Empty(t, m.Get("s1", nil))
}
