package walletproxy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/walletmesh/router/pkg/walletproxy"
)

func TestIsChainSpecificNotification(t *testing.T) {
	assert.False(t, walletproxy.IsChainSpecificNotification("wm_walletStateChanged"))
	assert.False(t, walletproxy.IsChainSpecificNotification("wm_walletAvailabilityChanged"))
	assert.True(t, walletproxy.IsChainSpecificNotification("eip155_blockUpdate"))
	assert.False(t, walletproxy.IsChainSpecificNotification("ping"))
}
