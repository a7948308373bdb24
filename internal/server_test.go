package internal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"visitorstats/internal"
)

func TestNewServerConfig(t *testing.T) {
	cfg := internal.NewServerConfig()

	assert.False(t, cfg.EnableSecFetchSite, "tracked pages call every endpoint cross-site")
	assert.False(t, cfg.EnableHelmet, "helmet is mounted with a cross-origin resource policy instead")
	assert.False(t, cfg.EnableTemplates)
	assert.False(t, cfg.EnableStaticAssets)
	assert.True(t, cfg.EnableRecover)
}
