package dbrouter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveConfig_MissingBaseURLIsConfigurationError(t *testing.T) {
	_, err := deriveConfig(envConfig{BaseURL: "  "}, nil)
	require.Error(t, err)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestDeriveConfig_UnknownSchemeIsConfigurationError(t *testing.T) {
	_, err := deriveConfig(envConfig{BaseURL: "redis://host/0"}, nil)
	require.Error(t, err)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestDeriveConfig_RelationalAdapterFromScheme(t *testing.T) {
	cfg, err := deriveConfig(envConfig{BaseURL: "postgresql://host/db"}, nil)
	require.NoError(t, err)
	assert.Equal(t, AdapterRelational, cfg.AdapterKind)
}

func TestDeriveConfig_DocumentAdapterFromScheme(t *testing.T) {
	cfg, err := deriveConfig(envConfig{BaseURL: "mongodb://host/db"}, nil)
	require.NoError(t, err)
	assert.Equal(t, AdapterDocument, cfg.AdapterKind)
}

func TestDeriveConfig_StrategyDerivedFromOrgsEnabled(t *testing.T) {
	cfg, err := deriveConfig(envConfig{BaseURL: "postgresql://host/db", OrgsEnabled: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyPerOrg, cfg.Strategy)

	cfg2, err := deriveConfig(envConfig{BaseURL: "postgresql://host/db"}, nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyShared, cfg2.Strategy)
}

func TestDeriveConfig_DefaultsEnvironmentToDevelopment(t *testing.T) {
	cfg, err := deriveConfig(envConfig{BaseURL: "postgresql://host/db"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
}

func TestDeriveConfig_CacheTTLConvertedFromMillis(t *testing.T) {
	cfg, err := deriveConfig(envConfig{BaseURL: "postgresql://host/db", OrgCacheTTLMillis: 5000}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.ResolverCacheTTL)
}

func TestConfig_WithResolverHookClonesRatherThanMutates(t *testing.T) {
	cfg, err := deriveConfig(envConfig{BaseURL: "postgresql://host/db"}, nil)
	require.NoError(t, err)

	hook := func(ctx context.Context, orgID string) (string, error) { return "", nil }
	withHook := cfg.WithResolverHook(hook)

	assert.Nil(t, cfg.ResolverHook)
	assert.NotNil(t, withHook.ResolverHook)
}

func TestConfig_WithAppScopingClonesRatherThanMutates(t *testing.T) {
	cfg, err := deriveConfig(envConfig{BaseURL: "postgresql://host/db"}, nil)
	require.NoError(t, err)

	scoped := cfg.WithAppScoping()
	assert.False(t, cfg.AppScoped)
	assert.True(t, scoped.AppScoped)
	assert.Equal(t, AppColumn, scoped.AppColumn)
}
