package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wifi-ad-beacon/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, "/api", c.APIBase)
	assert.Equal(t, 120.0, c.MatchMaxDistanceMeters)
	assert.Equal(t, 2, c.SwitchConfirmations)
	assert.Equal(t, 150*time.Second, c.InactivityTimeout)
	assert.Equal(t, 600*time.Second, c.FreqCapTTL)
	assert.Equal(t, 3, c.FreqCapMaxRecent)
	assert.Equal(t, 2000.0, c.AdSearchRadiusMeters)
	assert.Equal(t, 10.0, c.AdWeightFactor)
	assert.Equal(t, 5.0, c.AdDistanceFactor)
	assert.Equal(t, "Asia/Shanghai", c.AdLocation.String())
	assert.Equal(t, model.SourceOverpass, c.POI.Provider)
	assert.Empty(t, c.AdminAllowCIDRs)
	assert.Equal(t, "postgres://postgres@localhost:5432/beacon?sslmode=disable", c.PostgresDSN())
	assert.Equal(t, "127.0.0.1:6379", c.RedisAddr())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_BASE", "/portal/")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("VISIT_SWITCH_CONFIRMATIONS", "3")
	t.Setenv("VISIT_INACTIVITY_TIMEOUT_SEC", "90")
	t.Setenv("AD_TIMEZONE", "UTC")
	t.Setenv("POI_PROVIDER", "amap")
	t.Setenv("PG_PASSWORD", "s3cret")
	t.Setenv("REDIS_ENABLE", "false")
	t.Setenv("ADMIN_ALLOW_CIDRS", "192.168.4.0/24, ,127.0.0.1")
	t.Setenv("AMAP_QPS", "1.5")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/portal", c.APIBase)
	assert.Equal(t, "memory", c.StoreDriver)
	assert.Equal(t, 3, c.SwitchConfirmations)
	assert.Equal(t, 90*time.Second, c.InactivityTimeout)
	assert.Equal(t, time.UTC, c.AdLocation)
	assert.Equal(t, model.SourceAMap, c.POI.Provider)
	assert.Contains(t, c.PostgresDSN(), "postgres:s3cret@")
	assert.False(t, c.Redis.Enable)
	assert.Equal(t, []string{"192.168.4.0/24", "127.0.0.1"}, c.AdminAllowCIDRs)
	assert.Equal(t, 1.5, c.POI.AMapQPS)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("AD_FREQCAP_MAX_RECENT", "three")
	t.Setenv("AD_TIMEZONE", "Mars/Olympus")
	_, err := Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "AD_FREQCAP_MAX_RECENT")
	assert.ErrorContains(t, err, "AD_TIMEZONE")
}

func TestValidate(t *testing.T) {
	t.Setenv("VISIT_SWITCH_CONFIRMATIONS", "0")
	t.Setenv("STORE_DRIVER", "mongo")
	_, err := Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "VISIT_SWITCH_CONFIRMATIONS")
	assert.ErrorContains(t, err, "STORE_DRIVER")
}
