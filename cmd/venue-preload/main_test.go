package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wifi-ad-beacon/internal/config"
	"wifi-ad-beacon/internal/model"
	"wifi-ad-beacon/internal/poi"
)

func TestParseFlagsDefaultsFromConfig(t *testing.T) {
	cfg := &config.Config{POI: config.POI{Provider: model.SourceAMap, DeactivateMissing: true}}
	o, err := parseFlags(nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, "AMAP", o.provider)
	assert.True(t, o.deactivateMissing)
	assert.False(t, o.purge)
	assert.Equal(t, 4, o.concurrency)

	o, err = parseFlags([]string{"--provider", "overpass", "--purge", "--deactivate-missing=false", "--concurrency", "8"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "overpass", o.provider)
	assert.True(t, o.purge)
	assert.False(t, o.deactivateMissing)
	assert.Equal(t, 8, o.concurrency)

	_, err = parseFlags([]string{"--bogus"}, cfg)
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	cfg := &config.Config{}
	p, err := newProvider("overpass", cfg)
	require.NoError(t, err)
	assert.IsType(t, &poi.Overpass{}, p)

	_, err = newProvider("AMAP", cfg)
	assert.ErrorContains(t, err, "AMAP_SERVER_KEY")

	cfg.POI.AMapKey = "k"
	p, err = newProvider("amap", cfg)
	require.NoError(t, err)
	assert.Equal(t, model.SourceAMap, p.Source())

	_, err = newProvider("google", cfg)
	assert.Error(t, err)
}
