package devicekey

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLeases(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "dnsmasq.leases")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestResolveFromLeases(t *testing.T) {
	p := writeLeases(t, "1700000000 AA:BB:CC:DD:EE:01 192.168.4.20 phone *\n"+
		"1700000000 not-a-mac 192.168.4.21 laptop *\n"+
		"garbage\n")
	r := &Resolver{LeasesFile: p}
	ctx := context.Background()
	assert.Equal(t, "aa:bb:cc:dd:ee:01", r.ResolveMAC(ctx, "192.168.4.20"))
	assert.Equal(t, "", r.ResolveMAC(ctx, "192.168.4.21"))
	assert.Equal(t, "aa:bb:cc:dd:ee:01", r.DeviceKey(ctx, "192.168.4.20"))
	assert.Equal(t, "ip:192.168.4.21", r.DeviceKey(ctx, "192.168.4.21"))
}

func TestResolveFallsBackToNeighbor(t *testing.T) {
	var asked string
	r := &Resolver{
		LeasesFile: filepath.Join(t.TempDir(), "missing"),
		Neighbor: func(_ context.Context, ip string) (string, error) {
			asked = ip
			return "192.168.4.30 dev wlan0 lladdr 0A:1B:2C:3D:4E:5F REACHABLE\n", nil
		},
	}
	assert.Equal(t, "0a:1b:2c:3d:4e:5f", r.DeviceKey(context.Background(), "192.168.4.30"))
	assert.Equal(t, "192.168.4.30", asked)
}

func TestResolveNeighborFailure(t *testing.T) {
	r := &Resolver{Neighbor: func(context.Context, string) (string, error) { return "", errors.New("no ip binary") }}
	assert.Equal(t, "ip:10.0.0.9", r.DeviceKey(context.Background(), "10.0.0.9"))

	r.Neighbor = func(context.Context, string) (string, error) { return "10.0.0.9 dev wlan0 FAILED\n", nil }
	assert.Equal(t, "ip:10.0.0.9", r.DeviceKey(context.Background(), "10.0.0.9"))

	var nilResolver *Resolver
	assert.Equal(t, "ip:10.0.0.9", nilResolver.DeviceKey(context.Background(), "10.0.0.9"))
}
