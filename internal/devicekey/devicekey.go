// 包 devicekey：由客户端 IP 推导稳定的设备键（优先 MAC）
package devicekey

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"wifi-ad-beacon/internal/logger"
)

var macRE = regexp.MustCompile(`([0-9a-fA-F]{2}:){5}[0-9a-fA-F]{2}`)

// NeighborLookup：查询内核邻居表，返回命令输出
type NeighborLookup func(ctx context.Context, ip string) (string, error)

// 文档注释：IP → MAC 解析器
// 背景：网关侧 dnsmasq 租约文件最可靠；租约缺失时再查 `ip neigh`，需设备近期有过通信。
// 约束：任一来源失败都静默回退，不向调用方返回错误。
type Resolver struct {
	LeasesFile string
	Neighbor   NeighborLookup
	Timeout    time.Duration
}

func NewResolver(leasesFile string) *Resolver {
	return &Resolver{LeasesFile: leasesFile, Neighbor: ipNeigh, Timeout: 2 * time.Second}
}

func ipNeigh(ctx context.Context, ip string) (string, error) {
	out, err := exec.CommandContext(ctx, "ip", "neigh", "show", "to", ip).Output()
	return string(out), err
}

// ResolveMAC：小写 MAC；无法解析时返回空串
func (r *Resolver) ResolveMAC(ctx context.Context, ip string) string {
	if ip == "" {
		return ""
	}
	if mac := r.fromLeases(ip); mac != "" {
		return mac
	}
	if r.Neighbor == nil {
		return ""
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	out, err := r.Neighbor(ctx, ip)
	if err != nil {
		logger.L().Debug("ip_neigh_failed", "ip", ip, "err", err)
		return ""
	}
	return strings.ToLower(macRE.FindString(out))
}

// fromLeases：dnsmasq 租约行格式 `<expiry> <mac> <ip> <hostname> <clientid>`
func (r *Resolver) fromLeases(ip string) string {
	if r.LeasesFile == "" {
		return ""
	}
	f, err := os.Open(r.LeasesFile)
	if err != nil {
		return ""
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		parts := strings.Fields(sc.Text())
		if len(parts) >= 3 && parts[2] == ip && macRE.FindString(parts[1]) == parts[1] {
			return strings.ToLower(parts[1])
		}
	}
	return ""
}

// 文档注释：设备键
// 约束：能解析 MAC 时为小写 MAC，否则为 "ip:"+ip。
func (r *Resolver) DeviceKey(ctx context.Context, ip string) string {
	if r != nil {
		if mac := r.ResolveMAC(ctx, ip); mac != "" {
			return mac
		}
	}
	return FromIP(ip)
}

// FromIP：无法解析 MAC 时的回退键
func FromIP(ip string) string { return "ip:" + ip }
