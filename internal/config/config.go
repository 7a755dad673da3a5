// 包 config：从环境变量构建类型化配置，由 cmd 注入各组件
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"wifi-ad-beacon/internal/model"
)

// Config：服务与离线工具的全部配置
type Config struct {
	Addr    string
	APIBase string

	StoreDriver string

	PG    Postgres
	Redis Redis

	RateLimitEnabled bool
	RateLimitPerMin  int

	MatchMaxDistanceMeters float64
	SwitchConfirmations    int
	InactivityTimeout      time.Duration
	SweepInterval          time.Duration

	FreqCapTTL       time.Duration
	FreqCapMaxRecent int

	AdSearchRadiusMeters float64
	AdWeightFactor       float64
	AdDistanceFactor     float64
	AdLocation           *time.Location

	AllowIPScript  string
	DHCPLeasesFile string

	// AdminAllowCIDRs 限制设备轨迹、统计与指标接口的来源；为空不限制
	AdminAllowCIDRs []string

	POI POI
}

// Postgres：连接参数，由 utils.OpenPostgres 使用
type Postgres struct {
	Host, Port, User, Password, DB, SSLMode string
	MaxOpenConns, MaxIdleConns             int
}

type Redis struct {
	Enable     bool
	Host, Port string
	Password   string
	DB         int
}

// POI：场所预加载参数（venue-preload）
type POI struct {
	SiteLatitude      float64
	SiteLongitude     float64
	RadiusMeters      int
	Provider          model.VenueSource
	OverpassEndpoint  string
	OverpassTimeout   time.Duration
	AMapKey           string
	AMapQPS           float64
	DeactivateMissing bool
}

// 文档注释：读取环境变量并校验
// 约束：数值解析失败直接报错，不静默回退，避免误配置的阈值悄悄生效。
func Load() (*Config, error) {
	r := &reader{}
	c := &Config{
		Addr:        r.str("ADDR", ":8080"),
		APIBase:     strings.TrimRight(r.str("API_BASE", "/api"), "/"),
		StoreDriver: strings.ToLower(r.str("STORE_DRIVER", "postgres")),
		PG: Postgres{
			Host:         r.str("PG_HOST", "localhost"),
			Port:         r.str("PG_PORT", "5432"),
			User:         r.str("PG_USER", "postgres"),
			Password:     r.str("PG_PASSWORD", ""),
			DB:           r.str("PG_DB", "beacon"),
			SSLMode:      r.str("PG_SSLMODE", "disable"),
			MaxOpenConns: r.int("PG_MAX_OPEN_CONNS", 50),
			MaxIdleConns: r.int("PG_MAX_IDLE_CONNS", 25),
		},
		Redis: Redis{
			Enable:   r.bool("REDIS_ENABLE", true),
			Host:     r.str("REDIS_HOST", "127.0.0.1"),
			Port:     r.str("REDIS_PORT", "6379"),
			Password: r.str("REDIS_PASS", ""),
			DB:       r.int("REDIS_DB", 0),
		},
		RateLimitEnabled: r.bool("RATE_LIMIT_ENABLED", false),
		RateLimitPerMin:  r.int("RATE_LIMIT_PER_MIN", 600),

		MatchMaxDistanceMeters: r.float("POI_MATCH_MAX_DISTANCE_M", 120),
		SwitchConfirmations:    r.int("VISIT_SWITCH_CONFIRMATIONS", 2),
		InactivityTimeout:      r.seconds("VISIT_INACTIVITY_TIMEOUT_SEC", 150),
		SweepInterval:          r.seconds("VISIT_SWEEP_INTERVAL_SEC", 60),

		FreqCapTTL:       r.seconds("AD_FREQCAP_TTL_SEC", 600),
		FreqCapMaxRecent: r.int("AD_FREQCAP_MAX_RECENT", 3),

		AdSearchRadiusMeters: r.float("AD_GEO_SEARCH_RADIUS_M", 2000),
		AdWeightFactor:       r.float("AD_SCORE_WEIGHT_FACTOR", 10),
		AdDistanceFactor:     r.float("AD_SCORE_DISTANCE_FACTOR", 5),

		AllowIPScript:  r.str("PORTAL_ALLOW_IP_SCRIPT", ""),
		DHCPLeasesFile: r.str("PORTAL_DHCP_LEASES_FILE", "/var/lib/misc/dnsmasq.leases"),

		AdminAllowCIDRs: r.list("ADMIN_ALLOW_CIDRS"),

		POI: POI{
			SiteLatitude:      r.float("SITE_LATITUDE", 30.313601),
			SiteLongitude:     r.float("SITE_LONGITUDE", 120.353372),
			RadiusMeters:      r.int("POI_PRELOAD_RADIUS_M", 1000),
			OverpassEndpoint:  r.str("OVERPASS_ENDPOINT", "https://overpass-api.de/api/interpreter"),
			OverpassTimeout:   r.seconds("OVERPASS_TIMEOUT_SEC", 25),
			AMapKey:           r.str("AMAP_SERVER_KEY", ""),
			AMapQPS:           r.float("AMAP_QPS", 3),
			DeactivateMissing: r.bool("POI_DEACTIVATE_MISSING", false),
		},
	}
	tz := r.str("AD_TIMEZONE", "Asia/Shanghai")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("AD_TIMEZONE: %w", err))
	}
	c.AdLocation = loc
	if p, err := model.ParseVenueSource(r.str("POI_PROVIDER", string(model.SourceOverpass))); err != nil {
		r.errs = append(r.errs, fmt.Errorf("POI_PROVIDER: %w", err))
	} else {
		c.POI.Provider = p
	}
	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate：取值范围校验
func (c *Config) Validate() error {
	var errs []error
	if c.StoreDriver != "postgres" && c.StoreDriver != "memory" {
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.StoreDriver))
	}
	if c.SwitchConfirmations < 1 {
		errs = append(errs, errors.New("VISIT_SWITCH_CONFIRMATIONS must be >= 1"))
	}
	if c.InactivityTimeout <= 0 {
		errs = append(errs, errors.New("VISIT_INACTIVITY_TIMEOUT_SEC must be > 0"))
	}
	if c.SweepInterval < 0 {
		errs = append(errs, errors.New("VISIT_SWEEP_INTERVAL_SEC must be >= 0"))
	}
	if c.FreqCapMaxRecent < 1 {
		errs = append(errs, errors.New("AD_FREQCAP_MAX_RECENT must be >= 1"))
	}
	if c.FreqCapTTL <= 0 {
		errs = append(errs, errors.New("AD_FREQCAP_TTL_SEC must be > 0"))
	}
	if c.AdSearchRadiusMeters <= 0 {
		errs = append(errs, errors.New("AD_GEO_SEARCH_RADIUS_M must be > 0"))
	}
	if c.AdWeightFactor < 0 || c.AdDistanceFactor < 0 {
		errs = append(errs, errors.New("AD_SCORE_*_FACTOR must be >= 0"))
	}
	return errors.Join(errs...)
}

// PostgresDSN：postgres:// 形式的连接串
func (c *Config) PostgresDSN() string {
	p := c.PG
	dsn := "postgres://" + p.User
	if p.Password != "" {
		dsn += ":" + p.Password
	}
	return dsn + "@" + p.Host + ":" + p.Port + "/" + p.DB + "?sslmode=" + p.SSLMode
}

func (c *Config) RedisAddr() string { return c.Redis.Host + ":" + c.Redis.Port }

type reader struct {
	errs []error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (r *reader) bool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (r *reader) seconds(key string, def int) time.Duration {
	return time.Duration(r.int(key, def)) * time.Second
}

// list：逗号分隔，去空白与空项
func (r *reader) list(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
