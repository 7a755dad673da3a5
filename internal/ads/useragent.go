package ads

import (
	"strings"

	"wifi-ad-beacon/internal/model"
)

// DetectOS：按 UA 关键字粗略识别设备系统；无法识别时返回 DeviceAll
func DetectOS(userAgent string) model.DeviceOS {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"), strings.Contains(ua, "ios"):
		return model.DeviceIOS
	case strings.Contains(ua, "android"):
		return model.DeviceAndroid
	case strings.Contains(ua, "windows"):
		return model.DeviceWindows
	}
	return model.DeviceAll
}

// MatchesOS：广告定向为 all 或与设备一致
func MatchesOS(target, device model.DeviceOS) bool {
	return target == model.DeviceAll || target == device
}
