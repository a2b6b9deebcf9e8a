// Package device captures the client snapshot stored with each refresh token:
// device, OS and browser parsed from the User-Agent, plus the client IP.
package device

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"
)

// Unknown is the sentinel for any field the parser could not determine.
const Unknown = "unknown"

// Info is the serialized device snapshot persisted in refresh_tokens.device_info.
type Info struct {
	DeviceType     string `json:"deviceType"`
	DeviceModel    string `json:"deviceModel"`
	DeviceVendor   string `json:"deviceVendor"`
	OSName         string `json:"osName"`
	OSVersion      string `json:"osVersion"`
	BrowserName    string `json:"browserName"`
	BrowserVersion string `json:"browserVersion"`
	IP             string `json:"ip"`
}

// UnknownInfo returns an Info with every field set to Unknown.
func UnknownInfo() Info {
	return Info{
		DeviceType:     Unknown,
		DeviceModel:    Unknown,
		DeviceVendor:   Unknown,
		OSName:         Unknown,
		OSVersion:      Unknown,
		BrowserName:    Unknown,
		BrowserVersion: Unknown,
		IP:             Unknown,
	}
}

// Parse builds an Info from a User-Agent header value and a client IP.
func Parse(userAgent, ip string) Info {
	info := UnknownInfo()
	info.IP = orUnknown(ip)

	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return info
	}
	ua := useragent.New(userAgent)

	name, version := ua.Browser()
	info.BrowserName = orUnknown(name)
	info.BrowserVersion = orUnknown(version)

	osInfo := ua.OSInfo()
	info.OSName = orUnknown(osInfo.Name)
	info.OSVersion = orUnknown(osInfo.Version)

	switch {
	case ua.Bot():
		info.DeviceType = "bot"
	case isTablet(userAgent):
		info.DeviceType = "tablet"
	case ua.Mobile():
		info.DeviceType = "mobile"
	default:
		info.DeviceType = "desktop"
	}
	vendor, model := vendorAndModel(userAgent)
	info.DeviceVendor = orUnknown(vendor)
	info.DeviceModel = orUnknown(model)
	return info
}

// Encode returns the JSON form stored in the ledger.
func (i Info) Encode() string {
	b, err := json.Marshal(i.normalized())
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Decode parses a stored snapshot. Garbage or missing fields decode as Unknown.
func Decode(s string) Info {
	var info Info
	if err := json.Unmarshal([]byte(s), &info); err != nil {
		return UnknownInfo()
	}
	return info.normalized()
}

func (i Info) normalized() Info {
	i.DeviceType = orUnknown(i.DeviceType)
	i.DeviceModel = orUnknown(i.DeviceModel)
	i.DeviceVendor = orUnknown(i.DeviceVendor)
	i.OSName = orUnknown(i.OSName)
	i.OSVersion = orUnknown(i.OSVersion)
	i.BrowserName = orUnknown(i.BrowserName)
	i.BrowserVersion = orUnknown(i.BrowserVersion)
	i.IP = orUnknown(i.IP)
	return i
}

// FromRequest parses the request's User-Agent and client IP.
func FromRequest(r *http.Request) Info {
	return Parse(r.UserAgent(), ClientIP(r))
}

// ClientIP returns the first X-Forwarded-For entry, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isTablet(ua string) bool {
	if strings.Contains(ua, "iPad") || strings.Contains(ua, "Tablet") {
		return true
	}
	return strings.Contains(ua, "Android") && !strings.Contains(ua, "Mobile")
}

func vendorAndModel(ua string) (vendor, model string) {
	switch {
	case strings.Contains(ua, "iPhone"):
		return "Apple", "iPhone"
	case strings.Contains(ua, "iPad"):
		return "Apple", "iPad"
	case strings.Contains(ua, "Macintosh"):
		return "Apple", "Macintosh"
	}
	model = androidModel(ua)
	switch {
	case model == "":
		return "", ""
	case strings.HasPrefix(model, "SM-"), strings.HasPrefix(model, "Galaxy"):
		return "Samsung", model
	case strings.HasPrefix(model, "Pixel"):
		return "Google", model
	case strings.HasPrefix(model, "Redmi"), strings.HasPrefix(model, "Mi "):
		return "Xiaomi", model
	}
	return "", model
}

// androidModel extracts the device token that follows the Android version inside
// the first parenthesized group, e.g. "Linux; Android 14; Pixel 8" -> "Pixel 8".
func androidModel(ua string) string {
	start := strings.Index(ua, "(")
	end := strings.Index(ua, ")")
	if start < 0 || end <= start {
		return ""
	}
	parts := strings.Split(ua[start+1:end], ";")
	for i, p := range parts {
		if strings.HasPrefix(strings.TrimSpace(p), "Android") && i+1 < len(parts) {
			m := strings.TrimSpace(parts[i+1])
			m, _, _ = strings.Cut(m, " Build/")
			if m == "K" || m == "wv" {
				return ""
			}
			return m
		}
	}
	return ""
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return Unknown
	}
	return s
}
