// Package region normalizes stored region names to the administrative
// form the remote shop-list endpoint expects. Location pickers tend to
// hand back bare names ("贵州", "北京", "广西"); the remote wants the full
// official division name ("贵州省", "北京市", "广西壮族自治区").
package region

import "strings"

var municipalities = map[string]bool{
	"北京": true,
	"天津": true,
	"上海": true,
	"重庆": true,
}

var autonomous = map[string]string{
	"内蒙古": "内蒙古自治区",
	"广西":  "广西壮族自治区",
	"西藏":  "西藏自治区",
	"宁夏":  "宁夏回族自治区",
	"新疆":  "新疆维吾尔自治区",
}

var special = map[string]string{
	"香港": "香港特别行政区",
	"澳门": "澳门特别行政区",
}

var suffixes = []string{"省", "市", "自治区", "特别行政区"}

// Normalize expands a bare province-level name to its official form.
// Names that already carry an administrative suffix pass through
// unchanged, as does the empty string.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return name
		}
	}
	if municipalities[name] {
		return name + "市"
	}
	if full, ok := autonomous[name]; ok {
		return full
	}
	if full, ok := special[name]; ok {
		return full
	}
	return name + "省"
}
