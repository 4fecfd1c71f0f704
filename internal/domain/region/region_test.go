package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"贵州", "贵州省"},
		{"河北", "河北省"},
		{"黑龙江", "黑龙江省"},
		{"北京", "北京市"},
		{"重庆", "重庆市"},
		{"广西", "广西壮族自治区"},
		{"内蒙古", "内蒙古自治区"},
		{"新疆", "新疆维吾尔自治区"},
		{"香港", "香港特别行政区"},
		{"澳门", "澳门特别行政区"},
		// already-normalized names pass through
		{"贵州省", "贵州省"},
		{"上海市", "上海市"},
		{"宁夏回族自治区", "宁夏回族自治区"},
		{"香港特别行政区", "香港特别行政区"},
		{" 贵州 ", "贵州省"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}
