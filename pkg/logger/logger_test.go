package logger

import (
	"testing"

	"campus-portal/config"
)

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := NewLogger(&config.LogConfig{Level: "debug", Format: format}, "master")
		if err != nil {
			t.Fatalf("%s: NewLogger 失败: %v", format, err)
		}
		if !l.Core().Enabled(-1) {
			t.Errorf("%s: debug 级别应启用", format)
		}
	}
	if _, err := NewLogger(&config.LogConfig{Level: "loud"}, "master"); err == nil {
		t.Error("无效级别期望返回错误")
	}
}
