package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// YesNo 兼容旧配置里的 'yes'/'no' 字符串，同时接受 YAML 布尔值。
type YesNo bool

func (y *YesNo) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("第 %d 行：期望 yes/no，实际是非标量值", node.Line)
	}
	v, err := ParseYesNo(node.Value)
	if err != nil {
		return fmt.Errorf("第 %d 行：%w", node.Line, err)
	}
	*y = YesNo(v)
	return nil
}

func (y YesNo) MarshalYAML() (any, error) {
	if y {
		return "yes", nil
	}
	return "no", nil
}

// ParseYesNo 解析 yes/no/true/false/on/off/1/0（大小写不敏感）。
func ParseYesNo(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "on", "1":
		return true, nil
	case "no", "n", "false", "off", "0":
		return false, nil
	default:
		return false, fmt.Errorf("期望 yes/no，实际是 %q", s)
	}
}
