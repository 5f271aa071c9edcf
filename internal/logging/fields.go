package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求种类/键/结果字段，供 HTTP 层请求日志复用。
func RequestFields(kind, key, requestID string, served bool) logrus.Fields {
	fields := logrus.Fields{
		"kind":   kind,
		"key":    key,
		"served": served,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
