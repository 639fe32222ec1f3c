package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 URL/分类/策略/响应来源字段，供调度请求日志复用。
func RequestFields(url, category, strategy, source string) logrus.Fields {
	return logrus.Fields{
		"url":      url,
		"category": category,
		"strategy": strategy,
		"source":   source,
	}
}
