package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// JobFields 提供指纹/URL/订阅者字段，供引擎的请求生命周期日志复用。
func JobFields(key, url, subscriberID string) logrus.Fields {
	return logrus.Fields{
		"action":        "image_request",
		"key":           key,
		"url":           url,
		"subscriber_id": subscriberID,
	}
}

// RequestFields 提供 HTTP 请求维度字段，供 /fetch 访问日志复用。
func RequestFields(requestID, url string, cacheHit bool, status int) logrus.Fields {
	return logrus.Fields{
		"action":     "fetch",
		"request_id": requestID,
		"url":        url,
		"cache_hit":  cacheHit,
		"status":     status,
	}
}
