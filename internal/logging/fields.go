package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ProcessFields 标识写日志的进程，role 为空时只记录 pid。
func ProcessFields(role string, pid int) logrus.Fields {
	fields := logrus.Fields{"pid": pid}
	if role != "" {
		fields["role"] = role
	}
	return fields
}

// PackageFields 提供包标识与来源 manifest 字段，供还原过程日志复用。
func PackageFields(name, version, manifest string) logrus.Fields {
	fields := logrus.Fields{
		"package": name,
		"version": version,
	}
	if manifest != "" {
		fields["manifest"] = manifest
	}
	return fields
}

// OutcomeFields 描述单个包还原的结果与耗时（毫秒）。
func OutcomeFields(outcome string, elapsedMs int64, fetched bool) logrus.Fields {
	return logrus.Fields{
		"outcome":    outcome,
		"elapsed_ms": elapsedMs,
		"fetched":    fetched,
	}
}
