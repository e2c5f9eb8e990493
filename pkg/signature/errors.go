package signature

import "errors"

var (
	// 规则相关错误
	ErrCategoryNotFound = errors.New("category not found")
	ErrNoRulesFile      = errors.New("rules file not configured")
)
