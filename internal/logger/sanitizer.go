package logger

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Sanitizer 負責過濾日誌中的敏感資訊
//
// 限制說明：SanitizeArgs() 只遮罩「敏感 key」的 value；藏在其他 key 的字串中的
// 秘密只會被 Sanitize() 的 pattern 處理（例如 url 中的 X-Amz-Signature）。
type Sanitizer struct {
	mu    sync.RWMutex
	rules []SanitizeRule
}

// SanitizeRule 單一過濾規則
type SanitizeRule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// NewSanitizer 建立預設 sanitizer
func NewSanitizer() *Sanitizer {
	return &Sanitizer{rules: defaultSanitizeRules()}
}

func defaultSanitizeRules() []SanitizeRule {
	return []SanitizeRule{
		{regexp.MustCompile(`(?i)password=[^&\s]+`), "password=***"},
		{regexp.MustCompile(`(?i)token=[^&\s]+`), "token=***"},
		{regexp.MustCompile(`(?i)api[_-]?key=[^&\s]+`), "api_key=***"},
		{regexp.MustCompile(`(?i)bearer\s+\S+`), "bearer ***"},

		// pre-signed download URLs
		{regexp.MustCompile(`X-Amz-Signature=[^&\s]+`), "X-Amz-Signature=***"},
		{regexp.MustCompile(`X-Amz-Credential=[^&\s]+`), "X-Amz-Credential=***"},
		{regexp.MustCompile(`X-Amz-Security-Token=[^&\s]+`), "X-Amz-Security-Token=***"},

		// 使用者家目錄
		{regexp.MustCompile(`(?i)[A-Z]:\\Users\\[^\\]+`), "***:\\Users\\***"},
		{regexp.MustCompile(`/home/[^/\s]+`), "/home/***"},
		{regexp.MustCompile(`/Users/[^/\s]+`), "/Users/***"},
	}
}

// Sanitize applies every rule to input
func (s *Sanitizer) Sanitize(input string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rule := range s.rules {
		input = rule.Pattern.ReplaceAllString(input, rule.Replacement)
	}
	return input
}

// SanitizeArgs masks the values of sensitive keys and sanitizes string values
func (s *Sanitizer) SanitizeArgs(args []any) []any {
	if len(args) == 0 {
		return args
	}

	result := make([]any, len(args))
	copy(result, args)

	for i := 0; i < len(result)-1; i += 2 {
		key, ok := result[i].(string)
		if !ok {
			continue
		}

		switch v := result[i+1].(type) {
		case string:
			if isSensitiveKey(key) {
				result[i+1] = maskValue(v)
			} else {
				result[i+1] = s.Sanitize(v)
			}
		case error:
			if isSensitiveKey(key) {
				result[i+1] = maskValue(v.Error())
			} else {
				result[i+1] = s.Sanitize(v.Error())
			}
		}
	}

	return result
}

// AddRule 新增自訂過濾規則
func (s *Sanitizer) AddRule(pattern, replacement string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, SanitizeRule{Pattern: re, Replacement: replacement})
	return nil
}

var sensitiveKeys = []string{
	"password", "passwd", "token", "secret", "api_key", "apikey", "credential", "auth",
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sk := range sensitiveKeys {
		if strings.Contains(lower, sk) {
			return true
		}
	}
	return false
}

// maskValue 遮蔽值（長值保留首尾各 1 字元）
func maskValue(value string) string {
	switch {
	case len(value) <= 2:
		return "***"
	case len(value) <= 8:
		return value[:1] + "***"
	default:
		return value[:1] + "***" + value[len(value)-1:]
	}
}
