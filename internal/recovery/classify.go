package recovery

import "strings"

// Rule 目标丢失判定规则：错误信息（小写）包含任一子串即命中
type Rule struct {
	Name       string
	Substrings []string
}

// Rules 目标丢失特征表，新增特征只需追加条目
var Rules = []Rule{
	{Name: "target-closed", Substrings: []string{"target closed"}},
	{Name: "target-not-found", Substrings: []string{"no target with given id", "no such target", "target not found"}},
	{Name: "target-detached", Substrings: []string{"detached"}},
	{Name: "session-closed", Substrings: []string{"session closed", "session with given id not found", "connection is closing"}},
	{Name: "inspected-target-gone", Substrings: []string{"inspected target navigated or closed"}},
}

// Classify 返回命中的规则名；未命中时 lost 为 false
func Classify(err error) (rule string, lost bool) {
	if err == nil {
		return "", false
	}
	msg := strings.ToLower(err.Error())
	for _, r := range Rules {
		for _, s := range r.Substrings {
			if strings.Contains(msg, s) {
				return r.Name, true
			}
		}
	}
	return "", false
}

// IsTargetLost 判断错误是否表示受控标签页或浏览器会话已不存在
func IsTargetLost(err error) bool {
	_, lost := Classify(err)
	return lost
}
