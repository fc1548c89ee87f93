package cdp

import (
	"encoding/json"

	"cdpkeeper/pkg/traffic"

	"github.com/mafredri/cdp/protocol/fetch"
)

// ToNeutralRequest 将 CDP 拦截事件转换为中立 Request 模型
func ToNeutralRequest(ev *fetch.RequestPausedReply) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = string(ev.RequestID)
	req.URL = ev.Request.URL
	req.Method = ev.Request.Method
	req.ResourceType = string(ev.ResourceType)
	req.Stage = StageOf(ev)

	// 处理 Header
	var headers map[string]string
	if len(ev.Request.Headers) > 0 {
		if err := json.Unmarshal(ev.Request.Headers, &headers); err == nil {
			for k, v := range headers {
				req.Headers.Set(k, v)
			}
		}
	}
	return req
}

// StageOf 根据是否携带响应信息判断拦截阶段
func StageOf(ev *fetch.RequestPausedReply) traffic.Stage {
	if ev.ResponseStatusCode != nil || ev.ResponseErrorReason != nil {
		return traffic.StageResponse
	}
	return traffic.StageRequest
}
