// Package state 在宿主持有的不透明 JSON 状态文档中读写会话字段，
// 文档中其他键原样保留。时间以 Unix 毫秒存储。
package state

import (
	"fmt"
	"time"

	"cdpkeeper/pkg/model"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	KeyRequestCount    = "request_count"
	KeyOpenTabTargetID = "open_tab_target_id"
	KeyInitialized     = "initialized"
	KeyInitializedAt   = "initialized_at"
	KeyLastRefreshAt   = "last_refresh_at"
	KeyRefreshCount    = "refresh_count"
)

// Decode 从状态文档读取会话字段，缺失的键取零值
func Decode(doc []byte) (model.SessionState, error) {
	var s model.SessionState
	if len(doc) == 0 {
		return s, nil
	}
	if !gjson.ValidBytes(doc) {
		return s, fmt.Errorf("state document is not valid json")
	}
	r := gjson.GetManyBytes(doc,
		KeyRequestCount, KeyOpenTabTargetID, KeyInitialized,
		KeyInitializedAt, KeyLastRefreshAt, KeyRefreshCount,
	)
	s.RequestCount = r[0].Int()
	s.OpenTabTargetID = model.TargetID(r[1].String())
	s.Initialized = r[2].Bool()
	s.InitializedAt = fromMillis(r[3])
	s.LastRefreshAt = fromMillis(r[4])
	s.RefreshCount = r[5].Int()
	return s, nil
}

// Encode 把会话字段写回状态文档
func Encode(doc []byte, s model.SessionState) ([]byte, error) {
	if len(doc) == 0 {
		doc = []byte(`{}`)
	}
	var err error
	set := func(key string, v any) {
		if err != nil {
			return
		}
		doc, err = sjson.SetBytes(doc, key, v)
	}
	del := func(key string) {
		if err != nil {
			return
		}
		doc, err = sjson.DeleteBytes(doc, key)
	}

	set(KeyRequestCount, s.RequestCount)
	if s.OpenTabTargetID != "" {
		set(KeyOpenTabTargetID, string(s.OpenTabTargetID))
	} else {
		del(KeyOpenTabTargetID)
	}
	set(KeyInitialized, s.Initialized)
	for key, t := range map[string]time.Time{KeyInitializedAt: s.InitializedAt, KeyLastRefreshAt: s.LastRefreshAt} {
		if t.IsZero() {
			del(key)
		} else {
			set(key, t.UnixMilli())
		}
	}
	set(KeyRefreshCount, s.RefreshCount)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return doc, nil
}

func fromMillis(r gjson.Result) time.Time {
	if !r.Exists() || r.Int() == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.Int())
}
