package lifecycle

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"cdpkeeper/internal/config"
	"cdpkeeper/internal/decoy"
	"cdpkeeper/internal/logger"
	"cdpkeeper/pkg/model"
	"cdpkeeper/pkg/protocol"
	"cdpkeeper/pkg/traffic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func newTestMachine(cfg Config) *Machine {
	if cfg.Pool == nil {
		cfg.Pool = decoy.NewWithSource([]string{"https://decoy.example/a", "https://decoy.example/b"}, rand.NewSource(7))
	}
	cfg.Now = func() time.Time { return fixedNow }
	return New(cfg)
}

func exchange(url string) traffic.Exchange {
	req := traffic.NewRequest()
	req.URL = url
	return traffic.Exchange{Request: req, Response: traffic.NewResponse()}
}

func TestScheduleWithoutHandle(t *testing.T) {
	m := newTestMachine(Config{})
	l := logger.NewNop()

	var s model.SessionState
	for i := int64(1); i <= 8; i++ {
		d := m.AfterIteration(s, exchange("https://target.example/"), l)
		s = d.State
		assert.Equal(t, i, s.RequestCount)
		if i%4 == 0 {
			assert.Equal(t, model.OpRefresh, d.Op, "call %d", i)
			assert.True(t, d.WantsProtocolAccess())
		} else {
			assert.Equal(t, model.OpNone, d.Op, "call %d", i)
			assert.False(t, d.WantsProtocolAccess())
		}
	}
}

func TestOperationCountOverManyCalls(t *testing.T) {
	m := newTestMachine(Config{})
	b := &fakeBrowser{}
	l := logger.NewNop()
	ctx := context.Background()

	const n = 103
	var s model.SessionState
	ops := 0
	for i := 0; i < n; i++ {
		d := m.AfterIteration(s, exchange(""), l)
		s = d.State
		if d.WantsProtocolAccess() {
			ops++
			var err error
			s, err = m.Run(ctx, b, d.Op, s, l)
			require.NoError(t, err)
		}
	}

	assert.EqualValues(t, n, s.RequestCount)
	assert.Equal(t, n/4, ops)
	assert.EqualValues(t, n/4, s.RefreshCount)
	// 第一次到期时没有句柄，转为一次初始化；之后全部是刷新
	assert.Len(t, b.created, 1)
	assert.Len(t, b.reloaded, n/4-1)
	assert.True(t, b.allPagesClosed())
}

func TestOnStartOnFirstRequest(t *testing.T) {
	m := newTestMachine(Config{OnStartOnFirstRequest: true})
	l := logger.NewNop()

	d := m.AfterIteration(model.SessionState{}, exchange(""), l)
	assert.Equal(t, model.OpInitialize, d.Op)

	d = m.AfterIteration(d.State, exchange(""), l)
	assert.Equal(t, model.OpNone, d.Op)
}

func TestOnStartTakesPrecedenceWithIntervalOne(t *testing.T) {
	m := newTestMachine(Config{RefreshInterval: 1, OnStartOnFirstRequest: true})
	l := logger.NewNop()

	d := m.AfterIteration(model.SessionState{}, exchange(""), l)
	assert.Equal(t, model.OpInitialize, d.Op)
	d = m.AfterIteration(d.State, exchange(""), l)
	assert.Equal(t, model.OpRefresh, d.Op)
}

func TestAfterIterationLogsOnce(t *testing.T) {
	m := newTestMachine(Config{})
	l := newRecordLogger()

	s := model.SessionState{RequestCount: 3, OpenTabTargetID: "T9"}
	d := m.AfterIteration(s, exchange("https://target.example/x"), l)

	require.Equal(t, 1, l.count())
	e := l.last()
	assert.Equal(t, "info", e.level)
	assert.EqualValues(t, 4, field(e, "request_count"))
	assert.Equal(t, true, field(e, "needs_refresh"))
	assert.Equal(t, true, field(e, "has_tab"))
	assert.Equal(t, "refresh", field(e, "decision"))
	assert.Equal(t, "https://target.example/x", field(e, "url"))
	assert.Equal(t, model.OpRefresh, d.Op)
}

func TestBootstrapDecisionLogged(t *testing.T) {
	m := newTestMachine(Config{})
	l := newRecordLogger()

	m.AfterIteration(model.SessionState{RequestCount: 7}, traffic.Exchange{}, l)
	assert.Equal(t, "bootstrap", field(l.last(), "decision"))
	assert.Equal(t, "", field(l.last(), "url"))
}

func TestAfterIterationDoesNotMutateInput(t *testing.T) {
	m := newTestMachine(Config{})
	s := model.SessionState{RequestCount: 2}

	d := m.AfterIteration(s, exchange(""), logger.NewNop())
	assert.EqualValues(t, 2, s.RequestCount)
	assert.EqualValues(t, 3, d.State.RequestCount)
}

func TestCallback(t *testing.T) {
	m := newTestMachine(Config{})
	assert.Nil(t, m.Callback(model.OpNone))

	cb := m.Callback(model.OpInitialize)
	require.NotNil(t, cb)
	b := &fakeBrowser{}
	s, err := cb(context.Background(), b, model.SessionState{}, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, model.TargetID("T1"), s.OpenTabTargetID)
}

func TestRunUnknownOperation(t *testing.T) {
	m := newTestMachine(Config{})
	_, err := m.Run(context.Background(), &fakeBrowser{}, model.Operation("explode"), model.SessionState{}, logger.NewNop())
	assert.Error(t, err)

	s, err := m.Run(context.Background(), &fakeBrowser{}, model.OpNone, model.SessionState{RequestCount: 5}, logger.NewNop())
	require.NoError(t, err)
	assert.EqualValues(t, 5, s.RequestCount)
}

func TestInitialize(t *testing.T) {
	m := newTestMachine(Config{})
	b := &fakeBrowser{}

	s, err := m.Initialize(context.Background(), b, model.SessionState{RequestCount: 4}, logger.NewNop())
	require.NoError(t, err)

	assert.True(t, s.Initialized)
	assert.Equal(t, fixedNow, s.InitializedAt)
	assert.Equal(t, model.TargetID("T1"), s.OpenTabTargetID)
	assert.EqualValues(t, 4, s.RequestCount)
	assert.Zero(t, s.RefreshCount)
	assert.True(t, s.LastRefreshAt.IsZero())
	require.Len(t, b.navigated, 1)
	assert.Contains(t, []string{"https://decoy.example/a", "https://decoy.example/b"}, b.navigated[0])
	assert.True(t, b.allPagesClosed())
	assert.Empty(t, b.closed)
}

func TestInitializeReplacesAndClosesPreviousTab(t *testing.T) {
	m := newTestMachine(Config{CloseReplacedTab: true})
	b := &fakeBrowser{}
	ctx := context.Background()
	l := logger.NewNop()

	s, err := m.Initialize(ctx, b, model.SessionState{}, l)
	require.NoError(t, err)
	s, err = m.Initialize(ctx, b, s, l)
	require.NoError(t, err)

	assert.Equal(t, model.TargetID("T2"), s.OpenTabTargetID)
	assert.Equal(t, []model.TargetID{"T1"}, b.closed)
}

func TestInitializeKeepsPreviousTabWhenConfigured(t *testing.T) {
	m := newTestMachine(Config{CloseReplacedTab: false})
	b := &fakeBrowser{}

	s, err := m.Initialize(context.Background(), b, model.SessionState{OpenTabTargetID: "OLD"}, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, model.TargetID("T1"), s.OpenTabTargetID)
	assert.Empty(t, b.closed)
}

func TestInitializeNavigationFailureDiscardsNewTab(t *testing.T) {
	m := newTestMachine(Config{CloseReplacedTab: true})
	b := &fakeBrowser{navigateErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	in := model.SessionState{RequestCount: 4, OpenTabTargetID: "OLD", Initialized: true}

	s, err := m.Initialize(context.Background(), b, in, logger.NewNop())

	require.Error(t, err)
	assert.Equal(t, in, s)
	assert.Equal(t, []model.TargetID{"T1"}, b.closed)
	assert.True(t, b.allPagesClosed())
}

func TestInitializeCreateFailure(t *testing.T) {
	m := newTestMachine(Config{})
	b := &fakeBrowser{createErr: errors.New("Target.createTarget: browser has no window")}

	_, err := m.Initialize(context.Background(), b, model.SessionState{}, logger.NewNop())
	assert.ErrorIs(t, err, b.createErr)
	assert.Empty(t, b.attached)
}

func TestRefreshWithoutHandleRoutesToInitialize(t *testing.T) {
	m := newTestMachine(Config{})
	b := &fakeBrowser{}
	l := newRecordLogger()

	s, err := m.Refresh(context.Background(), b, model.SessionState{RequestCount: 4}, l)
	require.NoError(t, err)

	assert.True(t, s.Initialized)
	assert.Equal(t, model.TargetID("T1"), s.OpenTabTargetID)
	assert.EqualValues(t, 1, s.RefreshCount)
	assert.Equal(t, fixedNow, s.LastRefreshAt)
	assert.Empty(t, b.reloaded)
	assert.Equal(t, "warn", (*l.entries)[0].level)
}

func TestRefreshReloadsRecordedTab(t *testing.T) {
	m := newTestMachine(Config{})
	b := &fakeBrowser{}
	in := model.SessionState{RequestCount: 8, OpenTabTargetID: "T7", Initialized: true, RefreshCount: 1}

	s, err := m.Refresh(context.Background(), b, in, logger.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []model.TargetID{"T7"}, b.attached)
	assert.Equal(t, []model.TargetID{"T7"}, b.reloaded)
	assert.Equal(t, model.TargetID("T7"), s.OpenTabTargetID)
	assert.EqualValues(t, 2, s.RefreshCount)
	assert.Equal(t, fixedNow, s.LastRefreshAt)
	assert.Empty(t, b.created)
	assert.True(t, b.allPagesClosed())
}

func TestRefreshTargetLossFallsBackToInitialize(t *testing.T) {
	tests := []struct {
		name    string
		browser *fakeBrowser
	}{
		{name: "attach not found", browser: &fakeBrowser{attachErr: protocol.ErrTargetNotFound}},
		{name: "reload target closed", browser: &fakeBrowser{reloadErr: errors.New("Target closed")}},
		{name: "enable session closed", browser: &fakeBrowser{enableErr: errors.New("Session closed. Most likely the page has been closed.")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(Config{CloseReplacedTab: true})
			b := tt.browser
			in := model.SessionState{RequestCount: 8, OpenTabTargetID: "OLD", Initialized: true, RefreshCount: 1}

			s, err := m.Refresh(context.Background(), b, in, logger.NewNop())
			require.NoError(t, err)

			assert.Equal(t, model.TargetID("T1"), s.OpenTabTargetID)
			assert.True(t, s.Initialized)
			assert.Equal(t, fixedNow, s.InitializedAt)
			assert.EqualValues(t, 2, s.RefreshCount)
			assert.True(t, b.allPagesClosed())
			// 丢失的旧标签页不再尝试关闭
			assert.NotContains(t, b.closed, model.TargetID("OLD"))
		})
	}
}

func TestRefreshLossDuringReloadClosesConnection(t *testing.T) {
	m := newTestMachine(Config{})
	b := &fakeBrowser{reloadErr: errors.New("Inspected target navigated or closed")}
	in := model.SessionState{OpenTabTargetID: "OLD"}

	// 重新初始化只导航不重载，所以 reloadErr 不影响回退
	s, err := m.Refresh(context.Background(), b, in, logger.NewNop())
	require.NoError(t, err)

	assert.Equal(t, model.TargetID("T1"), s.OpenTabTargetID)
	require.Len(t, b.pages, 2)
	assert.True(t, b.allPagesClosed())
}

func TestRefreshNonLossErrorPropagates(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "navigation timeout", err: errors.New("navigation timeout")},
		{name: "malformed command", err: errors.New("rpc error: Invalid parameters (code = -32602)")},
		{name: "deadline", err: context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(Config{})
			b := &fakeBrowser{reloadErr: tt.err}
			in := model.SessionState{RequestCount: 8, OpenTabTargetID: "T5", Initialized: true, RefreshCount: 1}

			s, err := m.Refresh(context.Background(), b, in, logger.NewNop())

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, in, s)
			assert.EqualValues(t, 1, s.RefreshCount)
			assert.Empty(t, b.created)
			assert.True(t, b.allPagesClosed())
		})
	}
}

func TestRefreshFallbackInitializeFailurePropagates(t *testing.T) {
	m := newTestMachine(Config{})
	b := &fakeBrowser{attachErr: protocol.ErrTargetNotFound, createErr: errors.New("browser has no window")}
	in := model.SessionState{OpenTabTargetID: "OLD", RefreshCount: 3}

	s, err := m.Refresh(context.Background(), b, in, logger.NewNop())

	require.Error(t, err)
	assert.Equal(t, in, s)
}

func TestRelease(t *testing.T) {
	m := newTestMachine(Config{})
	b := &fakeBrowser{closeErr: errors.New("No target with given id found")}

	s := m.Release(context.Background(), b, model.SessionState{OpenTabTargetID: "T3", RequestCount: 9}, logger.NewNop())
	assert.False(t, s.HasTab())
	assert.EqualValues(t, 9, s.RequestCount)
	assert.Equal(t, []model.TargetID{"T3"}, b.closed)

	s = m.Release(context.Background(), b, s, logger.NewNop())
	assert.Len(t, b.closed, 1)
}

func TestNewFromConfig(t *testing.T) {
	m := NewFromConfig(config.LifecycleConfig{RefreshInterval: 2, DecoyURLs: []string{"https://decoy.example/only"}})
	assert.EqualValues(t, 2, m.interval)
	u, err := m.pool.Pick()
	require.NoError(t, err)
	assert.Equal(t, "https://decoy.example/only", u)
}
