package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"cdpkeeper/internal/logger"
	"cdpkeeper/pkg/model"
	"cdpkeeper/pkg/protocol"
)

type fakeBrowser struct {
	mu sync.Mutex

	next      int
	created   []model.TargetID
	closed    []model.TargetID
	attached  []model.TargetID
	navigated []string
	reloaded  []model.TargetID
	pages     []*fakePage

	createErr   error
	attachErr   error
	enableErr   error
	navigateErr error
	reloadErr   error
	closeErr    error
}

func (b *fakeBrowser) CreateTarget(_ context.Context, _ string) (model.TargetID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return "", b.createErr
	}
	b.next++
	id := model.TargetID(fmt.Sprintf("T%d", b.next))
	b.created = append(b.created, id)
	return id, nil
}

func (b *fakeBrowser) CloseTarget(_ context.Context, id model.TargetID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, id)
	return b.closeErr
}

func (b *fakeBrowser) Attach(_ context.Context, id model.TargetID) (protocol.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attached = append(b.attached, id)
	if b.attachErr != nil {
		err := b.attachErr
		// 只影响第一次连接，模拟浏览器重启后旧句柄失效
		b.attachErr = nil
		return nil, err
	}
	p := &fakePage{b: b, id: id}
	b.pages = append(b.pages, p)
	return p, nil
}

func (b *fakeBrowser) allPagesClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.pages {
		if !p.closed {
			return false
		}
	}
	return true
}

type fakePage struct {
	b       *fakeBrowser
	id      model.TargetID
	enabled bool
	closed  bool
}

func (p *fakePage) Enable(context.Context) error {
	if err := p.b.enableErr; err != nil {
		p.b.enableErr = nil
		return err
	}
	p.enabled = true
	return nil
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	if !p.enabled {
		return protocol.ErrNotEnabled
	}
	if p.b.navigateErr != nil {
		return p.b.navigateErr
	}
	p.b.navigated = append(p.b.navigated, url)
	return nil
}

func (p *fakePage) Reload(context.Context) error {
	if !p.enabled {
		return protocol.ErrNotEnabled
	}
	if p.b.reloadErr != nil {
		return p.b.reloadErr
	}
	p.b.reloaded = append(p.b.reloaded, p.id)
	return nil
}

func (p *fakePage) Close() error {
	p.closed = true
	return nil
}

type entry struct {
	level string
	msg   string
	kv    []any
}

type recordLogger struct {
	mu      sync.Mutex
	entries *[]entry
	fields  []any
}

func newRecordLogger() *recordLogger {
	return &recordLogger{entries: &[]entry{}}
}

func (l *recordLogger) add(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.entries = append(*l.entries, entry{level: level, msg: msg, kv: append(append([]any{}, l.fields...), kv...)})
}

func (l *recordLogger) Debug(msg string, kv ...any) { l.add("debug", msg, kv) }
func (l *recordLogger) Info(msg string, kv ...any)  { l.add("info", msg, kv) }
func (l *recordLogger) Warn(msg string, kv ...any)  { l.add("warn", msg, kv) }
func (l *recordLogger) Error(msg string, kv ...any) { l.add("error", msg, kv) }
func (l *recordLogger) Err(err error, msg string, kv ...any) {
	l.add("error", msg, append(kv, "error", err))
}
func (l *recordLogger) With(kv ...any) logger.Logger {
	return &recordLogger{entries: l.entries, fields: append(append([]any{}, l.fields...), kv...)}
}

func (l *recordLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(*l.entries)
}

func (l *recordLogger) last() entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return (*l.entries)[len(*l.entries)-1]
}

func field(e entry, key string) any {
	for i := 0; i+1 < len(e.kv); i += 2 {
		if e.kv[i] == key {
			return e.kv[i+1]
		}
	}
	return nil
}
