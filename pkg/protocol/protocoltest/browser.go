// Package protocoltest 提供内存中的 protocol 实现，供测试驱动生命周期而不启动浏览器。
package protocoltest

import (
	"context"
	"fmt"
	"sync"

	"cdpkeeper/pkg/model"
	"cdpkeeper/pkg/protocol"
)

// Browser 记录所有调用的假浏览器，同时实现 protocol.Conn 与 protocol.Dialer
type Browser struct {
	mu sync.Mutex

	next      int
	open      map[model.TargetID]bool
	Created   []model.TargetID
	Closed    []model.TargetID
	Navigated []string
	Reloaded  []model.TargetID
	Dials     int
	Conns     int // 尚未关闭的浏览器级连接数
	Pages     int // 尚未关闭的页面连接数

	DialErr   error
	CreateErr error
	ReloadErr error
}

// New 创建假浏览器
func New() *Browser {
	return &Browser{open: make(map[model.TargetID]bool)}
}

// Dial 实现 protocol.Dialer
func (b *Browser) Dial(context.Context) (protocol.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Dials++
	if b.DialErr != nil {
		return nil, b.DialErr
	}
	b.Conns++
	return &conn{b: b}, nil
}

// Lose 模拟浏览器重启：所有标签页消失
func (b *Browser) Lose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = make(map[model.TargetID]bool)
}

// IsOpen 标签页是否仍然存在
func (b *Browser) IsOpen(id model.TargetID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open[id]
}

// Snapshot 在锁内执行 fn，用于读取记录字段
func (b *Browser) Snapshot(fn func(b *Browser)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

type conn struct {
	b      *Browser
	closed bool
}

func (c *conn) CreateTarget(_ context.Context, _ string) (model.TargetID, error) {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.CreateErr != nil {
		return "", b.CreateErr
	}
	b.next++
	id := model.TargetID(fmt.Sprintf("T%d", b.next))
	b.open[id] = true
	b.Created = append(b.Created, id)
	return id, nil
}

func (c *conn) CloseTarget(_ context.Context, id model.TargetID) error {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open[id] {
		return fmt.Errorf("close %s: %w", id, protocol.ErrTargetNotFound)
	}
	delete(b.open, id)
	b.Closed = append(b.Closed, id)
	return nil
}

func (c *conn) Attach(_ context.Context, id model.TargetID) (protocol.Page, error) {
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open[id] {
		return nil, fmt.Errorf("attach %s: %w", id, protocol.ErrTargetNotFound)
	}
	b.Pages++
	return &page{b: b, id: id}, nil
}

func (c *conn) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.b.Conns--
	}
	return nil
}

type page struct {
	b       *Browser
	id      model.TargetID
	enabled bool
	closed  bool
}

func (p *page) Enable(context.Context) error {
	p.enabled = true
	return nil
}

func (p *page) Navigate(_ context.Context, url string) error {
	if !p.enabled {
		return protocol.ErrNotEnabled
	}
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	p.b.Navigated = append(p.b.Navigated, url)
	return nil
}

func (p *page) Reload(context.Context) error {
	if !p.enabled {
		return protocol.ErrNotEnabled
	}
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if p.b.ReloadErr != nil {
		return p.b.ReloadErr
	}
	p.b.Reloaded = append(p.b.Reloaded, p.id)
	return nil
}

func (p *page) Close() error {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.b.Pages--
	}
	return nil
}
