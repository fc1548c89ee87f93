package cdp

import (
	"context"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"
)

// consume 持续接收拦截事件并按并发限制分发处理
func (p *Page) consume(rp fetch.RequestPausedClient) {
	defer p.consumeWG.Done()
	defer rp.Close()

	for {
		ev, err := rp.Recv()
		if err != nil {
			if p.ctx.Err() == nil {
				p.m.log.Warn("拦截事件流中断", "target", string(p.id), "error", err)
			}
			return
		}
		p.dispatchPaused(ev)
	}
}

// dispatchPaused 根据并发配置调度单次拦截事件处理
func (p *Page) dispatchPaused(ev *fetch.RequestPausedReply) {
	if p.pool == nil {
		p.handle(ev)
		return
	}
	submitted := p.pool.submit(func() {
		p.handle(ev)
	})
	if !submitted {
		ctx, cancel := context.WithTimeout(p.ctx, 1*time.Second)
		defer cancel()
		p.handler.Degrade(ctx, p.client.Fetch, ev, "并发队列已满")
	}
}

// handle 处理一次拦截事件
func (p *Page) handle(ev *fetch.RequestPausedReply) {
	to := p.m.processTimeoutMS
	if to <= 0 {
		to = 3000
	}
	ctx, cancel := context.WithTimeout(p.ctx, time.Duration(to)*time.Millisecond)
	defer cancel()
	p.handler.Handle(ctx, p.client.Fetch, ev)
}
