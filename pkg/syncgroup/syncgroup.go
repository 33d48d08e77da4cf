// Package syncgroup 是 sync.WaitGroup 的薄包装：先 Add 登记，
// Run 一次性拉起全部 goroutine，Wait 等待收尾。
// 免去逐个 wg.Add(1)/defer wg.Done() 的样板，也杜绝漏写 Done。
package syncgroup

import (
	"sync"
)

// SyncGroup 一组同生共死的 goroutine（引擎消费、对账节拍、窗口调度）。
// 只支持一轮 Add → Run → Wait；Run 之后的 Add 会被忽略。
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	fns     []func()
	started bool
}

// NewSyncGroup 创建空组
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 登记一个 goroutine 函数。必须在 Run 之前调用。
func (g *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return
	}
	g.fns = append(g.fns, fn)
}

// Run 拉起全部已登记的 goroutine。重复调用是空操作。
func (g *SyncGroup) Run() {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	fns := g.fns
	g.fns = nil
	g.mu.Unlock()

	for _, fn := range fns {
		g.wg.Add(1)
		go func(do func()) {
			defer g.wg.Done()
			do()
		}(fn)
	}
}

// Wait 阻塞到组内全部 goroutine 返回
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}
