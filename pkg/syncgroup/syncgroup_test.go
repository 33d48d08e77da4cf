package syncgroup

import (
	"sync/atomic"
	"testing"
)

func TestRunExecutesAllAndWaits(t *testing.T) {
	g := NewSyncGroup()
	var n int32
	for i := 0; i < 3; i++ {
		g.Add(func() { atomic.AddInt32(&n, 1) })
	}
	g.Add(nil) // nil 函数直接忽略
	g.Run()
	g.Wait()
	if got := atomic.LoadInt32(&n); got != 3 {
		t.Fatalf("执行的 goroutine 数 = %d, want 3", got)
	}
}

func TestRunIsOneShot(t *testing.T) {
	g := NewSyncGroup()
	var n int32
	g.Add(func() { atomic.AddInt32(&n, 1) })
	g.Run()
	g.Wait()

	// 启动后的 Add / 重复 Run 都是空操作
	g.Add(func() { atomic.AddInt32(&n, 100) })
	g.Run()
	g.Wait()
	if got := atomic.LoadInt32(&n); got != 1 {
		t.Fatalf("一轮之后计数 = %d, want 1", got)
	}
}
