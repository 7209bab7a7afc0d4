package service

import (
	"context"
	"time"
)

// AwaitApproval паркует одобренное риском решение до вердикта оператора.
// Таймаут, отмена контекста или отказ — false, сигнал дальше не идёт.
func (e *Engine) AwaitApproval(ctx context.Context, signalID string, timeout time.Duration) bool {
	ch := make(chan bool, 1)
	e.mu.Lock()
	e.approvals[signalID] = ch
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.approvals, signalID)
		e.mu.Unlock()
	}()

	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	select {
	case ok := <-ch:
		return ok
	case <-tmr.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// ResolveApproval — вердикт оператора по ожидающему сигналу.
// false означает, что сигнал уже не ждёт (повтор, таймаут или неизвестный ID):
// повторная команда безопасна.
func (e *Engine) ResolveApproval(signalID string, approved bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch, ok := e.approvals[signalID]
	if !ok {
		return false
	}
	delete(e.approvals, signalID)
	ch <- approved
	return true
}
