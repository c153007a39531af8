package wait

import "sync"

// Group tracks in-flight asynchronous work so a drain can wait for it.
type Group struct {
	mu     sync.Mutex
	active int
	idle   []chan struct{}
}

// Go runs fn on a new goroutine tracked by the group.
func (g *Group) Go(fn func()) {
	g.Add()
	go func() {
		defer g.Done()
		fn()
	}()
}

// Add registers one unit of work.
func (g *Group) Add() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active++
}

// Done marks one unit of work finished.
func (g *Group) Done() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == 0 {
		panic("wait: Group.Done called more times than Add")
	}
	g.active--
	if g.active > 0 {
		return
	}
	for _, ch := range g.idle {
		close(ch)
	}
	g.idle = nil
}

// Active returns the number of unfinished units of work.
func (g *Group) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Idle returns a channel closed once no work is in flight. The channel is
// already closed when the group is idle.
func (g *Group) Idle() <-chan struct{} {
	ch := make(chan struct{})

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == 0 {
		close(ch)
		return ch
	}
	g.idle = append(g.idle, ch)
	return ch
}
