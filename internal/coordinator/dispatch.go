package coordinator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Aman-CERP/mdsentry/internal/conflict"
	"github.com/Aman-CERP/mdsentry/internal/resolution"
)

// subscriberBuffer is the number of conflict batches a subscriber may
// hold before delivery blocks.
const subscriberBuffer = 16

// prompt is an outstanding per-path resolution prompt.
type prompt struct {
	id     string
	cancel context.CancelFunc
}

type subscriber struct {
	ch   chan []*conflict.Conflict
	done chan struct{}
}

// dispatch hands ready conflicts to the resolution surface. Nothing drains
// while no prompter or subscriber is attached, so conflicts wait pending.
// A prompter takes precedence over subscribers.
func (c *Coordinator) dispatch(ctx context.Context) {
	c.mu.Lock()
	if c.closed || (c.prompter == nil && len(c.subs) == 0) {
		c.mu.Unlock()
		return
	}
	ready := c.queue.Drain(c.now())
	if len(ready) == 0 {
		c.mu.Unlock()
		return
	}

	var (
		autos   []resolution.Resolution
		forSubs []*conflict.Conflict
	)
	for _, cf := range ready {
		if a, ok := c.policy.Resolve(cf); ok {
			autos = append(autos, resolution.Resolution{ConflictID: cf.ID, Action: a, Auto: true})
			continue
		}
		if c.prompter != nil {
			c.startPromptLocked(cf)
			continue
		}
		forSubs = append(forSubs, cf)
	}
	subs := make([]*subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	if len(autos) > 0 {
		if _, err := c.ApplyResolutions(ctx, autos); err != nil {
			c.logger.Warn("automatic resolution failed", slog.String("error", err.Error()))
		}
	}
	if len(forSubs) > 0 {
		c.deliver(ctx, subs, forSubs)
	}
}

// startPromptLocked asks the prompter about cf in its own goroutine so a
// slow answer holds up only this path.
func (c *Coordinator) startPromptLocked(cf *conflict.Conflict) {
	pctx, cancel := context.WithCancel(c.baseCtx)
	c.prompts[cf.Path] = &prompt{id: cf.ID, cancel: cancel}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		res, err := c.policy.Decide(pctx, cf, c.prompter)

		c.mu.Lock()
		if p, ok := c.prompts[cf.Path]; ok && p.id == cf.ID {
			delete(c.prompts, cf.Path)
		}
		c.mu.Unlock()

		if err != nil {
			if pctx.Err() != nil {
				return
			}
			c.logger.Warn("prompt failed, dismissing",
				slog.String("path", cf.Path),
				slog.String("error", err.Error()))
			res = resolution.Resolution{ConflictID: cf.ID, Action: resolution.ActionDismiss}
		}
		if _, err := c.ApplyResolutions(c.baseCtx, []resolution.Resolution{res}); err != nil {
			c.logger.Warn("resolution failed",
				slog.String("path", cf.Path),
				slog.String("action", string(res.Action)),
				slog.String("error", err.Error()))
		}
		c.signal()
	}()
}

// cancelPromptLocked abandons the prompt for path if it is about id.
func (c *Coordinator) cancelPromptLocked(path, id string) {
	if p, ok := c.prompts[path]; ok && p.id == id {
		p.cancel()
		delete(c.prompts, path)
	}
}

// deliver sends batch to every subscriber. A batch nobody received goes
// back to pending.
func (c *Coordinator) deliver(ctx context.Context, subs []*subscriber, batch []*conflict.Conflict) {
	delivered := false
	for _, s := range subs {
		out := append([]*conflict.Conflict(nil), batch...)
		select {
		case s.ch <- out:
			delivered = true
		case <-s.done:
		case <-c.done:
		case <-ctx.Done():
		}
	}
	if delivered {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, cf := range batch {
		c.queue.Requeue(cf, now)
	}
}

func (c *Coordinator) subscribe() (*subscriber, func()) {
	s := &subscriber{
		ch:   make(chan []*conflict.Conflict, subscriberBuffer),
		done: make(chan struct{}),
	}
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = s
	c.mu.Unlock()
	c.signal()

	var once sync.Once
	return s, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(s.done)
		})
	}
}

// Subscribe returns a channel of ready conflict batches and a function
// that ends the subscription. Each delivered conflict stays in flight
// until ApplyResolutions answers it.
func (c *Coordinator) Subscribe() (<-chan []*conflict.Conflict, func()) {
	s, unsubscribe := c.subscribe()
	return s.ch, unsubscribe
}

// OnConflictsReady calls fn with every ready batch and applies the
// resolutions it returns. Conflicts fn leaves unanswered are presented
// again. The subscription ends when ctx is done or the returned function
// is called.
func (c *Coordinator) OnConflictsReady(ctx context.Context, fn func([]*conflict.Conflict) []resolution.Resolution) func() {
	s, unsubscribe := c.subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-s.done:
				return
			case batch := <-s.ch:
				answers := fn(batch)
				if _, err := c.ApplyResolutions(ctx, answers); err != nil {
					c.logger.Warn("resolution failed", slog.String("error", err.Error()))
				}
				c.requeueUnanswered(batch, answers)
			}
		}
	}()
	return unsubscribe
}

func (c *Coordinator) requeueUnanswered(batch []*conflict.Conflict, answers []resolution.Resolution) {
	answered := make(map[string]bool, len(answers))
	for _, r := range answers {
		answered[r.ConflictID] = true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, cf := range batch {
		if answered[cf.ID] {
			continue
		}
		if cur, ok := c.queue.InFlightFor(cf.Path); ok && cur.ID == cf.ID {
			c.queue.Requeue(cf, now)
		}
	}
	c.signal()
}
