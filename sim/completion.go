package sim

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Completion is the host-side tally of full stacks. Done closes once every tracked
// stack reported full. A world without stacks never completes.
type Completion struct {
	total  int
	logger logrus.FieldLogger

	mu   sync.Mutex
	full map[int]bool
	done chan struct{}
}

// NewCompletion tracks total stacks.
func NewCompletion(total int, logger logrus.FieldLogger) *Completion {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Completion{
		total:  total,
		logger: logger,
		full:   make(map[int]bool, total),
		done:   make(chan struct{}),
	}
}

// OnStackFull is a StackFullFunc. Repeated reports for one stack count once.
func (c *Completion) OnStackFull(s *Stack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full[s.ID] {
		return
	}
	c.full[s.ID] = true
	c.logger.WithFields(logrus.Fields{"stack": s.ID, "full": len(c.full), "total": c.total}).Info("stack full")
	if c.total > 0 && len(c.full) == c.total {
		close(c.done)
	}
}

// FullCount returns how many distinct stacks reported full.
func (c *Completion) FullCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.full)
}

// Done is closed when every stack is full.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Complete reports whether Done is closed.
func (c *Completion) Complete() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
