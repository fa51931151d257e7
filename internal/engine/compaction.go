package engine

// scheduleCompaction queues c for background compaction once its tombstone
// ratio exceeds the threshold. The caller holds c.mu.
func (e *Engine) scheduleCompaction(c *collection) {
	if e.compactionThreshold <= 0 || c.graph.TombstoneRatio() <= e.compactionThreshold {
		return
	}
	select {
	case e.compactionCh <- c.name:
	default:
		// Queue full; the next delete retries.
	}
}

func (e *Engine) runCompactionLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.closeCh:
			return
		case name := <-e.compactionCh:
			e.checkCompaction(name)
		}
	}
}

func (e *Engine) checkCompaction(name string) {
	if !e.resourceController.TryAcquireBackground() {
		e.logger.Debug("Compaction deferred, no background slot", "collection", name)
		return
	}
	defer e.resourceController.ReleaseBackground()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return
	}
	c, ok := e.collections[name]
	if !ok || c.kind != KindVector {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A queued request may already have been served.
	if c.graph.TombstoneRatio() <= e.compactionThreshold {
		return
	}
	e.logger.Info("Compaction started", "collection", name, "tombstones", c.graph.Tombstones())
	if err := e.compactLocked(c); err != nil {
		e.logger.Error("Compaction failed", "collection", name, "error", err)
	}
}
