package pipeline

import "github.com/sproutcast/sproutcast/pkg/gen"

// SYNC-WATCHER-CHANNEL-SIZE
const WatcherChannelSize = 100

// Register to receive every published cycle record.
func (p *Pipeline) AddWatcher() chan *CycleRecord {
	p.watchersLock.Lock()
	defer p.watchersLock.Unlock()
	ch := make(chan *CycleRecord, WatcherChannelSize)
	p.watchers = append(p.watchers, ch)
	return ch
}

// Unregister from cycle records.
func (p *Pipeline) RemoveWatcher(ch chan *CycleRecord) {
	p.watchersLock.Lock()
	defer p.watchersLock.Unlock()
	for i, w := range p.watchers {
		if w == ch {
			p.watchers = gen.DeleteFromSliceUnordered(p.watchers, i)
			return
		}
	}
	p.Log.Warnf("Pipeline.RemoveWatcher failed to find channel")
}

func (p *Pipeline) sendToWatchers(rec *CycleRecord) {
	p.watchersLock.RLock()
	for _, ch := range p.watchers {
		// SYNC-WATCHER-CHANNEL-SIZE
		if len(ch) >= cap(ch)*9/10 {
			// If a watcher stalls, we drop records rather than stall the
			// pipeline and every other watcher with it.
			p.Log.Warnf("Pipeline watcher is falling behind. I am going to drop records.")
		} else {
			ch <- rec
		}
	}
	p.watchersLock.RUnlock()
}
