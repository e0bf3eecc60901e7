package store

import "context"

// WatchSettings returns a channel that receives every HostSettings
// snapshot saved after this call, plus the current one immediately.
// The channel buffers one value; a reader that falls behind sees only
// the latest snapshot. Callers must drain it; the returned stop
// function ends delivery and closes the channel.
func (s *Store) WatchSettings(ctx context.Context, current HostSettings) (<-chan HostSettings, func()) {
	<-s.settingsMu
	id := s.nextWatchID
	s.nextWatchID++
	ch := make(chan HostSettings, 1)
	s.watchers[id] = ch
	s.settingsMu <- struct{}{}

	ch <- current

	stop := func() {
		<-s.settingsMu
		if c, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(c)
		}
		s.settingsMu <- struct{}{}
	}
	return ch, stop
}

func (s *Store) broadcastSettings(hs HostSettings) {
	<-s.settingsMu
	for _, ch := range s.watchers {
		select {
		case ch <- hs:
		default:
			// Slow subscriber: drop the stale pending value, keep the latest.
			select {
			case <-ch:
			default:
			}
			ch <- hs
		}
	}
	s.settingsMu <- struct{}{}
}
