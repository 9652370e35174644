// internal/engine/usage.go
package engine

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"laststand/internal/lobby"
)

// AggregateUsage opens a short collection window, gathers the room's media
// keys and reports the summed remaining quota back to the captain only. The
// keys are queried and discarded, never stored on the lobby.
func (e *Engine) AggregateUsage(code, callerID string) error {
	l, ok := e.Store.Get(code)
	if !ok {
		return fmt.Errorf("lobby %s not found", code)
	}
	l.Mu.Lock()
	if !l.IsCaptainUnsafe(callerID) {
		l.Mu.Unlock()
		return fmt.Errorf("only the captain can request aggregate usage")
	}
	w, err := l.OpenCollectionUnsafe(l.OnlineCountUnsafe())
	if err != nil {
		l.Mu.Unlock()
		return fmt.Errorf("credential collection already in progress: %w", err)
	}
	l.BroadcastUnsafe(lobby.Event{"type": "request_keys"})
	l.Mu.Unlock()

	go e.runUsageAggregation(l, w, callerID)
	return nil
}

func (e *Engine) runUsageAggregation(l *lobby.Lobby, w *lobby.CollectWindow, callerID string) {
	ctx := context.Background()
	e.waitWindow(w, e.UsageCollectTimeout)

	l.Mu.Lock()
	_, secondary := l.CloseCollectionUnsafe(w)
	l.Mu.Unlock()

	var (
		mu           sync.Mutex
		total        int64
		contributors int
		wg           sync.WaitGroup
	)
	for _, key := range secondary {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			quota, err := e.Media.QuotaFor(ctx, key)
			if err != nil {
				log.WithField("lobby", l.Code).Warnf("engine: usage query failed: %v", err)
				return
			}
			mu.Lock()
			total += quota
			contributors++
			mu.Unlock()
		}(key)
	}
	wg.Wait()

	l.Mu.Lock()
	l.EmitToPlayerUnsafe(callerID, lobby.Event{
		"type":         "navy_aggregate_stats",
		"totalTokens":  total,
		"contributors": contributors,
	})
	l.Mu.Unlock()
}
