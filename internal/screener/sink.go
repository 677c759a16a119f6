package screener

import (
	"context"
	"log"
	"time"

	"crypto-screenerv1/internal/model"
)

// triggerSink is the filter engine's emission path. Persistence comes
// first; the cache mark, chart broadcast and notification are visible
// side effects of a trigger that already exists in the store.
type triggerSink struct {
	m *Manager
}

func (s *triggerSink) Emit(ctx context.Context, t *model.Trigger) error {
	if err := s.m.d.Store.SaveTrigger(ctx, t); err != nil {
		return err
	}
	s.m.d.Metrics.TriggersTotal.WithLabelValues(string(t.FilterType)).Inc()
	log.Printf("[screener] trigger: filter=%q %s %s", t.FilterName, t.Symbol, t.Market)

	s.m.d.Cache.PutTriggerMark(t.Symbol, t.Market, t.Mark())
	s.m.d.Hub.BroadcastTrigger(t)

	// Notification is best-effort and off the evaluation path. A failed
	// send leaves notified=false and is never retried.
	trigger := *t
	base := s.m.runCtx
	if base == nil {
		base = context.Background()
	}
	s.m.wg.Add(1)
	go func() {
		defer s.m.wg.Done()
		nctx, cancel := context.WithTimeout(base, 10*time.Second)
		defer cancel()
		if err := s.m.d.Notifier.NotifyTrigger(nctx, &trigger); err != nil {
			s.m.d.Metrics.NotifyFailures.Inc()
			log.Printf("[screener] notify trigger %d: %v", trigger.ID, err)
			return
		}
		if err := s.m.d.Store.SetTriggerNotified(nctx, trigger.ID, true); err != nil {
			log.Printf("[screener] marking trigger %d notified: %v", trigger.ID, err)
		}
	}()
	return nil
}
