package pipeline

import (
	"strconv"

	"github.com/bryanchriswhite/DepthStreamer/internal/decode"
	"github.com/bryanchriswhite/DepthStreamer/internal/logger"
)

// run is the producer loop: receive a frame set, optionally unproject the
// depth slot, publish under the lock, repeat until the stop flag is set or
// the engine reports a fatal error. The loop's only blocking point is the
// engine's receive call, which has an internal timeout, so the stop flag
// is polled at bounded intervals.
func (p *Pipeline) run() {
	defer close(p.done)

	log := logger.WithComponent("producer")
	defer func() {
		// producer-owned texture reference; the producer is the only
		// goroutine that ever touches it
		p.texRef.Release()
		p.texRef = nil
	}()

	for !p.stopping.Load() {
		res := p.engine.Receive()
		switch res.Status {
		case decode.StatusTimeout:
			metricReceives.WithLabelValues("timeout").Inc()
			continue
		case decode.StatusFatal:
			metricReceives.WithLabelValues("fatal").Inc()
			if p.stopping.Load() {
				return
			}
			p.setFatal(res.Err)
			log.Error().Err(res.Err).Msg("decode engine fatal error, producer stopping")
			return
		}
		metricReceives.WithLabelValues("ok").Inc()

		// Keep the producer's own reference to the newest texture frame.
		// When only the depth slot is fresh this cycle, unprojection
		// reuses the previous texture, so published colors may lag one
		// cycle behind — accepted best-effort pairing.
		if p.clouds != nil && p.texSlot >= 0 && p.texSlot < len(res.Frames) {
			if tf := res.Frames[p.texSlot]; tf != nil {
				p.texRef.Release()
				p.texRef = tf.Retain()
			}
		}

		// Unprojection runs before taking the lock: it is the expensive
		// step and must not block the consumer. Failures are transient;
		// the cycle's frames are still published below.
		if p.clouds != nil && depthSlot < len(res.Frames) {
			if df := res.Frames[depthSlot]; df != nil {
				if err := p.unprojectAndSwap(df, p.texRef); err != nil {
					metricUnprojectRejects.Inc()
					log.Warn().Err(err).Msg("unprojection skipped")
				}
			}
		}

		p.mu.Lock()
		for i, f := range res.Frames {
			if f == nil || i >= len(p.store.slots) {
				continue
			}
			p.store.publish(i, f)
			metricPublishes.WithLabelValues(strconv.Itoa(i)).Inc()
		}
		p.mu.Unlock()
	}

	log.Debug().Msg("producer stopped")
}
