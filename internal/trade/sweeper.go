package trade

import (
	"log"
	"time"
)

// Sweeper expires stale pending requests on a fixed interval. It never
// touches sessions; those only end through player action or disconnect.
type Sweeper struct {
	reg      *Registry
	interval time.Duration
	log      *log.Logger

	stop chan struct{}
	done chan struct{}
}

func NewSweeper(reg *Registry, interval time.Duration, logger *log.Logger) *Sweeper {
	return &Sweeper{
		reg:      reg,
		interval: interval,
		log:      logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-s.stop:
				return
			case now := <-t.C:
				if expired := s.reg.SweepExpired(now); len(expired) > 0 && s.log != nil {
					s.log.Printf("expired %d trade request(s)", len(expired))
				}
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}
