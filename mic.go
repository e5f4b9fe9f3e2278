package wpa

import "go.uber.org/zap"

// handleMICFailure requests new keys and, on a second failure within
// micFailureWindow, starts TKIP countermeasures: the link is dropped and
// the driver blocks traffic until TimerCountermeasures fires.
func (s *Session) handleMICFailure(unicast bool) {
	s.log.Warn("Michael MIC failure detected", zap.Bool("unicast", unicast))
	s.port.RequestKey(unicast)

	now := s.now()
	if !s.countermeasures && !s.lastMICFailure.IsZero() && now.Sub(s.lastMICFailure) <= micFailureWindow {
		s.countermeasures = true
		s.log.Warn("TKIP countermeasures started")

		if err := s.driver.SetCountermeasures(true); err != nil {
			s.log.Warn("failed to enable countermeasures", zap.Error(err))
		}
		s.Disassociate(ReasonMichaelMICFailure)
		s.sched.Schedule(TimerCountermeasures, countermeasuresDuration)
	}

	s.lastMICFailure = now
}

func (s *Session) stopCountermeasures() {
	if !s.countermeasures {
		return
	}

	s.countermeasures = false
	if err := s.driver.SetCountermeasures(false); err != nil {
		s.log.Warn("failed to disable countermeasures", zap.Error(err))
	}

	s.log.Info("TKIP countermeasures stopped")
	s.RequestScan(0)
}
