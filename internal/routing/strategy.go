package routing

// selectCandidate picks one provider from the filtered candidates according
// to the category's strategy. Candidates arrive in configured list order.
func (s *Service) selectCandidate(category, strategy string, candidates []string) string {
	switch strategy {
	case "least-used":
		return s.pickLeastUsed(candidates)
	case "fastest-response":
		return s.pickFastest(candidates)
	case "round-robin":
		return s.pickRoundRobin(category, candidates)
	default: // priority
		return s.pickByTier(candidates)
	}
}

// pickByTier returns the candidate with the lowest configured tier,
// preserving list order on ties.
func (s *Service) pickByTier(candidates []string) string {
	best := candidates[0]
	bestTier := s.providers[best].Tier
	for _, id := range candidates[1:] {
		if tier := s.providers[id].Tier; tier < bestTier {
			best, bestTier = id, tier
		}
	}
	return best
}

// pickLeastUsed returns the candidate with the lowest load factor.
func (s *Service) pickLeastUsed(candidates []string) string {
	best := candidates[0]
	bestLoad := s.LoadFactor(best)
	for _, id := range candidates[1:] {
		if load := s.LoadFactor(id); load < bestLoad {
			best, bestLoad = id, load
		}
	}
	return best
}

// pickFastest returns the candidate with the lowest smoothed latency.
// A provider with no recorded latency sorts first so the engine gathers a
// sample for it.
func (s *Service) pickFastest(candidates []string) string {
	best := candidates[0]
	bestLatency := s.health.Snapshot(best).AvgLatency
	for _, id := range candidates[1:] {
		if latency := s.health.Snapshot(id).AvgLatency; latency < bestLatency {
			best, bestLatency = id, latency
		}
	}
	return best
}

// pickRoundRobin advances the category's cursor and returns the next
// candidate after the last one used.
func (s *Service) pickRoundRobin(category string, candidates []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.rrCursor[category] % len(candidates)
	s.rrCursor[category] = idx + 1
	return candidates[idx]
}

// LoadFactor combines recent-minute volume, hourly volume, and smoothed
// latency into a single balance score: 0.5·minute + 0.3·hour + 0.2·latency.
// Window counts are normalized against their configured limits; latency is
// normalized against a 5s ceiling. Also used by the load-rebalance job.
func (s *Service) LoadFactor(id string) float64 {
	usage := s.budget.UsageFor(id)

	minuteFrac := windowFraction(usage.Minute.Count, usage.Minute.Limit)
	hourFrac := windowFraction(usage.Hour.Count, usage.Hour.Limit)

	latency := s.health.Snapshot(id).AvgLatency
	latencyFrac := float64(latency) / float64(latencyNormCeiling)
	if latencyFrac > 1 {
		latencyFrac = 1
	}

	return loadWeightMinute*minuteFrac + loadWeightHour*hourFrac + loadWeightLatency*latencyFrac
}

func windowFraction(count, limit int) float64 {
	if limit <= 0 {
		// Unlimited window: saturate softly so busy providers still
		// rank above idle ones.
		return float64(count) / float64(count+60)
	}
	frac := float64(count) / float64(limit)
	if frac > 1 {
		return 1
	}
	return frac
}
