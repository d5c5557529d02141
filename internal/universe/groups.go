package universe

import (
	"sort"
	"time"

	"dex-trade-agent/internal/domain"
)

// Rebalance recomputes the hot and watch groups from this cycle's
// evaluations. Candidates are the ranked universe ordered by score, ties
// broken by universe rank. Hot takes the top HotSize scorers above zero and
// is padded from the next-ranked candidates; watch takes the remainder up to
// WatchCap. Calls inside RebalanceInterval of the last rebalance are ignored.
// Returns true only when hot membership changed.
func (m *Manager) Rebalance(evals []domain.Evaluation, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastRebalance.IsZero() && now.Sub(m.lastRebalance) < m.cfg.RebalanceInterval {
		return false
	}
	m.lastRebalance = now

	scores := make(map[string]int, len(evals))
	for _, e := range evals {
		scores[e.Symbol] = e.Score
	}

	type ranked struct {
		symbol string
		score  int
		rank   int
	}
	candidates := make([]ranked, 0, len(m.tokens))
	for i, t := range m.tokens {
		candidates = append(candidates, ranked{symbol: t.Symbol, score: scores[t.Symbol], rank: i})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].rank < candidates[j].rank
	})

	var hot []string
	inHot := make(map[string]struct{}, m.cfg.HotSize)
	for _, c := range candidates {
		if len(hot) == m.cfg.HotSize {
			break
		}
		if c.score > 0 {
			hot = append(hot, c.symbol)
			inHot[c.symbol] = struct{}{}
		}
	}
	for _, c := range candidates {
		if len(hot) == m.cfg.HotSize {
			break
		}
		if _, ok := inHot[c.symbol]; !ok {
			hot = append(hot, c.symbol)
			inHot[c.symbol] = struct{}{}
		}
	}

	var watch []string
	for _, c := range candidates {
		if m.cfg.WatchCap > 0 && len(watch) == m.cfg.WatchCap {
			break
		}
		if _, ok := inHot[c.symbol]; !ok {
			watch = append(watch, c.symbol)
		}
	}

	changed := !sameMembers(m.hot, hot)
	m.hot, m.watch = hot, watch

	if changed {
		m.logger.Info().Strs("hot", hot).Int("watch", len(watch)).Msg("hot group changed")
	}
	return changed
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// Hot returns the hot group.
func (m *Manager) Hot() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.hot...)
}

// Watch returns the watch group.
func (m *Manager) Watch() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.watch...)
}
