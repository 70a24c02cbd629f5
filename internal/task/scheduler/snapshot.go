package scheduler

import (
	"sort"
	"time"
)

// Armed lists armed triggers with their next estimated fire times, soonest
// first.
func (s *Service) Armed() []ArmedInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armedLocked()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Started:  s.c != nil,
		Timezone: s.loc.String(),
		Armed:    s.armedLocked(),
		Fired:    s.fired,
	}
}

func (s *Service) armedLocked() []ArmedInfo {
	now := s.now().In(s.loc)
	out := make([]ArmedInfo, 0, len(s.jobs))
	for id, job := range s.jobs {
		info := ArmedInfo{
			TriggerID:  id,
			IdentityID: job.trigger.IdentityID,
			Kind:       job.kind,
			Spec:       job.spec,
		}
		switch job.kind {
		case KindOnce:
			info.Spec = job.at.Format(time.RFC3339)
			info.Next = []time.Time{job.at}
		case KindWeekly:
			info.Next = s.previewNextRunsLocked(job.spec, now, previewRuns)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := firstOf(out[i].Next), firstOf(out[j].Next)
		if !ni.Equal(nj) {
			return ni.Before(nj)
		}
		return out[i].TriggerID < out[j].TriggerID
	})
	return out
}

func (s *Service) previewNextRunsLocked(spec string, from time.Time, n int) []time.Time {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return nil
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}

func firstOf(ts []time.Time) time.Time {
	if len(ts) == 0 {
		return time.Time{}
	}
	return ts[0]
}
