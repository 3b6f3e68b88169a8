package scheduler

import (
	"sort"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Running:  s.c != nil,
		Timezone: s.loc.String(),
		PastDue:  s.cfg.PastDue,
		AckLead:  s.lead,
		Jobs:     make([]JobInfo, 0, len(s.jobs)),
	}
	for _, j := range s.jobs {
		it := JobInfo{Name: j.name, ReminderID: j.reminderID, Kind: string(j.kind), Spec: j.spec, Next: s.nextLocked(j)}
		if s.c != nil && j.entryID != 0 {
			it.Prev = s.c.Entry(j.entryID).Prev
		}
		snap.Jobs = append(snap.Jobs, it)
	}
	eng := s.engine
	s.mu.Unlock()

	sort.Slice(snap.Jobs, func(i, k int) bool {
		a, b := snap.Jobs[i], snap.Jobs[k]
		if !a.Next.Equal(b.Next) {
			return a.Next.Before(b.Next)
		}
		return a.Name < b.Name
	})
	if eng != nil {
		snap.Engine = eng.Snapshot()
	}
	return snap
}
