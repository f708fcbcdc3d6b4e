package queue

import "sync"

// Ledger persists non-terminal jobs so a restarted process can pick them up.
type Ledger interface {
	SaveJob(job Job) error
	DeleteJob(id string) error
	LoadJobs() ([]Job, error)
}

// MemoryLedger keeps jobs in a map. It is used when no durable store is
// configured and in tests.
type MemoryLedger struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{jobs: make(map[string]Job)}
}

func (l *MemoryLedger) SaveJob(job Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs[job.ID] = job
	return nil
}

func (l *MemoryLedger) DeleteJob(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.jobs, id)
	return nil
}

func (l *MemoryLedger) LoadJobs() ([]Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Job, 0, len(l.jobs))
	for _, j := range l.jobs {
		out = append(out, j)
	}
	return out, nil
}
