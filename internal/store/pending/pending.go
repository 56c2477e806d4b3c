// Package pending tracks deny-list removals that were requested without an
// immediate commit.
package pending

import (
	"slices"
	"sync"
)

// Queue counts the queued removals per IP. Each batch that queued an IP
// holds one count on it until its commit either succeeds or fails, so a
// failed batch never rides along with a later commit of another batch.
type Queue struct {
	mu   sync.Mutex
	keys map[string]int
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{keys: make(map[string]int)}
}

// Add queues one removal of ip.
func (q *Queue) Add(ip string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.keys[ip]++
}

// Forget drops every queued removal of ip, e.g. after ip was denied again or
// removed immediately.
func (q *Queue) Forget(ip string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.keys, ip)
}

// Len returns the number of queued IPs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.keys)
}

// Commit calls apply with the queued IPs among ips, sorted and without
// duplicates. An empty ips selects every queued IP. apply runs with the queue
// locked and is skipped when nothing is selected.
//
// On success the selected IPs are forgotten. On failure only the removals of
// this batch are released: every occurrence of an IP in ips drops one count.
// A failed commit of every queued IP keeps the queue as it was.
func (q *Queue) Commit(ips []string, apply func(keys []string) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	held := make(map[string]int, len(ips))
	for _, ip := range ips {
		held[ip]++
	}

	keys := make([]string, 0, len(q.keys))
	for ip := range q.keys {
		if _, ok := held[ip]; ok || len(ips) == 0 {
			keys = append(keys, ip)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	slices.Sort(keys)

	if err := apply(keys); err != nil {
		for ip, n := range held {
			if q.keys[ip] <= n {
				delete(q.keys, ip)
				continue
			}
			q.keys[ip] -= n
		}
		return err
	}

	for _, ip := range keys {
		delete(q.keys, ip)
	}
	return nil
}
