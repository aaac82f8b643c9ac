package services

import (
	"context"
	"sync"
	"testing"
	"time"
)

type countingReaper struct {
	mu   sync.Mutex
	ttls []time.Duration
	hit  chan struct{}
}

func (r *countingReaper) Reap(_ context.Context, ttl time.Duration) []string {
	r.mu.Lock()
	r.ttls = append(r.ttls, ttl)
	r.mu.Unlock()
	select {
	case r.hit <- struct{}{}:
	default:
	}
	return []string{"s1"}
}

func TestAddReaper(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		ttl     time.Duration
		wantErr bool
		entry   bool
	}{
		{"every second", "* * * * * *", time.Minute, false, true},
		{"disabled", "* * * * * *", 0, false, false},
		{"bad spec", "not a schedule", time.Minute, true, false},
		{"five fields rejected", "*/5 * * * *", time.Minute, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(nil)
			id, err := s.AddReaper(tt.spec, tt.ttl, &countingReaper{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if (id != 0) != tt.entry {
				t.Errorf("entry id = %d", id)
			}
		})
	}
}

func TestReaperRuns(t *testing.T) {
	s := NewScheduler(nil)
	r := &countingReaper{hit: make(chan struct{}, 1)}
	if _, err := s.AddReaper("* * * * * *", 30*time.Second, r); err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop(context.Background())

	select {
	case <-r.hit:
	case <-time.After(3 * time.Second):
		t.Fatal("reaper never ran")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ttls[0] != 30*time.Second {
		t.Errorf("ttl = %v", r.ttls[0])
	}
}
