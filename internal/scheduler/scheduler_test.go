package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaignGate(t *testing.T) {
	gate := NewCampaignGate()

	require.True(t, gate.TryAcquire("camp-1"))
	assert.False(t, gate.TryAcquire("camp-1"), "a held campaign must not be acquired twice")
	assert.True(t, gate.TryAcquire("camp-2"), "other campaigns are unaffected")

	gate.Release("camp-1")
	assert.True(t, gate.TryAcquire("camp-1"))
}

func TestCampaignGate_Concurrent(t *testing.T) {
	gate := NewCampaignGate()

	var wg sync.WaitGroup
	acquired := make([]bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			acquired[slot] = gate.TryAcquire("camp-1")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, ok := range acquired {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

type countingJob struct {
	mu   sync.Mutex
	runs int
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs++
	return nil
}

func (j *countingJob) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

func TestScheduler_RunNow(t *testing.T) {
	sched := New(zerolog.Nop())
	job := &countingJob{}

	require.NoError(t, sched.RunNow(job))
	assert.Equal(t, 1, job.count())
}

func TestScheduler_StopCancelsContext(t *testing.T) {
	sched := New(zerolog.Nop())

	started := make(chan struct{})
	require.NoError(t, sched.AddJob("* * * * * *", &blockingJob{started: started}))

	sched.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job never started")
	}

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not terminate the running job")
	}
}

type blockingJob struct {
	started   chan struct{}
	startOnce sync.Once
}

func (j *blockingJob) Name() string { return "blocking" }

func (j *blockingJob) Run(ctx context.Context) error {
	j.startOnce.Do(func() { close(j.started) })
	<-ctx.Done()
	return ctx.Err()
}
