package chat

import "sync"

type fanoutJob struct {
	conns   []Sender
	payload []byte
}

// Fanout decouples room broadcast from individual socket writes. A fixed pool
// of workers pushes payloads into per-connection send queues; a full queue
// means a slow client and the frame is skipped for that client only.
type Fanout struct {
	jobs     chan fanoutJob
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewFanout(workers, queue int) *Fanout {
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	for i := 0; i < workers; i++ {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			for job := range f.jobs {
				for _, c := range job.conns {
					if !c.Send(job.payload) {
						// slow or closed client, skip
					}
				}
			}
		}()
	}
	return f
}

func (f *Fanout) Broadcast(conns []Sender, payload []byte) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	f.jobs <- fanoutJob{conns: conns, payload: payload}
}

func (f *Fanout) Close() {
	f.stopOnce.Do(func() { close(f.jobs) })
	f.wg.Wait()
}
