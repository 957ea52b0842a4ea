package process

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// Reaper is the single owner of wait4(-1, ...) for encab's process
// tree: the role pid 1 (or an explicit subreaper) must play so
// orphaned grandchildren don't become permanent zombies. Only one
// Reaper runs per encab process; ChildProcess.Wait defers to it when
// one is set, rather than racing its own wait4 call against the
// reaper's.
type Reaper struct {
	waits chan waitRequest
	stop  chan struct{}
	done  chan struct{}
}

type waitRequest struct {
	pid int
	ch  chan int
}

// NewReaper returns a Reaper that is not yet running; call Start to
// mark the process a subreaper and begin draining exits.
func NewReaper() *Reaper {
	return &Reaper{
		waits: make(chan waitRequest),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start marks the calling process as a child subreaper and launches
// the background loop that reaps every exited descendant, delivering
// the exit code to whichever tracked pid it belongs to and silently
// discarding adopted orphans nobody is waiting on. The reap loop is
// started even if marking the subreaper fails (an error is still
// returned): encab is already the parent of every process.New child
// regardless of the subreaper bit, so wait4(-1, ...) still reaps
// those; only orphaned grandchildren go unreaped without it.
func (r *Reaper) Start() error {
	err := SetChildSubreaper()
	go r.run()
	return err
}

// Stop ends the reap loop. A pid still being waited on at that point
// never receives a delivery; callers must Stop only after every
// tracked program has exited.
func (r *Reaper) Stop() {
	close(r.stop)
	<-r.done
}

// Wait blocks until pid is reaped and returns its exit code.
// ChildProcess.Wait calls it; an exit reaped before Wait is called is
// held and delivered when it is.
func (r *Reaper) Wait(pid int) int {
	reply := make(chan int, 1)
	r.waits <- waitRequest{pid: pid, ch: reply}
	return <-reply
}

func (r *Reaper) run() {
	defer close(r.done)

	sigChld := make(chan os.Signal, 1)
	signal.Notify(sigChld, unix.SIGCHLD)
	defer signal.Stop(sigChld)

	waiters := make(map[int]chan int)
	pending := make(map[int]int)

	deliverOrHold := func(pid, code int) {
		if ch, ok := waiters[pid]; ok {
			delete(waiters, pid)
			ch <- code
			return
		}
		pending[pid] = code
	}

	for {
		select {
		case <-sigChld:
			r.reapAll(deliverOrHold)
		case req := <-r.waits:
			if code, ok := pending[req.pid]; ok {
				delete(pending, req.pid)
				req.ch <- code
				continue
			}
			waiters[req.pid] = req.ch
		case <-r.stop:
			return
		}
	}
}

func (r *Reaper) reapAll(deliver func(pid, code int)) {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		deliver(pid, waitStatusExitCode(status))
	}
}
