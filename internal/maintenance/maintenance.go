// Package maintenance runs the periodic sweep that culls inactive
// Sessions and restarts Sources that are Started but not yet Ready
// (Faulted or Stopped sources are left alone), isolated from request handling
// so a panic or long-running sweep can never block a client.
package maintenance

import (
	"time"

	"github.com/aler9/rtsp-gateway/internal/logger"
	"github.com/aler9/rtsp-gateway/internal/rtspsession"
	"github.com/aler9/rtsp-gateway/internal/source"
)

// Loop owns the ticker and the two registries it sweeps.
type Loop struct {
	Sessions               *rtspsession.Registry
	Sources                *source.Registry
	Logger                 *logger.Logger
	Interval               time.Duration
	InactivityTimeout      time.Duration // <0 disables the sweep

	stop chan struct{}
	done chan struct{}
}

// Start begins the ticking sweep in its own goroutine.
func (l *Loop) Start() {
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.run()
}

// Stop signals the loop to exit and waits for it to do so.
func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep runs one pass; panics are swallowed so a bug here never takes
// down the server.
func (l *Loop) sweep() {
	defer func() {
		if r := recover(); r != nil {
			l.Logger.Log(logger.Error, "maintenance sweep panicked: %v", r)
		}
	}()

	l.sweepSessions()
	l.sweepSources()
}

func (l *Loop) sweepSessions() {
	if l.InactivityTimeout < 0 {
		return
	}

	now := time.Now()
	for _, sess := range l.Sessions.Snapshot() {
		if now.Sub(sess.LastActivity()) <= l.InactivityTimeout {
			continue
		}

		l.Logger.Log(logger.Info, "culling inactive session %s", sess.ID)

		if mc := sess.MediaClient(); mc != nil {
			mc.SendGoodbyes()
		}
		sess.Close()
		l.Sessions.Remove(sess)
	}
}

func (l *Loop) sweepSources() {
	for _, src := range l.Sources.Iter() {
		if src.State() != source.Started || src.Ready() {
			continue
		}

		l.Logger.Log(logger.Warn, "restarting non-ready source %s", src.Name)
		src.Stop()
		if err := src.Start(); err != nil {
			l.Logger.Log(logger.Error, "source %s failed to restart: %v", src.Name, err)
		}
	}
}
