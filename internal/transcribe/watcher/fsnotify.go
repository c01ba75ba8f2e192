package watcher

import (
	"errors"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
)

// fsnotifySource adapts fsnotify. Files moved into the tree arrive as
// creates, so every file create is reported as OpAppeared.
type fsnotifySource struct {
	w      *fsnotify.Watcher
	events chan Event
	errors chan error
	stop   chan struct{}
	done   chan struct{}
}

func newFsnotifySource() (eventSource, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	s := &fsnotifySource{
		w:      w,
		events: make(chan Event, 100),
		errors: make(chan error, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.translate()
	return s, nil
}

func (s *fsnotifySource) Add(dir string) error { return s.w.Add(dir) }
func (s *fsnotifySource) Events() <-chan Event { return s.events }
func (s *fsnotifySource) Errors() <-chan error { return s.errors }

func (s *fsnotifySource) Close() error {
	close(s.stop)
	err := s.w.Close()
	<-s.done
	return err
}

func (s *fsnotifySource) translate() {
	defer close(s.done)
	defer close(s.events)

	fsErrors := s.w.Errors
	for {
		var ev Event
		select {
		case fe, ok := <-s.w.Events:
			if !ok {
				return
			}
			switch {
			case fe.Has(fsnotify.Create):
				ev = Event{Path: fe.Name, Op: OpAppeared}
				if info, err := os.Stat(fe.Name); err == nil && info.IsDir() {
					ev = Event{Path: fe.Name, Op: OpCreate, IsDir: true}
				}
			case fe.Has(fsnotify.Rename):
				ev = Event{Path: fe.Name, Op: OpMovedFrom}
			case fe.Has(fsnotify.Remove):
				ev = Event{Path: fe.Name, Op: OpRemove}
			default:
				continue
			}
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				select {
				case s.errors <- err:
				default:
				}
				continue
			}
			ev = Event{Op: OpOverflow}
		case <-s.stop:
			return
		}

		select {
		case s.events <- ev:
		case <-s.stop:
			return
		}
	}
}
