package watcher

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const inotifyMask = unix.IN_CREATE | unix.IN_MOVED_TO | unix.IN_MOVED_FROM | unix.IN_DELETE | unix.IN_DELETE_SELF

// inotifySource reads raw inotify events. Unlike fsnotify it tells a move
// into the tree apart from a create.
type inotifySource struct {
	fd     int
	events chan Event
	errors chan error
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu   sync.Mutex
	dirs map[int]string
}

func newInotifySource() (eventSource, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("inotify init: %w", err)
	}

	s := &inotifySource{
		fd:     fd,
		events: make(chan Event, 100),
		errors: make(chan error, 1),
		stopCh: make(chan struct{}),
		dirs:   make(map[int]string),
	}
	s.wg.Add(1)
	go s.readEvents()
	return s, nil
}

func (s *inotifySource) Add(dir string) error {
	wd, err := unix.InotifyAddWatch(s.fd, dir, inotifyMask)
	if err != nil {
		return fmt.Errorf("inotify add %s: %w", dir, err)
	}
	s.mu.Lock()
	s.dirs[wd] = dir
	s.mu.Unlock()
	return nil
}

func (s *inotifySource) Events() <-chan Event { return s.events }
func (s *inotifySource) Errors() <-chan error { return s.errors }

func (s *inotifySource) Close() error {
	select {
	case <-s.stopCh:
		return nil
	default:
	}
	close(s.stopCh)
	s.wg.Wait()
	return unix.Close(s.fd)
}

func (s *inotifySource) readEvents() {
	defer s.wg.Done()
	defer close(s.events)

	buf := make([]byte, 64*(unix.SizeofInotifyEvent+unix.NAME_MAX+1))

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		n, err := unix.Read(s.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			s.sendError(fmt.Errorf("inotify read: %w", err))
			return
		}

		offset := 0
		for offset+unix.SizeofInotifyEvent <= n {
			raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			nameLen := int(raw.Len)
			start := offset + unix.SizeofInotifyEvent
			name := strings.TrimRight(string(buf[start:start+nameLen]), "\x00")
			offset = start + nameLen

			if ev, ok := s.translate(int(raw.Wd), raw.Mask, name); ok {
				select {
				case s.events <- ev:
				case <-s.stopCh:
					return
				}
			}
		}
	}
}

func (s *inotifySource) translate(wd int, mask uint32, name string) (Event, bool) {
	if mask&unix.IN_Q_OVERFLOW != 0 {
		return Event{Op: OpOverflow}, true
	}

	s.mu.Lock()
	dir, ok := s.dirs[wd]
	if mask&unix.IN_IGNORED != 0 {
		delete(s.dirs, wd)
	}
	s.mu.Unlock()
	if !ok {
		return Event{}, false
	}

	path := dir
	if name != "" {
		path = filepath.Join(dir, name)
	}
	ev := Event{Path: path, IsDir: mask&unix.IN_ISDIR != 0}

	switch {
	case mask&unix.IN_MOVED_TO != 0:
		ev.Op = OpMovedTo
	case mask&unix.IN_CREATE != 0:
		ev.Op = OpCreate
	case mask&unix.IN_MOVED_FROM != 0:
		ev.Op = OpMovedFrom
	case mask&(unix.IN_DELETE|unix.IN_DELETE_SELF) != 0:
		ev.Op = OpRemove
	default:
		return Event{}, false
	}
	return ev, true
}

func (s *inotifySource) sendError(err error) {
	select {
	case s.errors <- err:
	default:
	}
}
