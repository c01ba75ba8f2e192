//go:build !linux

package watcher

import "errors"

func newInotifySource() (eventSource, error) {
	return nil, errors.New("inotify backend is only available on linux")
}
