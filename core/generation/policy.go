package generation

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"TextTune/logger"

	"github.com/fsnotify/fsnotify"
)

// defaultDenylist 是内置的提示词黑名单，命中即拒绝提交
var defaultDenylist = []string{"hate", "violence", "illegal", "terror", "child", "sexual", "porn"}

// PolicyFilter rejects disallowed prompts before a job is ever created.
// Matching is case-insensitive substring matching against a term list. The
// list can optionally be loaded from a file and hot-reloaded on change.
type PolicyFilter struct {
	mu    sync.RWMutex
	terms []string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewPolicyFilter creates a filter with the built-in term list.
func NewPolicyFilter() *PolicyFilter {
	return &PolicyFilter{terms: append([]string(nil), defaultDenylist...)}
}

// Violates reports whether the prompt matches any denylisted term.
func (f *PolicyFilter) Violates(prompt string) bool {
	p := strings.ToLower(prompt)
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, term := range f.terms {
		if strings.Contains(p, term) {
			return true
		}
	}
	return false
}

// LoadFile replaces the term list with the contents of a newline-separated
// file. Blank lines and lines starting with '#' are skipped. An empty file
// falls back to the built-in list rather than disabling the filter.
func (f *PolicyFilter) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open denylist file: %w", err)
	}
	defer file.Close()

	terms := make([]string, 0)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read denylist file: %w", err)
	}
	if len(terms) == 0 {
		terms = append([]string(nil), defaultDenylist...)
	}

	f.mu.Lock()
	f.terms = terms
	f.mu.Unlock()

	logger.Info("策略黑名单已加载", logger.String("path", path), logger.Int("terms", len(terms)))
	return nil
}

// Watch loads the file and reloads it whenever it changes on disk.
func (f *PolicyFilter) Watch(path string) error {
	if err := f.LoadFile(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create denylist watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch denylist file: %w", err)
	}

	f.watcher = watcher
	f.done = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := f.LoadFile(path); err != nil {
						logger.Warn("策略黑名单重载失败", logger.ErrorField(err))
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("策略黑名单监听错误", logger.ErrorField(err))
			case <-f.done:
				return
			}
		}
	}()

	return nil
}

// Close stops the file watcher, if any.
func (f *PolicyFilter) Close() {
	if f.watcher != nil {
		close(f.done)
		f.watcher.Close()
		f.watcher = nil
	}
}
