package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/peterh/liner"

	"lsmkv/internal/common"
)

const maxHistorySize = 1000

// history keeps the commands entered against one store directory. Every
// directory gets its own file under ~/.lsmkv/history, so sessions on
// different stores do not mix.
type history struct {
	path     string
	commands []string
}

// historyPath names the history file of dir: base name plus a hash of the
// absolute path.
func historyPath(home, dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%016x", filepath.Base(abs), xxhash.Sum64String(abs))
	return filepath.Join(home, ".lsmkv", "history", name), nil
}

// loadHistory reads the history of dir. A missing file is an empty history.
func loadHistory(home, dir string) (*history, error) {
	path, err := historyPath(home, dir)
	if err != nil {
		return nil, err
	}
	h := &history{path: path}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return h, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		h.add(scanner.Text())
	}
	return h, scanner.Err()
}

// feed hands the loaded commands to the line editor.
func (h *history) feed(line *liner.State) {
	for _, cmd := range h.commands {
		line.AppendHistory(cmd)
	}
}

// add records cmd unless it repeats the previous command.
func (h *history) add(cmd string) bool {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" || (len(h.commands) > 0 && h.commands[len(h.commands)-1] == cmd) {
		return false
	}
	h.commands = append(h.commands, cmd)
	if len(h.commands) > maxHistorySize {
		h.commands = h.commands[len(h.commands)-maxHistorySize:]
	}
	return true
}

// save replaces the history file.
func (h *history) save() error {
	if h.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return err
	}

	tmp := common.TempPath(h.path)
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, cmd := range h.commands {
		fmt.Fprintln(w, cmd)
	}
	if err := errors.Join(w.Flush(), f.Close()); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, h.path)
}

// list returns the last n commands, or all of them when n <= 0.
func (h *history) list(n int) []string {
	if n <= 0 || n > len(h.commands) {
		n = len(h.commands)
	}
	return h.commands[len(h.commands)-n:]
}
