// Package events appends the board's activity feed: one timestamped,
// human-readable line per notable mutation. The dashboard tails this file;
// it is never rewritten except by the archival rotation step.
package events

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// FileName is the activity log file inside the board directory.
const FileName = "activity.log"

type Logger struct {
	Path string
	Now  func() time.Time
}

// New returns a Logger writing to path.
func New(path string) *Logger {
	return &Logger{Path: path, Now: time.Now}
}

func (l *Logger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Append writes one activity line attributed to agent.
func (l *Logger) Append(agent, format string, args ...any) error {
	return l.write(agent, fmt.Sprintf(format, args...))
}

// Alert writes a higher-visibility line for escalations.
func (l *Logger) Alert(agent, format string, args ...any) error {
	return l.write(agent, "ALERT: "+fmt.Sprintf(format, args...))
}

func (l *Logger) write(agent, message string) error {
	if agent == "" {
		agent = "system"
	}
	line := fmt.Sprintf("[%s] [%s] %s\n", l.now().UTC().Format(time.RFC3339), agent, message)
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open activity log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append activity log: %w", err)
	}
	return nil
}

// Tail returns the last n lines of the feed, oldest first. A missing log
// yields an empty slice.
func (l *Logger) Tail(n int) ([]string, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Rotate copies the feed to archivePath and truncates the live file.
func (l *Logger) Rotate(archivePath string) error {
	src, err := os.Open(l.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer src.Close()
	dst, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return os.Truncate(l.Path, 0)
}
