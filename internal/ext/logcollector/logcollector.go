// Package logcollector implements encab's built-in log collector
// extension: it tails arbitrary files on disk — not just a program's
// own stdout/stderr — and forwards their lines into the logging
// pipeline, following rotations by polling the file.
package logcollector

import (
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hpcloud/tail"
)

// SourceConfig describes one file to tail. PathPattern, when set
// instead of Path, is tailed as a literal path; no placeholders in it
// are substituted.
type SourceConfig struct {
	Path         string
	PathPattern  string
	Offset       int64
	Level        string
	PollInterval time.Duration
}

func (s *SourceConfig) validate() error {
	if s.Path == "" && s.PathPattern == "" {
		return fmt.Errorf("logcollector: source needs either path or path_pattern")
	}
	if s.Path != "" && s.PathPattern != "" {
		return fmt.Errorf("logcollector: source cannot set both path and path_pattern")
	}
	return nil
}

// Settings is the `extensions: logcollector: settings:` payload: a
// named set of sources to tail.
type Settings struct {
	Sources map[string]SourceConfig
}

// Extension is the built-in log collector extension. Each configured
// source gets its own Collector goroutine, started on
// ConfigureExtension and stopped on ProgramsEnded.
type Extension struct {
	logger     hclog.Logger
	collectors []*Collector
}

// New returns an unconfigured log collector Extension.
func New(logger hclog.Logger) *Extension {
	return &Extension{logger: logger}
}

func (e *Extension) Name() string { return "logcollector" }

func (e *Extension) ValidateExtension(settings map[string]interface{}) error {
	s, err := parseSettings(settings)
	if err != nil {
		return err
	}
	for name, src := range s.Sources {
		if err := src.validate(); err != nil {
			return fmt.Errorf("logcollector: source %s: %w", name, err)
		}
	}
	return nil
}

func (e *Extension) ConfigureExtension(settings map[string]interface{}) error {
	s, err := parseSettings(settings)
	if err != nil {
		return err
	}
	for name, src := range s.Sources {
		if err := src.validate(); err != nil {
			return fmt.Errorf("logcollector: source %s: %w", name, err)
		}
		c := NewCollector(name, src, logging(e.logger, name))
		e.collectors = append(e.collectors, c)
		c.Start()
	}
	return nil
}

func logging(root hclog.Logger, name string) hclog.Logger {
	return root.Named(name)
}

func (e *Extension) ExtendEnvironment(program string, env map[string]string) error { return nil }

func (e *Extension) UpdateLogger(program string, logger hclog.Logger) hclog.Logger { return logger }

// ProgramsEnded stops every collector once the supervised programs
// have all exited, since there's nothing further to collect for.
func (e *Extension) ProgramsEnded() {
	for _, c := range e.collectors {
		c.Stop()
	}
}

func parseSettings(raw map[string]interface{}) (Settings, error) {
	s := Settings{Sources: map[string]SourceConfig{}}
	sourcesRaw, ok := raw["sources"]
	if !ok {
		return s, nil
	}
	sources, ok := sourcesRaw.(map[string]interface{})
	if !ok {
		return s, fmt.Errorf("logcollector: sources must be a mapping")
	}
	for name, v := range sources {
		entry, ok := v.(map[string]interface{})
		if !ok {
			return s, fmt.Errorf("logcollector: source %s must be a mapping", name)
		}
		src := SourceConfig{Level: "INFO", PollInterval: time.Second}
		if p, ok := entry["path"].(string); ok {
			src.Path = p
		}
		if p, ok := entry["path_pattern"].(string); ok {
			src.PathPattern = p
		}
		if lvl, ok := entry["level"].(string); ok {
			src.Level = lvl
		}
		if off, ok := entry["offset"]; ok {
			switch t := off.(type) {
			case int:
				src.Offset = int64(t)
			case string:
				n, err := strconv.ParseInt(t, 10, 64)
				if err != nil {
					return s, fmt.Errorf("logcollector: source %s: invalid offset", name)
				}
				src.Offset = n
			}
		}
		s.Sources[name] = src
	}
	return s, nil
}

// Collector tails a single configured source using hpcloud/tail in
// polling mode, reopening the file to follow rotation and truncation.
type Collector struct {
	name   string
	src    SourceConfig
	logger hclog.Logger

	t    *tail.Tail
	stop chan struct{}
	done chan struct{}
}

// NewCollector builds a Collector for src, not yet started.
func NewCollector(name string, src SourceConfig, logger hclog.Logger) *Collector {
	return &Collector{name: name, src: src, logger: logger, stop: make(chan struct{}), done: make(chan struct{})}
}

// Start begins tailing in a background goroutine.
func (c *Collector) Start() {
	go c.run()
}

func (c *Collector) run() {
	defer close(c.done)

	path := c.src.Path
	if path == "" {
		path = c.src.PathPattern
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Offset: c.src.Offset, Whence: 0},
		Poll:     true,
	})
	if err != nil {
		c.logger.Error("failed to tail source", "path", path, "error", err)
		return
	}
	c.t = t

	for {
		select {
		case line, ok := <-t.Lines:
			if !ok {
				return
			}
			if line.Err != nil {
				c.logger.Warn("tail read error", "error", line.Err)
				continue
			}
			c.emit(line.Text)
		case <-c.stop:
			t.Stop()
			return
		}
	}
}

func (c *Collector) emit(line string) {
	switch c.src.Level {
	case "ERROR":
		c.logger.Error(line)
	case "WARN", "WARNING":
		c.logger.Warn(line)
	case "DEBUG":
		c.logger.Debug(line)
	default:
		c.logger.Info(line)
	}
}

// Stop ends the tail and waits for the collector goroutine to exit.
func (c *Collector) Stop() {
	close(c.stop)
	<-c.done
}
