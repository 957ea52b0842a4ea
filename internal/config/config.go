// Package config loads and validates encab's YAML configuration,
// resolving the field-inheritance rules between the global encab
// defaults and each program's own configuration (spec.md §4.6).
package config

import (
	"bytes"
	"io"
	"os/user"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envNamePattern matches POSIX 3.231 environment variable names.
var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var logLevels = []string{"CRITICAL", "FATAL", "ERROR", "WARN", "WARNING", "INFO", "DEBUG"}

func isValidLogLevel(level string) bool {
	for _, l := range logLevels {
		if strings.EqualFold(l, level) {
			return true
		}
	}
	return false
}

// Common holds the fields shared between EncabConfig and ProgramConfig,
// mirroring AbstractProgramConfig in the Python source.
type Common struct {
	Environment map[string]string `yaml:"environment"`
	Debug       *bool             `yaml:"debug"`
	LogLevel    *string           `yaml:"loglevel"`
	Umask       *UmaskValue       `yaml:"umask"`
	User        *UserValue        `yaml:"user"`
	Group       *UserValue        `yaml:"group"`
	JoinTime    *float64          `yaml:"join_time"`

	// unset tracks which fields were absent from the YAML document, so
	// Extend only fills in fields the user never set — the same
	// was_unset/extend behaviour the Python dataclasses implement.
	unset map[string]bool
}

// UmaskValue decodes either an integer or an octal string (e.g. "077")
// umask, with -1 meaning "inherit".
type UmaskValue struct {
	Value int
}

func (u *UmaskValue) UnmarshalYAML(node *yaml.Node) error {
	var asInt int
	if err := node.Decode(&asInt); err == nil {
		u.Value = asInt
		return nil
	}

	var asString string
	if err := node.Decode(&asString); err != nil {
		return newError("expected an integer or octal string for umask")
	}

	v, err := strconv.ParseInt(asString, 8, 32)
	if err != nil {
		return newError("expected octal string for umask but got: %s", asString)
	}
	u.Value = int(v)
	return nil
}

// UserValue decodes either a numeric uid/gid or a symbolic user/group
// name, resolved against the OS user/group database.
type UserValue struct {
	Raw      string
	Resolved bool
	ID       int
}

func (u *UserValue) UnmarshalYAML(node *yaml.Node) error {
	var asInt int
	if err := node.Decode(&asInt); err == nil {
		u.Raw = strconv.Itoa(asInt)
		u.ID = asInt
		u.Resolved = true
		return nil
	}

	var asString string
	if err := node.Decode(&asString); err != nil {
		return newError("expected a numeric or symbolic user/group value")
	}
	u.Raw = asString
	return nil
}

// ResolveUser resolves a symbolic user name to a uid, caching the
// result. Numeric values are already resolved during unmarshalling.
func (u *UserValue) ResolveUser() error {
	if u.Resolved {
		return nil
	}
	if n, err := strconv.Atoi(u.Raw); err == nil {
		u.ID = n
		u.Resolved = true
		return nil
	}
	usr, err := user.Lookup(u.Raw)
	if err != nil {
		return newError("unknown user %s", u.Raw)
	}
	id, err := strconv.Atoi(usr.Uid)
	if err != nil {
		return newError("unexpected uid for user %s", u.Raw)
	}
	u.ID = id
	u.Resolved = true
	return nil
}

// ResolveGroup resolves a symbolic group name to a gid.
func (u *UserValue) ResolveGroup() error {
	if u.Resolved {
		return nil
	}
	if n, err := strconv.Atoi(u.Raw); err == nil {
		u.ID = n
		u.Resolved = true
		return nil
	}
	grp, err := user.LookupGroup(u.Raw)
	if err != nil {
		return newError("unknown group %s", u.Raw)
	}
	id, err := strconv.Atoi(grp.Gid)
	if err != nil {
		return newError("unexpected gid for group %s", u.Raw)
	}
	u.ID = id
	u.Resolved = true
	return nil
}

func markUnset(c *Common, node *yaml.Node) {
	set := map[string]bool{}
	if node != nil && node.Kind == yaml.MappingNode {
		for i := 0; i < len(node.Content); i += 2 {
			set[node.Content[i].Value] = true
		}
	}
	c.unset = map[string]bool{}
	for _, name := range []string{"environment", "debug", "loglevel", "umask", "user", "group", "join_time"} {
		if !set[name] {
			c.unset[name] = true
		}
	}
}

func (c *Common) validateEnvironment() error {
	if c.Environment == nil {
		c.Environment = map[string]string{}
		return nil
	}
	for name := range c.Environment {
		if !envNamePattern.MatchString(name) {
			return newError("expected valid environment variable name (see POSIX 3.231 Name) but was '%s'.", name)
		}
	}
	return nil
}

func (c *Common) validateLogLevel() error {
	isDebug := c.Debug != nil && *c.Debug
	if c.LogLevel != nil && *c.LogLevel != "" && !isValidLogLevel(*c.LogLevel) {
		return newError("unsupported log level %s. Supported levels are: %s", *c.LogLevel, strings.Join(logLevels, ", "))
	}
	if isDebug {
		debugLevel := "DEBUG"
		c.LogLevel = &debugLevel
	} else if c.LogLevel == nil {
		infoLevel := "INFO"
		c.LogLevel = &infoLevel
	}
	return nil
}

func (c *Common) applyDefaults() {
	if c.Umask == nil {
		c.Umask = &UmaskValue{Value: -1}
	}
	if c.JoinTime == nil {
		defaultJoin := 1.0
		c.JoinTime = &defaultJoin
	}
}

// wasUnset reports whether field was absent from the YAML document
// this Common was decoded from.
func (c *Common) wasUnset(field string) bool {
	return c.unset[field]
}

// MarkAllUnset marks every inheritable field as unset, for a
// ProgramConfig built programmatically (e.g. synthesized from a CLI
// argv override) rather than decoded from YAML, so it still inherits
// encab defaults via Extend.
func (c *Common) MarkAllUnset() {
	markUnset(c, nil)
}

// extend fills in every field left unset in c with the value from
// other, the same field-level inheritance rule spec.md §4.6 describes.
func (c *Common) extend(other *Common) {
	if c.wasUnset("environment") && other.Environment != nil {
		merged := map[string]string{}
		for k, v := range other.Environment {
			merged[k] = v
		}
		for k, v := range c.Environment {
			merged[k] = v
		}
		c.Environment = merged
	}
	if c.wasUnset("debug") && other.Debug != nil {
		c.Debug = other.Debug
	}
	if c.wasUnset("loglevel") && other.LogLevel != nil {
		c.LogLevel = other.LogLevel
	}
	if c.wasUnset("umask") && other.Umask != nil {
		c.Umask = other.Umask
	}
	if c.wasUnset("user") && other.User != nil {
		c.User = other.User
	}
	if c.wasUnset("group") && other.Group != nil {
		c.Group = other.Group
	}
	if c.wasUnset("join_time") && other.JoinTime != nil {
		c.JoinTime = other.JoinTime
	}
}

// EncabConfig is the top-level `encab:` section: the defaults provider
// for every program plus encab's own process-wide settings.
type EncabConfig struct {
	Common     `yaml:",inline"`
	HaltOnExit *bool   `yaml:"halt_on_exit"`
	LogFormat  *string `yaml:"logformat"`
	DryRun     *bool   `yaml:"dry_run"`
}

func (e *EncabConfig) postLoad(node *yaml.Node) error {
	markUnset(&e.Common, node)
	if err := e.validateEnvironment(); err != nil {
		return err
	}
	if err := e.validateLogLevel(); err != nil {
		return err
	}
	e.applyDefaults()

	if e.DryRun == nil {
		f := false
		e.DryRun = &f
	}
	if e.HaltOnExit == nil {
		f := false
		e.HaltOnExit = &f
	}

	const defaultFormat = "%(levelname)-5.5s %(program)s: %(message)s"
	const debugFormat = "%(asctime)s %(levelname)-5.5s %(module)s %(program)s %(threadName)s: %(message)s"
	if e.LogFormat == nil || *e.LogFormat == "" {
		format := defaultFormat
		if e.Debug != nil && *e.Debug {
			format = debugFormat
		}
		e.LogFormat = &format
	}
	return nil
}

// NewEncabConfig returns an EncabConfig with every field set to its
// default, as if loaded from an empty YAML document.
func NewEncabConfig() *EncabConfig {
	e := &EncabConfig{}
	_ = e.postLoad(nil)
	return e
}

// ProgramConfig is a single program's `programs:<name>:` section.
type ProgramConfig struct {
	Common      `yaml:",inline"`
	Command     *CommandValue `yaml:"command"`
	Sh          *string       `yaml:"sh"`
	StartupDelay *float64     `yaml:"startup_delay"`
	Directory   *string       `yaml:"directory"`
	ReapZombies *bool         `yaml:"reap_zombies"`
}

// CommandValue decodes a command either as a shell-split string or as
// an explicit argv list.
type CommandValue struct {
	Argv []string
}

func (c *CommandValue) UnmarshalYAML(node *yaml.Node) error {
	var asString string
	if err := node.Decode(&asString); err == nil {
		argv, err := shellSplit(asString)
		if err != nil {
			return newError("invalid command: %s", err)
		}
		c.Argv = argv
		return nil
	}

	var asList []string
	if err := node.Decode(&asList); err != nil {
		return newError("expected a command string or list of arguments")
	}
	c.Argv = asList
	return nil
}

func (p *ProgramConfig) postLoad(node *yaml.Node, currentUID int) error {
	markUnset(&p.Common, node)
	if err := p.validateEnvironment(); err != nil {
		return err
	}
	if err := p.validateLogLevel(); err != nil {
		return err
	}
	p.applyDefaults()

	if p.Sh != nil && p.Command != nil {
		return newError("please specify either sh or command attribute for programs")
	}

	if p.StartupDelay == nil {
		zero := 0.0
		p.StartupDelay = &zero
	}

	if p.ReapZombies != nil && *p.ReapZombies && currentUID != 0 {
		return newError("encab has to run as root if reap_zombies is set to true")
	}
	if p.ReapZombies == nil {
		f := false
		p.ReapZombies = &f
	}

	if p.User != nil {
		if err := p.User.ResolveUser(); err != nil {
			return err
		}
		if p.User.ID != currentUID && currentUID != 0 {
			return newError("encab has to run as root to run a program as a different user")
		}
	}
	if p.Group != nil {
		if err := p.Group.ResolveGroup(); err != nil {
			return err
		}
	}

	return nil
}

// Extend overlays every unset ProgramConfig field with the
// corresponding value from the EncabConfig defaults.
func (p *ProgramConfig) Extend(e *EncabConfig) {
	p.Common.extend(&e.Common)
}

// ExtensionConfig is one `extensions:<name>:` entry.
type ExtensionConfig struct {
	Enabled  *bool                  `yaml:"enabled"`
	Module   *string                `yaml:"module"`
	Settings map[string]interface{} `yaml:"settings"`
}

func (e *ExtensionConfig) postLoad() {
	if e.Enabled == nil {
		t := true
		e.Enabled = &t
	}
	if e.Settings == nil {
		e.Settings = map[string]interface{}{}
	}
}

// Config is a complete encab.yml document.
type Config struct {
	Encab      *EncabConfig                `yaml:"encab"`
	Extensions map[string]*ExtensionConfig `yaml:"extensions"`
	Programs   map[string]*ProgramConfig   `yaml:"programs"`

	// ProgramOrder preserves declaration order from the YAML mapping,
	// since Go maps don't, and spec.md §4.6 requires helper start/stop
	// order to follow config key order.
	ProgramOrder []string
}

// Load parses a YAML stream into a validated Config. A key that no
// config field declares is a configuration error.
func Load(r io.Reader, currentUID int) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var root yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		return nil, newError("YAML error(s): %s", err)
	}

	var cfg Config
	strict := yaml.NewDecoder(bytes.NewReader(data))
	strict.KnownFields(true)
	if err := strict.Decode(&cfg); err != nil {
		return nil, newError("YAML error(s): %s", err)
	}

	encabNode := findMappingValue(&root, "encab")
	if cfg.Encab == nil {
		cfg.Encab = NewEncabConfig()
	} else if err := cfg.Encab.postLoad(encabNode); err != nil {
		return nil, err
	}

	programsNode := findMappingValue(&root, "programs")
	cfg.ProgramOrder = mappingKeys(programsNode)

	for _, name := range cfg.ProgramOrder {
		p := cfg.Programs[name]
		pNode := findMappingValue(programsNode, name)
		if err := p.postLoad(pNode, currentUID); err != nil {
			return nil, err
		}
	}

	for name, ext := range cfg.Extensions {
		_ = name
		ext.postLoad()
	}

	return &cfg, nil
}

func findMappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil {
		return nil
	}
	target := node
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		target = node.Content[0]
	}
	if target.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i < len(target.Content); i += 2 {
		if target.Content[i].Value == key {
			return target.Content[i+1]
		}
	}
	return nil
}

func mappingKeys(node *yaml.Node) []string {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	keys := make([]string, 0, len(node.Content)/2)
	for i := 0; i < len(node.Content); i += 2 {
		keys = append(keys, node.Content[i].Value)
	}
	return keys
}
