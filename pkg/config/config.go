package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir        string = ".rdbg"
	configDirXdg     string = "rdbg"
	configFile       string = "config.yml"
	xdgConfigHomeEnv string = "XDG_CONFIG_HOME"
)

const (
	defaultMaxBacktraceDepth   = 50
	defaultMaxStringLen        = 32
	defaultSourceListLineCount = 5
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// MaxBacktraceDepth is the number of frames the backtrace command walks
	// before it gives up and prints a truncation marker.
	MaxBacktraceDepth *int `yaml:"max-backtrace-depth,omitempty"`

	// MaxStringLen is the maximum number of bytes of a string or buffer
	// argument printed by the syscall tracer.
	MaxStringLen *int `yaml:"max-string-len,omitempty"`

	// Source list line-number color (3/4 bit color codes as defined
	// here: https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	SourceListLineColor int `yaml:"source-list-line-color"`

	// SourceListLineCount is the number of lines printed above and below
	// the current line when the target stops.
	SourceListLineCount *int `yaml:"source-list-line-count,omitempty"`

	// ShowPC prefixes every traced syscall with the address of the
	// instruction that entered the kernel.
	ShowPC bool `yaml:"show-pc"`

	// DisassembleFlavor allow user to specify output syntax flavor of assembly, one of
	// this list "intel"(default), "gnu".
	DisassembleFlavor *string `yaml:"disassemble-flavor,omitempty"`
}

// GetMaxBacktraceDepth returns the configured backtrace depth or the default.
func (c *Config) GetMaxBacktraceDepth() int {
	if c == nil || c.MaxBacktraceDepth == nil || *c.MaxBacktraceDepth <= 0 {
		return defaultMaxBacktraceDepth
	}
	return *c.MaxBacktraceDepth
}

// GetMaxStringLen returns the configured string length or the default.
func (c *Config) GetMaxStringLen() int {
	if c == nil || c.MaxStringLen == nil || *c.MaxStringLen <= 0 {
		return defaultMaxStringLen
	}
	return *c.MaxStringLen
}

// GetSourceListLineCount returns the configured listing radius or the default.
func (c *Config) GetSourceListLineCount() int {
	if c == nil || c.SourceListLineCount == nil || *c.SourceListLineCount < 0 {
		return defaultSourceListLineCount
	}
	return *c.SourceListLineCount
}

// GetDisassembleFlavor returns the configured assembly syntax, "intel"
// unless "gnu" is set.
func (c *Config) GetDisassembleFlavor() string {
	if c == nil || c.DisassembleFlavor == nil || *c.DisassembleFlavor != "gnu" {
		return "intel"
	}
	return "gnu"
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()

	return decodeConfig(f.Name())
}

func decodeConfig(file string) (*Config, error) {
	data, err := ioutil.ReadFile(file)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}

	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the rdbg debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Uncomment the following line and set your preferred ANSI foreground color
# for source line numbers in the (list) command (if unset, default is 34,
# dark blue) See https://en.wikipedia.org/wiki/ANSI_escape_code#3/4_bit
# source-list-line-color: 34

# Number of source lines shown around the current line when the target stops.
# source-list-line-count: 5

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Maximum number of frames printed by backtrace.
# max-backtrace-depth: 50

# Maximum number of bytes printed for string and buffer syscall arguments.
# max-string-len: 32

# Uncomment the following line to print the instruction address of every traced syscall.
# show-pc: true

# Uncomment the following line to make the disassemble command output GNU syntax by default.
# disassemble-flavor: gnu
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
// $XDG_CONFIG_HOME/rdbg is used when XDG_CONFIG_HOME is set, ~/.rdbg
// otherwise.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv(xdgConfigHomeEnv); xdg != "" {
		return path.Join(xdg, configDirXdg, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
