package ntp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AndrewLester/ntpmon/internal/monitor"
)

const (
	DefaultInterval  = 64 * time.Second
	DefaultStepLimit = 128 * time.Millisecond
	DefaultSocket    = "/var/run/ntpmon.sock"
)

var ErrNoServers = errors.New("config: no servers configured")

type Config struct {
	Servers   []Server      `yaml:"servers"`
	Adjust    bool          `yaml:"adjust"`
	StepLimit time.Duration `yaml:"steplimit"`
	Socket    string        `yaml:"socket"`
}

// Server is one monitored NTP server. Zero values take the defaults.
type Server struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Interval       time.Duration `yaml:"interval"`
	DSCP           int           `yaml:"dscp"`
	monitor.Policy `yaml:",inline"`
}

func (s Server) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s *Server) applyDefaults() {
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.Interval == 0 {
		s.Interval = DefaultInterval
	}
	if s.RetryCount == 0 {
		s.RetryCount = monitor.DefaultRetryCount
	}
	if s.RetryInterval == 0 {
		s.RetryInterval = monitor.DefaultRetryInterval
	}
	if s.Timeout == 0 {
		s.Timeout = monitor.DefaultTimeout
	}
}

func (c *Config) applyDefaults() error {
	if len(c.Servers) == 0 {
		return ErrNoServers
	}
	for i := range c.Servers {
		if c.Servers[i].Host == "" {
			return fmt.Errorf("config: server %d has no host", i+1)
		}
		c.Servers[i].applyDefaults()
	}
	if c.StepLimit == 0 {
		c.StepLimit = DefaultStepLimit
	}
	if c.Socket == "" {
		c.Socket = DefaultSocket
	}
	return nil
}

// LoadConfig reads path as YAML when it ends in .yml or .yaml and as
// ntp.conf style lines otherwise.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	defer file.Close()

	switch filepath.Ext(path) {
	case ".yml", ".yaml":
		return ParseYAMLConfig(file)
	default:
		return ParseConfig(file)
	}
}

func ParseYAMLConfig(r io.Reader) (*Config, error) {
	config := &Config{}
	if err := yaml.NewDecoder(r).Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	return config, nil
}

// ParseConfig reads ntp.conf style lines:
//
//	server <host> [port N] [interval D] [retry N] [retryinterval D] [timeout D] [dscp N]
//	adjust
//	steplimit D
//	socket PATH
//
// Durations use time.ParseDuration syntax. Lines starting with # are
// comments.
func ParseConfig(r io.Reader) (*Config, error) {
	config := &Config{}

	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		arguments := strings.Fields(scanner.Text())
		if len(arguments) == 0 || strings.HasPrefix(arguments[0], "#") {
			continue
		}

		if err := parseCommand(config, arguments); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNumber, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	return config, nil
}

func parseCommand(config *Config, arguments []string) error {
	switch arguments[0] {
	case "server":
		if len(arguments) < 2 {
			return errors.New(`missing required argument "address"`)
		}
		server, err := parseServer(arguments[1], arguments[2:])
		if err != nil {
			return err
		}
		config.Servers = append(config.Servers, server)
	case "adjust":
		if len(arguments) > 1 {
			return fmt.Errorf("unexpected argument %q", arguments[1])
		}
		config.Adjust = true
	case "steplimit":
		if len(arguments) != 2 {
			return errors.New(`steplimit requires one duration`)
		}
		limit, err := time.ParseDuration(arguments[1])
		if err != nil {
			return fmt.Errorf("steplimit: %w", err)
		}
		config.StepLimit = limit
	case "socket":
		if len(arguments) != 2 {
			return errors.New(`socket requires one path`)
		}
		config.Socket = arguments[1]
	default:
		return fmt.Errorf("invalid command %q", arguments[0])
	}
	return nil
}

func parseServer(host string, arguments []string) (Server, error) {
	server := Server{Host: host}

	if len(arguments)%2 != 0 {
		return server, fmt.Errorf("no value supplied for argument %q", arguments[len(arguments)-1])
	}

	for i := 0; i < len(arguments); i += 2 {
		name, value := arguments[i], arguments[i+1]

		var err error
		switch name {
		case "port":
			server.Port, err = integerArgument(name, value)
		case "dscp":
			server.DSCP, err = integerArgument(name, value)
		case "retry":
			server.RetryCount, err = integerArgument(name, value)
		case "interval":
			server.Interval, err = durationArgument(name, value)
		case "retryinterval":
			server.RetryInterval, err = durationArgument(name, value)
		case "timeout":
			server.Timeout, err = durationArgument(name, value)
		default:
			err = fmt.Errorf("invalid argument %q", name)
		}
		if err != nil {
			return server, err
		}
	}
	return server, nil
}

func integerArgument(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s argument requires an integer value", name)
	}
	return n, nil
}

func durationArgument(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s argument requires a duration: %w", name, err)
	}
	return d, nil
}
