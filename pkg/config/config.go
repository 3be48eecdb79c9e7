package config

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Properties is the output configuration. It is built once at startup and
// handed to the output by value.
type Properties struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Timeout  int    `json:"timeout"`
	Database int    `json:"database"`
	Password string `json:"password"`
	Key      string `json:"key"`
	Bulk     int    `json:"bulk"`

	// Debug dumps every outgoing frame at debug level.
	Debug       bool   `json:"debug"`
	LogLevel    string `json:"logLevel"`
	MetricsAddr string `json:"metricsAddr"`
	Input       string `json:"input"`
}

const (
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 6379
	DefaultTimeout  = 10
	DefaultDatabase = 0
	DefaultBulk     = 1
)

var (
	ErrMissingKey     = errors.New("config: key is required")
	ErrInvalidBulk    = errors.New("config: bulk must be at least 1")
	ErrInvalidPort    = errors.New("config: port must be between 1 and 65535")
	ErrInvalidTimeout = errors.New("config: timeout must be positive")
	ErrInvalidDB      = errors.New("config: database index must not be negative")
)

func Default() Properties {
	return Properties{
		Host:     DefaultHost,
		Port:     DefaultPort,
		Timeout:  DefaultTimeout,
		Database: DefaultDatabase,
		Bulk:     DefaultBulk,
		LogLevel: "info",
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default value.
func Load(path string) (Properties, error) {
	props := Default()
	bytes, err := os.ReadFile(path)
	if err != nil {
		return props, errors.Wrapf(err, "read config %s", path)
	}
	if err = yaml.Unmarshal(bytes, &props); err != nil {
		return props, errors.Wrapf(err, "parse config %s", path)
	}
	return props, nil
}

func (p Properties) Validate() error {
	switch {
	case p.Key == "":
		return ErrMissingKey
	case p.Bulk < 1:
		return ErrInvalidBulk
	case p.Port < 1 || p.Port > 65535:
		return ErrInvalidPort
	case p.Timeout <= 0:
		return ErrInvalidTimeout
	case p.Database < 0:
		return ErrInvalidDB
	}
	return nil
}

func (p Properties) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p Properties) TimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// Flags are the command line overrides for Properties.
type Flags struct {
	set   *pflag.FlagSet
	props Properties
}

// BindFlags registers one flag per property on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{set: fs, props: Default()}
	fs.StringVar(&f.props.Host, "host", DefaultHost, "redis host")
	fs.IntVar(&f.props.Port, "port", DefaultPort, "redis port")
	fs.IntVar(&f.props.Timeout, "timeout", DefaultTimeout, "seconds allowed for one connect+write+read cycle")
	fs.IntVar(&f.props.Database, "database", DefaultDatabase, "database index passed to SELECT")
	fs.StringVar(&f.props.Password, "password", "", "password passed to AUTH, empty disables AUTH")
	fs.StringVar(&f.props.Key, "key", "", "list key lines are pushed to (required)")
	fs.IntVar(&f.props.Bulk, "bulk", DefaultBulk, "lines buffered before a pipelined flush")
	fs.BoolVar(&f.props.Debug, "debug", false, "dump outgoing frames at debug level")
	fs.StringVar(&f.props.LogLevel, "log-level", "info", "debug, info, warn or error")
	fs.StringVar(&f.props.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	fs.StringVarP(&f.props.Input, "input", "i", "", "read lines from this file instead of stdin")
	return f
}

// Apply copies every flag the user set explicitly onto props. Changed is
// checked per flag since cobra parses persistent flags through the
// subcommand's merged set.
func (f *Flags) Apply(props Properties) Properties {
	f.set.VisitAll(func(fl *pflag.Flag) {
		if !fl.Changed {
			return
		}
		switch fl.Name {
		case "host":
			props.Host = f.props.Host
		case "port":
			props.Port = f.props.Port
		case "timeout":
			props.Timeout = f.props.Timeout
		case "database":
			props.Database = f.props.Database
		case "password":
			props.Password = f.props.Password
		case "key":
			props.Key = f.props.Key
		case "bulk":
			props.Bulk = f.props.Bulk
		case "debug":
			props.Debug = f.props.Debug
		case "log-level":
			props.LogLevel = f.props.LogLevel
		case "metrics-addr":
			props.MetricsAddr = f.props.MetricsAddr
		case "input":
			props.Input = f.props.Input
		}
	})
	return props
}
