// Package env sets up a Node from command line flags, environment
// variables and an optional YAML file, in that order of precedence.
package env

import (
	"crypto/sha256"
	"flag"
	"io/ioutil"
	"log"
	"net/url"
	"os"
	"strconv"

	"github.com/denisbrodbeck/machineid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/robotalks/groupnet/pkg/groupnet"
	"github.com/robotalks/groupnet/pkg/radio"
	"github.com/robotalks/groupnet/pkg/radio/mqtt"
	"github.com/robotalks/groupnet/pkg/radio/sim"
	"github.com/robotalks/groupnet/pkg/radio/udp"
)

// Environment variables.
const (
	EnvTransport = "GROUPNET_TRANSPORT"
	EnvAddr      = "GROUPNET_ADDR"
	EnvChannel   = "GROUPNET_CHANNEL"
	EnvStore     = "GROUPNET_STORE"
	EnvConfig    = "GROUPNET_CONFIG"
)

// AppID is used to derive the radio address from the machine id.
const AppID = "groupnet"

// Config provides common options to setup a Node.
type Config struct {
	// Transport selects the radio medium, one of
	//   sim://name
	//   mqtt://host:port/topic-prefix/
	//   udp://239.0.0.1:7007
	Transport string `yaml:"transport"`
	// Addr is the radio address, empty derives it from the machine id.
	Addr string `yaml:"addr"`

	groupnet.Config `yaml:",inline"`
}

var (
	defaultConfig = Config{
		Transport: "sim://default",
		Config:    groupnet.DefaultConfig(),
	}
	loadErr error
)

func init() {
	defaultConfig, loadErr = Load(defaultConfig, os.Getenv)
}

// Load applies the config file named by GROUPNET_CONFIG and then the
// environment variables on top of conf.
func Load(conf Config, getenv func(string) string) (Config, error) {
	if fn := getenv(EnvConfig); fn != "" {
		data, err := ioutil.ReadFile(fn)
		if err != nil {
			return conf, errors.Wrap(err, "config file")
		}
		if err := yaml.UnmarshalStrict(data, &conf); err != nil {
			return conf, errors.Wrapf(err, "config file %s", fn)
		}
	}
	if val := getenv(EnvTransport); val != "" {
		conf.Transport = val
	}
	if val := getenv(EnvAddr); val != "" {
		conf.Addr = val
	}
	if val := getenv(EnvStore); val != "" {
		conf.StorePath = val
	}
	if val := getenv(EnvChannel); val != "" {
		channel, err := strconv.Atoi(val)
		if err != nil {
			return conf, errors.Wrapf(err, "%s", EnvChannel)
		}
		conf.Channel = channel
	}
	return conf, nil
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Transport, "transport", defaultConfig.Transport, "Radio medium URL")
	flag.StringVar(&defaultConfig.Addr, "addr", defaultConfig.Addr, "Radio address, derived from machine ID if empty")
	flag.IntVar(&defaultConfig.Channel, "channel", defaultConfig.Channel, "Radio channel, 0 uses the stored one")
	flag.StringVar(&defaultConfig.StorePath, "store", defaultConfig.StorePath, "Persistent store file")
	flag.DurationVar(&defaultConfig.BeaconPeriod, "beacon-period", defaultConfig.BeaconPeriod, "Group beacon period")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// MachineAddr derives a radio address from the machine id.
func MachineAddr() (radio.Address, error) {
	id, err := machineid.ProtectedID(AppID)
	if err != nil {
		return radio.Address{}, errors.Wrap(err, "machine id")
	}
	return AddrFromID(id), nil
}

// AddrFromID derives a locally administered unicast address from id.
func AddrFromID(id string) (addr radio.Address) {
	sum := sha256.Sum256([]byte(id))
	copy(addr[:], sum[:])
	addr[0] = addr[0]&0xfc | 0x02
	return
}

// LocalAddr returns the configured radio address.
func (c *Config) LocalAddr() (radio.Address, error) {
	if c.Addr == "" {
		return MachineAddr()
	}
	addr, err := radio.ParseAddress(c.Addr)
	if err != nil {
		return addr, err
	}
	if addr.IsReserved() {
		return addr, errors.Errorf("reserved address %s", addr)
	}
	return addr, nil
}

// NewTransport creates the radio.Transport selected by the config.
func (c *Config) NewTransport() (radio.Transport, error) {
	if loadErr != nil {
		return nil, loadErr
	}
	addr, err := c.LocalAddr()
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(c.Transport)
	if err != nil {
		return nil, errors.Wrap(err, "invalid transport URL")
	}
	switch u.Scheme {
	case "sim":
		return sim.Shared(u.Host).NewRadio(addr), nil
	case "mqtt", "tcp", "ssl", "ws", "wss":
		return mqtt.NewTransportFromURL(c.Transport, addr)
	case "udp":
		group := u.Host
		if group == "" {
			group = udp.DefaultGroup
		}
		return udp.NewTransport(group, addr)
	default:
		return nil, errors.Errorf("unknown transport URL scheme: %q", u.Scheme)
	}
}

// NewNode creates a Node, not yet initialized.
func (c *Config) NewNode() (*groupnet.Node, error) {
	t, err := c.NewTransport()
	if err != nil {
		return nil, err
	}
	return groupnet.NewNode(t, c.Config), nil
}

// MustNewNode creates a Node and fails on error.
func (c *Config) MustNewNode() *groupnet.Node {
	n, err := c.NewNode()
	if err != nil {
		log.Fatalln(err)
	}
	return n
}
