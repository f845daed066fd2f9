// Package config loads the cluster configuration shared by every
// agent process: a single Conf struct decoded from YAML with a
// defaulting pass for anything left blank, layered with a
// github.com/spf13/viper environment-variable overlay so a deployment
// can override any field without editing the file on disk.
package config

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// PersistenceDriver selects the optional Snapshotter backend an agent
// wires up for its PromiseStore. Persistence across restart stays
// opt-in; the default is PersistenceNone.
type PersistenceDriver string

const (
	PersistenceNone   PersistenceDriver = "none"
	PersistenceSQLite PersistenceDriver = "sqlite"
	PersistenceRedis  PersistenceDriver = "redis"
)

// LearnPolicyName mirrors proposer.LearnPolicy as a config-file-friendly
// string so cluster.yaml never has to spell out a Go identifier.
type LearnPolicyName string

const (
	LearnPolicyQuorum LearnPolicyName = "quorum"
	LearnPolicyAll    LearnPolicyName = "all"
)

// Conf holds every value an agentd process needs to join the cluster.
type Conf struct {
	AgentID     string   `yaml:"agent_id" mapstructure:"agent_id"`
	ListenAddr  string   `yaml:"listen_addr" mapstructure:"listen_addr"`
	Peers       []string `yaml:"peers" mapstructure:"peers"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`

	LearnPolicy LearnPolicyName `yaml:"learn_policy" mapstructure:"learn_policy"`

	Persistence       PersistenceDriver `yaml:"persistence_driver" mapstructure:"persistence_driver"`
	SQLitePath        string            `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	RedisAddr         string            `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword     string            `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB           int               `yaml:"redis_db" mapstructure:"redis_db"`

	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
}

// Load reads the YAML file at path (if path is non-empty), overlays
// environment variables prefixed PAXOS_ (e.g. PAXOS_LISTEN_ADDR,
// PAXOS_PEERS), and fills in any field left blank: a fresh AgentID,
// a workable request timeout, and a quorum-safe learn policy.
func Load(path string) (*Conf, error) {
	v := viper.New()
	v.SetEnvPrefix("paxos")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}

	var c Conf
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decode configuration")
	}

	fillEmptyFields(&c)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// fillEmptyFields defaults every field that may legitimately be left
// blank in cluster.yaml; anything else must be set explicitly by the
// operator.
func fillEmptyFields(c *Conf) {
	if c.AgentID == "" {
		c.AgentID = uuid.NewString()
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.LearnPolicy == "" {
		c.LearnPolicy = LearnPolicyQuorum
	}
	if c.Persistence == "" {
		c.Persistence = PersistenceNone
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
}

// Validate reports the fields an operator must set explicitly:
// ListenAddr and a non-empty Peers list, plus the backend-specific
// fields a non-default PersistenceDriver requires.
func (c *Conf) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("config: listen_addr is required")
	}
	if len(c.Peers) == 0 {
		return errors.New("config: peers must list at least this agent")
	}
	switch c.LearnPolicy {
	case LearnPolicyQuorum, LearnPolicyAll:
	default:
		return errors.Errorf("config: unknown learn_policy %q", c.LearnPolicy)
	}
	switch c.Persistence {
	case PersistenceNone, PersistenceSQLite, PersistenceRedis:
	default:
		return errors.Errorf("config: unknown persistence_driver %q", c.Persistence)
	}
	if c.Persistence == PersistenceSQLite && c.SQLitePath == "" {
		return errors.New("config: sqlite_path is required when persistence_driver is sqlite")
	}
	if c.Persistence == PersistenceRedis && c.RedisAddr == "" {
		return errors.New("config: redis_addr is required when persistence_driver is redis")
	}
	return nil
}

// Quorum returns floor(len(Peers)/2)+1, the cluster-wide quorum size
// for this configuration.
func (c *Conf) Quorum() int {
	return len(c.Peers)/2 + 1
}
