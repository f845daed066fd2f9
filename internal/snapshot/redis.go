package snapshot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/akellehe/go-paxos/internal/ballot"
	"github.com/akellehe/go-paxos/internal/message"
	"github.com/go-redis/redis/v7"
	"github.com/pkg/errors"
)

// RedisSnapshotter persists store records in Redis, one set per store
// name holding member keys of the form key\x1fcounter\x1fagentID, one
// string value per member.
type RedisSnapshotter struct {
	client *redis.Client
}

// NewRedisSnapshotter connects to a Redis server at addr and verifies
// reachability with a PING before returning.
func NewRedisSnapshotter(addr, password string, db int) (*RedisSnapshotter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if _, err := client.Ping().Result(); err != nil {
		return nil, errors.Wrapf(err, "ping redis at %s", addr)
	}
	return &RedisSnapshotter{client: client}, nil
}

func member(key string, id ballot.Ballot) string {
	return fmt.Sprintf("%s\x1f%d\x1f%s", key, id.Counter, id.AgentID)
}

func parseMember(m string) (key string, id ballot.Ballot, err error) {
	parts := strings.Split(m, "\x1f")
	if len(parts) != 3 {
		return "", ballot.Ballot{}, errors.Errorf("malformed snapshot member %q", m)
	}
	counter, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", ballot.Ballot{}, errors.Wrapf(err, "parse ballot counter in %q", m)
	}
	return parts[0], ballot.Ballot{Counter: counter, AgentID: parts[2]}, nil
}

// Save implements Snapshotter.
func (s *RedisSnapshotter) Save(storeName string, records []Record) error {
	setKey := "snapshot:" + storeName
	if err := s.client.Del(setKey).Err(); err != nil {
		return errors.Wrapf(err, "clear prior snapshot set %s", setKey)
	}
	pipe := s.client.TxPipeline()
	for _, rec := range records {
		for id, promise := range rec.Promises {
			if promise.Prepare == nil {
				continue
			}
			m := member(rec.Key, id)
			pipe.SAdd(setKey, m)
			valueKey := setKey + ":" + m
			pipe.Set(valueKey, promise.Prepare.Predicate+"\x1f"+promise.Prepare.Argument, 0)
		}
	}
	_, err := pipe.Exec()
	return errors.Wrap(err, "execute snapshot save pipeline")
}

// Load implements Snapshotter.
func (s *RedisSnapshotter) Load(storeName string) ([]Record, error) {
	setKey := "snapshot:" + storeName
	members, err := s.client.SMembers(setKey).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "read snapshot set %s", setKey)
	}

	byKey := make(map[string]map[ballot.Ballot]message.Promise)
	for _, m := range members {
		key, id, err := parseMember(m)
		if err != nil {
			return nil, err
		}
		raw, err := s.client.Get(setKey + ":" + m).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "read snapshot value for %s", m)
		}
		parts := strings.SplitN(raw, "\x1f", 2)
		predicate, argument := "", ""
		if len(parts) == 2 {
			predicate, argument = parts[0], parts[1]
		}
		prepare := message.Prepare{ID: id, Key: key, Predicate: predicate, Argument: argument}
		if byKey[key] == nil {
			byKey[key] = make(map[ballot.Ballot]message.Promise)
		}
		byKey[key][id] = message.Promise{Prepare: &prepare}
	}

	records := make([]Record, 0, len(byKey))
	for key, promises := range byKey {
		records = append(records, Record{Store: storeName, Key: key, Promises: promises})
	}
	return records, nil
}

// Close implements Snapshotter.
func (s *RedisSnapshotter) Close() error {
	return s.client.Close()
}
