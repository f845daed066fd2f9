package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/akellehe/go-paxos/internal/message"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newReadCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "read <addr>",
		Short: "Dump committed rounds from a running agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rounds, err := fetchCommittedRounds(args[0])
			if err != nil {
				return err
			}
			for _, p := range rounds {
				if key != "" && p.Key != key {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s=%s\n", p.Key, p.ID.String(), p.Predicate, p.Argument)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "only print rounds for this key")
	return cmd
}

func fetchCommittedRounds(addr string) ([]message.Prepare, error) {
	resp, err := http.Get(fmt.Sprintf("http://%s/read", addr))
	if err != nil {
		return nil, errors.Wrapf(err, "request /read from %s", addr)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("agent %s returned status %d from /read", addr, resp.StatusCode)
	}

	var rounds []message.Prepare
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var p message.Prepare
		if err := json.Unmarshal(line, &p); err != nil {
			return nil, errors.Wrap(err, "decode commit log line")
		}
		rounds = append(rounds, p)
	}
	return rounds, scanner.Err()
}
