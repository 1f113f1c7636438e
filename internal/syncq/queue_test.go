package syncq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueuePersistsAcrossLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	got, err := Load()
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, Push(Command{Method: "POST", Path: "/v1/teams/t1/ready", IdempotencyKey: "k1"}))
	require.NoError(t, Push(Command{
		Method:         "POST",
		Path:           "/v1/teams/t1/bids",
		Body:           map[string]any{"project_id": "p1", "amount": float64(50000)},
		IdempotencyKey: "k2",
	}))

	got, err = Load()
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "k1", got[0].IdempotencyKey)
	require.Equal(t, float64(50000), got[1].Body["amount"])
}

func TestReplayStopsAtFirstUnreachable(t *testing.T) {
	offline := errors.New("dial tcp: connection refused")
	rejected := errors.New("api status 400")
	cmds := []Command{{IdempotencyKey: "a"}, {IdempotencyKey: "b"}, {IdempotencyKey: "c"}, {IdempotencyKey: "d"}}

	var dropped []string
	sent, remaining := Replay(cmds, func(c Command) error {
		switch c.IdempotencyKey {
		case "b":
			return rejected
		case "c":
			return offline
		}
		return nil
	}, func(err error) bool {
		return errors.Is(err, offline)
	}, func(c Command, _ error) {
		dropped = append(dropped, c.IdempotencyKey)
	})

	require.Equal(t, 1, sent)
	require.Equal(t, []string{"b"}, dropped)
	require.Len(t, remaining, 2)
	require.Equal(t, "c", remaining[0].IdempotencyKey)
}

func TestReplayDrainsQueue(t *testing.T) {
	sent, remaining := Replay([]Command{{}, {}}, func(Command) error { return nil }, func(error) bool { return true }, nil)
	require.Equal(t, 2, sent)
	require.Empty(t, remaining)
}
