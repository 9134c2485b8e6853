package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-quiz/internal/config"
	"github.com/stemsi/exstem-quiz/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHash struct {
	data      map[string]map[string]string
	published []string
}

func (f *fakeHash) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.published = append(f.published, string(message.([]byte)))
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func (f *fakeHash) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	if f.data[key] == nil {
		f.data[key] = map[string]string{}
	}
	for i := 0; i+1 < len(values); i += 2 {
		field := values[i].(string)
		switch v := values[i+1].(type) {
		case []byte:
			f.data[key][field] = string(v)
		case string:
			f.data[key][field] = v
		}
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func (f *fakeHash) HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	for _, field := range fields {
		delete(f.data[key], field)
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(fields)))
	return cmd
}

func (f *fakeHash) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	cmd := redis.NewMapStringStringCmd(ctx)
	out := map[string]string{}
	for k, v := range f.data[key] {
		out[k] = v
	}
	cmd.SetVal(out)
	return cmd
}

func TestActiveSessionRepository(t *testing.T) {
	rdb := &fakeHash{data: map[string]map[string]string{}}
	repo := NewActiveSessionRepository(rdb)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	later := model.ActiveSession{SessionID: uuid.New(), FullName: "B", SchoolName: "S", StartedAt: now.Add(time.Minute), Deadline: now.Add(31 * time.Minute)}
	earlier := model.ActiveSession{SessionID: uuid.New(), FullName: "A", SchoolName: "S", StartedAt: now, Deadline: now.Add(30 * time.Minute)}

	require.NoError(t, repo.Track(ctx, later))
	require.NoError(t, repo.Track(ctx, earlier))
	rdb.data[config.CacheKey.ActiveSessionsKey()]["garbage"] = "{"

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].FullName)
	assert.True(t, list[0].StartedAt.Equal(now))

	require.NoError(t, repo.Untrack(ctx, earlier.SessionID))
	list, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, later.SessionID, list[0].SessionID)

	require.Len(t, rdb.published, 3)
	assert.Contains(t, rdb.published[0], `"type":"session_started"`)
	assert.Contains(t, rdb.published[2], `"type":"session_finished"`)
	assert.Contains(t, rdb.published[2], earlier.SessionID.String())
}
