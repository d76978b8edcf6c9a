package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/walletlink/adapters/store"
	"github.com/layer-3/walletlink/core"
)

type authList []core.Authorization

func (a authList) List(context.Context) ([]core.Authorization, error) { return a, nil }

func put(t *testing.T, s *store.MemoryStore, key string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), key, raw))
}

func TestDirectory_LoadDefaults(t *testing.T) {
	d := NewDirectory(store.NewMemoryStore())
	require.NoError(t, d.Load(context.Background()))

	_, ok := d.ActiveAccount()
	assert.False(t, ok)
	assert.Equal(t, "", d.ActiveAddress())
	assert.Equal(t, "mainnet", d.Nexus())
	assert.True(t, d.Mainnet())
	assert.Empty(t, d.Accounts())
}

func TestDirectory_FiltersWifAccounts(t *testing.T) {
	s := store.NewMemoryStore()
	put(t, s, AccountsKey, []map[string]string{
		{"address": "P2Kold", "type": "wif"},
		{"address": "P2Ka", "type": "encKey", "name": "alice"},
		{"address": "P2Kb", "type": "encKey", "ethAddress": "0xbb"},
	})
	put(t, s, CurrentIndexKey, 1)
	put(t, s, NexusKey, "TestNet")
	put(t, s, RPCKey, "http://localhost:7077/rpc")

	d := NewDirectory(s)
	require.NoError(t, d.Load(context.Background()))

	require.Len(t, d.Accounts(), 2)
	assert.Equal(t, "P2Kb", d.ActiveAddress())
	acc, ok := d.ByAddress("P2Ka")
	require.True(t, ok)
	assert.Equal(t, "alice", acc.Name)
	_, ok = d.ByAddress("P2Kold")
	assert.False(t, ok)
	assert.Equal(t, "testnet", d.Nexus())
	assert.False(t, d.Mainnet())
	assert.Equal(t, "http://localhost:7077/rpc", d.RPC())
}

func TestDirectory_LoadRejectsCorruptValue(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.Set(context.Background(), AccountsKey, []byte("{")))

	err := NewDirectory(s).Load(context.Background())
	assert.Error(t, err)
}

func TestDirectory_WatchReloadsAndNotifies(t *testing.T) {
	s := store.NewMemoryStore()
	put(t, s, AccountsKey, []map[string]string{{"address": "P2Ka"}, {"address": "P2Kb"}})

	d := NewDirectory(s)
	require.NoError(t, d.Load(context.Background()))
	assert.Equal(t, "P2Ka", d.ActiveAddress())

	stop := d.Watch(context.Background(), s)
	defer stop()

	calls := 0
	cancel := d.Subscribe(func() { calls++ })

	put(t, s, CurrentIndexKey, 1)
	assert.Equal(t, "P2Kb", d.ActiveAddress())
	assert.Equal(t, 1, calls)

	// untracked keys are ignored
	put(t, s, "authorizations", []string{})
	assert.Equal(t, 1, calls)

	cancel()
	put(t, s, CurrentIndexKey, 0)
	assert.Equal(t, "P2Ka", d.ActiveAddress())
	assert.Equal(t, 1, calls)
}

func TestDirectory_AccountBySite(t *testing.T) {
	s := store.NewMemoryStore()
	put(t, s, AccountsKey, []map[string]string{
		{"address": "P2Ka", "name": "alice"},
		{"address": "P2Kb", "name": "bob"},
	})
	auths := authList{
		{DApp: "Swap", Site: "app.example", Address: "P2Ka"},
		{DApp: "Swap", Site: "app.example", Address: "P2Kb"},
		{DApp: "Old", Site: "gone.example", Address: "P2Kgone"},
	}

	d := NewDirectory(s, WithAuthorizations(auths))
	require.NoError(t, d.Load(context.Background()))

	acc, err := d.AccountBySite(context.Background(), "APP.example")
	require.NoError(t, err)
	assert.Equal(t, "bob", acc.Name)

	_, err = d.AccountBySite(context.Background(), "gone.example")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = d.AccountBySite(context.Background(), "other.example")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = NewDirectory(s).AccountBySite(context.Background(), "app.example")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
