package model

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

func parse(t *testing.T, m interface{}) *schema.Schema {
	t.Helper()
	s, err := schema.Parse(m, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)
	return s
}

// 时间列必须带时区，否则驱动按墙上时间读写，非 UTC 时区的服务会错位
func TestTimeColumnsAreTimestamptz(t *testing.T) {
	timeType := reflect.TypeOf(time.Time{})
	for _, m := range []interface{}{&User{}, &Game{}, &Team{}, &TeamMember{}, &Deposit{}, &Payout{}} {
		s := parse(t, m)
		for _, f := range s.Fields {
			if f.IndirectFieldType != timeType {
				continue
			}
			assert.Equal(t, "timestamptz", f.TagSettings["TYPE"], "%s.%s", s.Table, f.DBName)
		}
	}
}

func TestUniqueKeys(t *testing.T) {
	deposit := parse(t, &Deposit{})
	idx := deposit.LookIndex("uk_deposit_tx_hash")
	require.NotNil(t, idx)
	assert.Equal(t, "UNIQUE", idx.Class)

	payout := parse(t, &Payout{})
	idx = payout.LookIndex("uk_payout_game_user_kind")
	require.NotNil(t, idx)
	require.Len(t, idx.Fields, 3)
	assert.Equal(t, "game_id", idx.Fields[0].DBName)
	assert.Equal(t, "user_id", idx.Fields[1].DBName)
	assert.Equal(t, "kind", idx.Fields[2].DBName)

	game := parse(t, &Game{})
	idx = game.LookIndex("uk_games_single_active")
	require.NotNil(t, idx)
	assert.Equal(t, "status = 'active'", idx.Where)
}
