package dbfixture

import (
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/circleci/vcr/testing/testcontext"
)

const schema = `CREATE TABLE test_table (id text PRIMARY KEY, name text)`

func TestSetupDB_Isolation(t *testing.T) {
	ctx := testcontext.Background()
	fix1 := SetupDB(ctx, t, DefaultConnection)
	fix2 := SetupDB(ctx, t, DefaultConnection)

	for _, fix := range []*Fixture{fix1, fix2} {
		_, err := fix.DB.ExecContext(ctx, schema)
		assert.Assert(t, err)
	}

	t.Run("insert data into db1", func(t *testing.T) {
		_, err := fix1.TX.NoTx().ExecContext(ctx, `INSERT INTO test_table (id, name) values ('123', 'apple');`)
		assert.Assert(t, err)
	})

	t.Run("check data is in db1", func(t *testing.T) {
		var ids []string
		err := fix1.TX.NoTx().SelectContext(ctx, &ids, `SELECT id FROM test_table;`)
		assert.Assert(t, err)
		assert.Check(t, cmp.DeepEqual([]string{"123"}, ids))
	})

	t.Run("check data is not in db2", func(t *testing.T) {
		var ids []string
		err := fix2.TX.NoTx().SelectContext(ctx, &ids, `SELECT id FROM test_table;`)
		assert.Assert(t, err)
		assert.Check(t, cmp.Len(ids, 0))
	})
}

func TestSetupDB_Names(t *testing.T) {
	ctx := testcontext.Background()
	fix := SetupDB(ctx, t, DefaultConnection)

	assert.Check(t, cmp.Equal(fix.Name[6:], "-TestSetupDB_Names"))
	assert.Check(t, cmp.Contains(fix.URL, "/"+fix.Name+"?"))
	assert.Check(t, cmp.Contains(fix.URL, "application_name=dbfixture"))
}
