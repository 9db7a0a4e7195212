package secret

import (
	"encoding/json"
	"fmt"
	"testing"

	"gopkg.in/yaml.v3"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestSecret(t *testing.T) {
	s := String("secret")
	assert.Check(t, cmp.Equal(s.Raw(), "secret"))
	assert.Check(t, s.IsSet())
	assert.Check(t, !String("").IsSet())
	assert.Check(t, cmp.Equal(fmt.Sprintf("%v", s), "REDACTED"))
	assert.Check(t, cmp.Equal(fmt.Sprintf("%#v", s), "REDACTED"))
	assert.Check(t, cmp.Equal(s.String(), "REDACTED"))
}

func TestSecret_Serialised(t *testing.T) {
	type conf struct {
		User     string `json:"user" yaml:"user"`
		Password String `json:"password" yaml:"password"`
	}
	c := conf{User: "vcr", Password: "hunter2"}

	t.Run("json", func(t *testing.T) {
		b, err := json.Marshal(c)
		assert.Assert(t, err)
		assert.Check(t, cmp.Equal(string(b), `{"user":"vcr","password":"REDACTED"}`))
	})

	t.Run("yaml", func(t *testing.T) {
		b, err := yaml.Marshal(c)
		assert.Assert(t, err)
		assert.Check(t, cmp.Equal(string(b), "user: vcr\npassword: REDACTED\n"))
	})
}
