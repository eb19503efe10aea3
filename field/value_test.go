package field

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueMapJSONKeepsKinds(t *testing.T) {
	in := ValueMap{
		"title":   TextValue("Quarterly report"),
		"notes":   RichTextValue("<p>hi</p>"),
		"amount":  NumberValue(decimal.RequireFromString("5000.10")),
		"urgent":  BoolValue(true),
		"due":     TimeValue(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		"region":  SelectValue("emea"),
		"tags":    MultiSelectValue([]string{"a", "b"}),
		"invoice": ReferenceValue("inv-1"),
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out ValueMap
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.Equal(out), "round trip changed values: %s", data)
	assert.Equal(t, "5000.1", out["amount"].Number().String())
	assert.True(t, out["tags"].Multi())
}

func TestValueUnmarshalRejectsUnknownKind(t *testing.T) {
	var v Value
	err := json.Unmarshal([]byte(`{"kind":"blob","value":1}`), &v)
	assert.Error(t, err)
}

func TestValueMapCloneIsIndependent(t *testing.T) {
	src := ValueMap{"tags": MultiSelectValue([]string{"a"})}
	cp := src.Clone()
	cp["new"] = TextValue("x")
	assert.False(t, src.Has("new"))
	assert.True(t, cp.Has("tags"))

	items := src["tags"].Items()
	items[0] = "mutated"
	assert.Equal(t, []string{"a"}, src["tags"].Items())
}

func TestValueEqualComparesNumbersByValue(t *testing.T) {
	a := NumberValue(decimal.RequireFromString("1.0"))
	b := NumberValue(decimal.NewFromInt(1))
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(TextValue("1")))
	assert.False(t, SelectValue("a").Equal(MultiSelectValue([]string{"a"})))
}
