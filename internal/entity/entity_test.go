package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Entity {
	born := NewDate(time.Date(1990, 5, 17, 8, 30, 15, 250_000_000, time.UTC))
	return New("Contact", 42, map[string]Value{
		"Name":     String("Ada"),
		"Age":      Int(34),
		"Score":    Float(2),
		"Active":   Bool(true),
		"Nickname": Null{},
		"Born":     born,
		"Visits":   Array{born, NewDate(born.Add(time.Hour))},
		"Address": Object{
			"City":  String("Riga"),
			"Since": NewDate(born.Add(24 * time.Hour)),
		},
	})
}

func TestEntity_JSONRoundTripIsMillisecondExact(t *testing.T) {
	in := sample()

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Entity
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, in.ID, out.ID)
	require.Len(t, out.Fields, len(in.Fields))
	for k, v := range in.Fields {
		assert.Truef(t, Equal(v, out.Fields[k]), "field %s: want %#v got %#v", k, v, out.Fields[k])
	}

	born := out.Fields["Born"].(Date)
	assert.Equal(t, int64(642933015250), born.UnixMilli())
}

func TestEntity_DatesUseEscapedWireForm(t *testing.T) {
	e := New("Event", 1, map[string]Value{"At": NewDate(time.UnixMilli(1700000000000))})

	data, err := json.Marshal(e)
	require.NoError(t, err)

	assert.JSONEq(t, `{"ID":1,"At":"\/Date(1700000000000)\/"}`, string(data))
	assert.Contains(t, string(data), `"\/Date(1700000000000)\/"`)
}

func TestEntity_FloatKindSurvives(t *testing.T) {
	e := New("Point", 3, map[string]Value{"X": Float(2), "Y": Int(2)})

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var out Entity
	require.NoError(t, json.Unmarshal(data, &out))
	assert.IsType(t, Float(0), out.Fields["X"])
	assert.IsType(t, Int(0), out.Fields["Y"])
}

func TestEntity_UnmarshalRejectsBadID(t *testing.T) {
	var e Entity
	err := json.Unmarshal([]byte(`{"ID":"abc"}`), &e)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`{"ID":1.5}`), &e)
	assert.Error(t, err)
}

func TestMarshalAndRecreateDates_Recursive(t *testing.T) {
	ts := time.UnixMilli(1234567890123).UTC()
	v := Object{
		"a": NewDate(ts),
		"b": Array{NewDate(ts), Object{"c": NewDate(ts)}},
		"d": String("plain"),
	}

	m := MarshalDates(v).(Object)
	assert.Equal(t, String("/Date(1234567890123)/"), m["a"])
	assert.Equal(t, String("/Date(1234567890123)/"), m["b"].(Array)[1].(Object)["c"])

	back := RecreateDates(m)
	assert.True(t, Equal(v, back))
}

func TestParseDate(t *testing.T) {
	tm, ok := ParseDate("/Date(-1000)/")
	require.True(t, ok)
	assert.Equal(t, int64(-1000), tm.UnixMilli())

	tm, ok = ParseDate("/Date(1000+0200)/")
	require.True(t, ok)
	assert.Equal(t, int64(1000), tm.UnixMilli())

	_, ok = ParseDate("Date(1000)")
	assert.False(t, ok)
	_, ok = ParseDate("/Date(abc)/")
	assert.False(t, ok)
}

func TestDecodeList_StampsType(t *testing.T) {
	list, err := DecodeList("Task", []byte(`[{"ID":2,"Title":"b"},{"ID":1,"Title":"a"}]`))
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, e := range list {
		assert.Equal(t, "Task", e.Type)
	}

	empty, err := DecodeList("Task", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = DecodeList("Task", []byte(`{`))
	assert.Error(t, err)
}

func TestUpsert_ReplacesInPlaceAndAppends(t *testing.T) {
	list := []*Entity{
		New("T", 3, map[string]Value{"v": Int(1)}),
		New("T", 1, map[string]Value{"v": Int(1)}),
	}

	list = Upsert(list,
		New("T", 1, map[string]Value{"v": Int(2)}),
		New("T", 7, map[string]Value{"v": Int(1)}),
	)

	require.Len(t, list, 3)
	assert.Equal(t, int64(3), list[0].ID)
	assert.Equal(t, int64(1), list[1].ID)
	assert.Equal(t, Int(2), list[1].Fields["v"])
	assert.Equal(t, int64(7), list[2].ID)

	again := Upsert(CloneList(list), CloneList(list)...)
	assert.Len(t, again, 3)
}

func TestRemoveIDsAndFind(t *testing.T) {
	list := []*Entity{New("T", 1, nil), New("T", 2, nil), New("T", 3, nil)}
	list = RemoveIDs(list, 2, 9)

	require.Len(t, list, 2)
	_, ok := Find(list, 2)
	assert.False(t, ok)
	e, ok := Find(list, 3)
	require.True(t, ok)
	assert.Equal(t, int64(3), e.ID)
}

func TestClone_IsDeep(t *testing.T) {
	e := sample()
	c := e.Clone()

	c.Fields["Address"].(Object)["City"] = String("Oslo")
	c.Fields["Visits"].(Array)[0] = Null{}

	assert.Equal(t, String("Riga"), e.Fields["Address"].(Object)["City"])
	assert.IsType(t, Date{}, e.Fields["Visits"].(Array)[0])
}

func TestFromAny_ToAny(t *testing.T) {
	ts := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	v := FromAny(map[string]any{
		"n": 3, "f": 1.5, "s": "x", "b": false, "t": ts, "l": []any{1, nil},
	})
	obj := v.(Object)
	assert.Equal(t, Int(3), obj["n"])
	assert.Equal(t, Float(1.5), obj["f"])
	assert.Equal(t, Null{}, obj["l"].(Array)[1])
	assert.True(t, Equal(NewDate(ts), obj["t"]))

	back := ToAny(v).(map[string]any)
	assert.Equal(t, int64(3), back["n"])
	assert.True(t, ts.Equal(back["t"].(time.Time)))
}

func TestEntity_GetSet(t *testing.T) {
	e := New("T", 5, nil)
	assert.Equal(t, Null{}, e.Get("missing"))
	assert.Equal(t, Int(5), e.Get(IDField))

	e.Set("Name", String("n"))
	e.Set(IDField, Int(9))
	assert.Equal(t, String("n"), e.Get("Name"))
	assert.Equal(t, int64(9), e.ID)
	assert.False(t, e.IsLocal())
	assert.True(t, New("T", -1, nil).IsLocal())
}
