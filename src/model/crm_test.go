package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUser_CustomFieldShapes(t *testing.T) {
	payload := `[
		{"id":1,"firstName":"Jane","lastName":"Doe","customFields":{"custom_entity":"Dubai"}},
		{"id":2,"firstName":"John","customFields":{"custom_entity":{"value":"Mauritius"}}},
		{"id":3,"firstName":"Empty","customFields":{"custom_entity":{"value":""}}},
		{"id":4,"firstName":"Null","customFields":{"custom_entity":null,"score":7}},
		{"id":5,"firstName":"None"}
	]`
	var users []User
	require.NoError(t, json.Unmarshal([]byte(payload), &users))
	require.Len(t, users, 5)

	assert.Equal(t, "Dubai", users[0].Entity("custom_entity"))
	assert.Equal(t, "Jane Doe", users[0].Name())
	assert.Equal(t, "Mauritius", users[1].Entity("custom_entity"))
	assert.Equal(t, DefaultEntity, users[2].Entity("custom_entity"))
	assert.Equal(t, DefaultEntity, users[3].Entity("custom_entity"))
	assert.Equal(t, DefaultEntity, users[4].Entity("custom_entity"))

	score, ok := users[3].CustomFields.Get("score")
	assert.True(t, ok)
	assert.Equal(t, "7", score)

	out, err := json.Marshal(users[1].CustomFields)
	require.NoError(t, err)
	assert.JSONEq(t, `{"custom_entity":"Mauritius"}`, string(out))
}

func TestTransaction_DecimalAmount(t *testing.T) {
	var tx Transaction
	require.NoError(t, json.Unmarshal([]byte(`{"id":9,"processedAmount":"1000.10","platformComment":"Negative Bal fix"}`), &tx))
	assert.Equal(t, "1000.1", tx.ProcessedAmount.String())

	require.NoError(t, json.Unmarshal([]byte(`{"processedAmount":-300.5}`), &tx))
	assert.Equal(t, "-300.5", tx.ProcessedAmount.String())
}

func TestFlexNumbers(t *testing.T) {
	var p MT5Position
	require.NoError(t, json.Unmarshal([]byte(`{"Login":"100206","Volume":"10000","VolumeExt":100000000,"PriceOpen":"1.0850","ContractSize":null}`), &p))
	assert.Equal(t, int64(100206), p.Login.Int64())
	assert.Equal(t, 10000.0, p.Volume.Float64())
	assert.Equal(t, 1e8, p.VolumeExt.Float64())
	assert.Equal(t, 1.085, p.PriceOpen.Float64())
	assert.Equal(t, 0.0, p.ContractSize.Float64())

	var i FlexInt
	require.NoError(t, json.Unmarshal([]byte(`"1700000000.0"`), &i))
	assert.Equal(t, FlexInt(1700000000), i)
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &i))
}

func TestAccount_GroupLabel(t *testing.T) {
	assert.Equal(t, `real\std`, Account{GroupName: `real\std`, Group: "x"}.GroupLabel())
	assert.Equal(t, "x", Account{Group: "x"}.GroupLabel())
}

func TestAccountRef_Key(t *testing.T) {
	assert.Equal(t, "1-100206", AccountRef{ServerID: 1, Login: "100206"}.Key())
}
