package hubkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseS1(t *testing.T) {
	key, err := Parse("https://openpermissions.org/s1/hub1/10e4b9612337f237118e1678ec001fa6/asset/37cd1397e0814e989fa22da6b15fec60")
	require.NoError(t, err)

	assert.Equal(t, "s1", key.Schema)
	assert.Equal(t, "hub1", key.Hub)
	assert.Equal(t, "10e4b9612337f237118e1678ec001fa6", key.Repository)
	assert.Equal(t, "asset", key.EntityType)
	assert.Equal(t, "37cd1397e0814e989fa22da6b15fec60", key.EntityID)
}

func TestParseS0(t *testing.T) {
	key, err := Parse("https://chub.org/s0/hub1/asset/testco/my-id-type/some_id.1")
	require.NoError(t, err)

	assert.Equal(t, "s0", key.Schema)
	assert.Equal(t, "hub1", key.Hub)
	assert.Equal(t, "testco", key.Organisation)
	assert.Equal(t, "my-id-type", key.IDType)
	assert.Equal(t, "some_id.1", key.EntityID)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"not a url", "hub1/asset/abc"},
		{"unknown schema version", "https://chub.org/s2/hub1/abc/asset/def"},
		{"non-hex s1 entity id", "https://chub.org/s1/hub1/10e4b961/asset/NOT-HEX"},
		{"missing parts", "https://chub.org/s1/hub1/asset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			assert.Error(t, err)
		})
	}
}
