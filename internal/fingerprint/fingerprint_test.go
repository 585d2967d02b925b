package fingerprint

import (
	"encoding/base64"
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProducesDecodableJSON(t *testing.T) {
	fp := Generate()
	require.NotEmpty(t, fp)

	raw, err := base64.StdEncoding.DecodeString(fp)
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, runtime.GOOS, fields["platform"])
	assert.Equal(t, runtime.GOARCH, fields["arch"])
}

func TestGenerateIsStablePerProcess(t *testing.T) {
	assert.Equal(t, Generate(), Generate())
}
