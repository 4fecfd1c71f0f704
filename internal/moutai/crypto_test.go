package moutai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignSendCode(t *testing.T) {
	got := SignSendCode("13800138000", 1700000000000)
	assert.Equal(t, "a07910cf3c7c51bbb95b66bcf0004d94", got)
}

func TestSignLogin(t *testing.T) {
	got := SignLogin("13800138000", "1234", 1700000000000)
	assert.Equal(t, "58ec88357abbdbb61707852f630c837d", got)
}

func TestSignatureVariesWithTimestamp(t *testing.T) {
	a := Signature("13800138000", 1700000000000)
	b := Signature("13800138000", 1700000000001)
	assert.NotEqual(t, a, b)
}

func TestEncryptActParam(t *testing.T) {
	got, err := EncryptActParam("hello")
	require.NoError(t, err)
	assert.Equal(t, "gWaP6aoiLm5WSgQUA0jxDg==", got)
}

func TestEncryptActParamRequestBody(t *testing.T) {
	body := `{"itemInfoList":[{"count":1,"itemId":"10213"}],"sessionId":"488","userId":"123456","shopId":"233331084001"}`
	got, err := EncryptActParam(body)
	require.NoError(t, err)
	assert.Equal(t,
		"IdiwwdtRdEBhdeHkaJbq1J59r8j5hLj3e34vWmtgR3udkfN8kb+OHBU0ulvot0iBmu2uIQsKpcGHO2v7nbKZtqnJJ0vvCa/9izfuF7Fee+nZ6Pz2wTbiAZQVTB9ZUHdxsKM17HA30bofVTVS5EAcdQ==",
		got)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, in := range []string{"", "a", "exactly 16 byte!", strings.Repeat("x", 100)} {
		enc, err := EncryptActParam(in)
		require.NoError(t, err)
		dec, err := DecryptActParam(enc)
		require.NoError(t, err)
		assert.Equal(t, in, dec)
	}
}

func TestNewDeviceID(t *testing.T) {
	id := NewDeviceID()
	assert.Len(t, id, 36)
	assert.Equal(t, strings.ToLower(id), id)
	assert.NotEqual(t, id, NewDeviceID())
}
