package crashstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vburojevic/crashwatch/internal/domain"
)

func TestDecodeRecord(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		rec, err := DecodeRecord([]byte(` {"sessionId":"s1","lastHeartbeat":8000}`))
		require.NoError(t, err)
		assert.Equal(t, domain.CrashRecord{SessionID: "s1", LastHeartbeat: 8000}, rec)
	})

	t.Run("plist", func(t *testing.T) {
		data, err := plistCodec{}.Encode(domain.CrashRecord{SessionID: "s2", LastHeartbeat: 42})
		require.NoError(t, err)
		rec, err := DecodeRecord(data)
		require.NoError(t, err)
		assert.Equal(t, domain.CrashRecord{SessionID: "s2", LastHeartbeat: 42}, rec)
	})

	for name, input := range map[string]string{
		"empty":             "",
		"truncated":         `{"sessionId":"s1","last`,
		"array":             `["s1", 8000]`,
		"missing heartbeat": `{"sessionId":"s1"}`,
		"string heartbeat":  `{"sessionId":"s1","lastHeartbeat":"8000"}`,
		"numeric session":   `{"sessionId":1,"lastHeartbeat":8000}`,
		"garbage":           "not a record",
		"huge heartbeat":    `{"sessionId":"s1","lastHeartbeat":1e20}`,
		"negative overflow": `{"sessionId":"s1","lastHeartbeat":-1e19}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRecord([]byte(input))
			assert.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestCodecFor(t *testing.T) {
	c, err := CodecFor("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, c.Name())

	c, err = CodecFor(FormatPlist)
	require.NoError(t, err)
	assert.Equal(t, FormatPlist, c.Name())

	_, err = CodecFor("xml")
	assert.Error(t, err)
}

func TestNewOpener(t *testing.T) {
	open, err := NewOpener(Options{Backend: BackendFile, RecordFormat: FormatJSON})
	require.NoError(t, err)
	s, err := open(domain.Location{RootDir: t.TempDir(), ExtensionID: "ext"})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = NewOpener(Options{Backend: "redis"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
