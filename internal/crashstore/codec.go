package crashstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/vburojevic/crashwatch/internal/domain"
	"howett.net/plist"
)

// Record formats
const (
	FormatJSON  = "json"
	FormatPlist = "plist"
)

// ErrMalformedRecord is returned when content is not a crash record
var ErrMalformedRecord = errors.New("malformed crash record")

// Codec encodes crash records into self-describing documents
type Codec interface {
	Name() string
	Encode(rec domain.CrashRecord) ([]byte, error)
}

// CodecFor returns the codec used to write records in the given format
func CodecFor(format string) (Codec, error) {
	switch format {
	case "", FormatJSON:
		return jsonCodec{}, nil
	case FormatPlist:
		return plistCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported record format: %s", format)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return FormatJSON }

func (jsonCodec) Encode(rec domain.CrashRecord) ([]byte, error) {
	return json.Marshal(rec)
}

type plistCodec struct{}

func (plistCodec) Name() string { return FormatPlist }

func (plistCodec) Encode(rec domain.CrashRecord) ([]byte, error) {
	return plist.Marshal(rec, plist.XMLFormat)
}

// DecodeRecord parses a record written in any supported format. A document
// is only a record when sessionId is a string and lastHeartbeat a number.
func DecodeRecord(data []byte) (domain.CrashRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return domain.CrashRecord{}, fmt.Errorf("%w: empty", ErrMalformedRecord)
	}

	fields := map[string]interface{}{}
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return domain.CrashRecord{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
	} else {
		if _, err := plist.Unmarshal(trimmed, &fields); err != nil {
			return domain.CrashRecord{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
	}

	sessionID, ok := fields["sessionId"].(string)
	if !ok {
		return domain.CrashRecord{}, fmt.Errorf("%w: sessionId is not a string", ErrMalformedRecord)
	}
	lastHeartbeat, ok := toMillis(fields["lastHeartbeat"])
	if !ok {
		return domain.CrashRecord{}, fmt.Errorf("%w: lastHeartbeat is not a number", ErrMalformedRecord)
	}
	return domain.CrashRecord{SessionID: sessionID, LastHeartbeat: lastHeartbeat}, nil
}

func toMillis(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63
		if math.IsNaN(n) || n >= math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
