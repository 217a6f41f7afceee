package regions

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"time"
)

// KeySeparator separates the device path from the offset in keys.
const KeySeparator = '\x00'

// ErrBadKey is returned for keys that do not carry a device and offset.
var ErrBadKey = errors.New("malformed region key")

// Region is a block that failed to read in at least one raw scan.
type Region struct {
	Device    string    `json:"device" yaml:"device"`
	Offset    uint64    `json:"offset" yaml:"offset"`
	BlockSize int       `json:"block_size" yaml:"block_size"`
	Hits      int       `json:"hits" yaml:"hits"`
	FirstSeen time.Time `json:"first_seen" yaml:"first_seen"`
	LastSeen  time.Time `json:"last_seen" yaml:"last_seen"`
}

// record is the stored value; device and offset live in the key.
type record struct {
	BlockSize int
	Hits      int
	FirstSeen int64 // UnixNano
	LastSeen  int64 // UnixNano
}

func (r *record) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *record) decode(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(r)
}

func (r *record) region(device string, offset uint64) Region {
	return Region{
		Device:    device,
		Offset:    offset,
		BlockSize: r.BlockSize,
		Hits:      r.Hits,
		FirstSeen: time.Unix(0, r.FirstSeen),
		LastSeen:  time.Unix(0, r.LastSeen),
	}
}

// MakeKey builds <device>\x00<big-endian offset>, so keys of one device
// iterate in offset order.
func MakeKey(device string, offset uint64) []byte {
	key := make([]byte, 0, len(device)+1+8)
	key = append(key, device...)
	key = append(key, KeySeparator)
	return binary.BigEndian.AppendUint64(key, offset)
}

// MakeKeyPrefix returns the prefix shared by all keys of device.
func MakeKeyPrefix(device string) []byte {
	return []byte(device + string(KeySeparator))
}

// ParseKey splits a key into device and offset.
func ParseKey(key []byte) (string, uint64, error) {
	idx := bytes.IndexByte(key, KeySeparator)
	if idx == -1 || len(key)-idx-1 != 8 {
		return "", 0, ErrBadKey
	}
	return string(key[:idx]), binary.BigEndian.Uint64(key[idx+1:]), nil
}
