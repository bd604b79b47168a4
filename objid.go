package objdb

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
)

// MaxStorageID is the largest storage ID. Its ordered encoding takes four
// bytes, which leaves four random bytes in every ObjID.
const MaxStorageID = orderedUintMulti + 0xFFFFFF

// ObjIDLen is the encoded length of an ObjID.
const ObjIDLen = 8

// ObjID identifies an object. Its big-endian bytes start with the ordered
// encoding of the object type's storage ID, followed by random bytes, so
// sorting ObjIDs groups objects by type.
type ObjID uint64

// NewObjID returns a random ObjID for an object of the given type.
func NewObjID(storageID uint32) ObjID {
	if storageID == 0 || storageID > MaxStorageID {
		panic(fmt.Errorf("invalid storage ID %d", storageID))
	}
	var buf [ObjIDLen]byte
	prefix := appendOrderedUint(buf[:0], uint64(storageID))
	binary.BigEndian.PutUint64(buf[:], rand.Uint64())
	copy(buf[:], prefix)
	return ObjID(binary.BigEndian.Uint64(buf[:]))
}

// ObjIDFromBytes decodes an ObjID and checks its storage ID prefix.
func ObjIDFromBytes(b []byte) (ObjID, error) {
	if len(b) < ObjIDLen {
		return 0, dataErrf(b, 0, nil, "short object ID")
	}
	id := ObjID(binary.BigEndian.Uint64(b))
	if _, err := id.storageID(); err != nil {
		return 0, err
	}
	return id, nil
}

// ParseObjID parses the 16-digit hex form produced by String.
func ParseObjID(s string) (ObjID, error) {
	if len(s) != 2*ObjIDLen {
		return 0, fmt.Errorf("invalid object ID %q", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid object ID %q: %w", s, err)
	}
	return ObjIDFromBytes(b)
}

func (id ObjID) Bytes() []byte {
	return id.appendTo(make([]byte, 0, ObjIDLen))
}

func (id ObjID) appendTo(buf []byte) []byte {
	return binary.BigEndian.AppendUint64(buf, uint64(id))
}

// StorageID returns the storage ID of the object's type, or 0 for an ObjID
// that does not carry a valid one.
func (id ObjID) StorageID() uint32 {
	sid, err := id.storageID()
	if err != nil {
		return 0
	}
	return sid
}

func (id ObjID) storageID() (uint32, error) {
	var buf [ObjIDLen]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	v, rest, err := readOrderedUint(buf[:])
	if err != nil {
		return 0, err
	}
	if v == 0 || v > MaxStorageID || len(rest) < ObjIDLen-4 {
		return 0, dataErrf(buf[:], 0, nil, "invalid storage ID %d in object ID", v)
	}
	return uint32(v), nil
}

func (id ObjID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}
