/*
Package objdb implements a schema-versioned object database on top of an
ordered key-value store (bbolt, Badger or memory).

We implement:

1. Objects identified by ObjID, typed by an object type of the schema.

2. Simple, reference, list, set and map fields, addressed by storage ID.

3. Indexes on simple fields and sub-fields, and composite indexes over
several simple fields of one type. References are always indexed.

4. Reference integrity: delete actions, cascades and dangling-reference
checks on write.

5. Schema versions: each transaction uses one version, objects written under
another version are upgraded the first time they are accessed.

# Technical Details

**Storage IDs.**
Every object type, field, sub-field and composite index has a positive
storage ID. Storage IDs, not names, are written into keys, so names can
change freely across versions. Storage IDs are never reused for something
else while data written under them exists.

**Ordered uints.**
Storage IDs, list positions and versions are encoded so that byte order
matches numeric order: values below 0xF8 take one byte, larger values are
a length byte 0xF8+n-1 followed by n big-endian bytes of v-0xF8.

**ObjID.**
Eight bytes: the ordered encoding of the type's storage ID, then random
bytes. All objects of one type are adjacent in the key space.

## Key layout

**Object meta** (ObjID): uvarint schema version, uvarint flags. The key
exists exactly while the object exists.

**Simple field** (ObjID | sid): the encoded value. An absent key means the
default value; writing the default deletes the key.

**List element** (ObjID | sid | ordered(index)): the encoded element.

**Set element** (ObjID | sid | element): empty value.

**Map entry** (ObjID | sid | key): the encoded value.

**Index entry** (sid | value | ObjID [| suffix]): empty value. List element
entries carry the ordered position as suffix, map value entries carry the
encoded map key. Composite index entries concatenate the field values.

**Meta namespace** (0x00 ...): 0x00 0x00 holds the key format version,
0x00 0x01 | ordered(version) holds a msgpack schema record, and
0x00 0x02 | ordered(version) | ObjID indexes objects by schema version.
*/
package objdb
