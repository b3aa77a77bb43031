package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strconv"

	"github.com/verityengine/verity/pkg/domain"
)

// StructuralHash returns a hex-encoded content hash of the schema's
// definition. Semantically identical schemas hash identically regardless of
// how or when they were registered, which is what keys the compiled-contract
// cache.
func StructuralHash(s *domain.Schema) string {
	h := sha256.New()
	writeSchema(h, s)
	return hex.EncodeToString(h.Sum(nil))
}

// CombineHashes derives a single key from an ordered list of hashes. Used for
// pipeline-level result-cache keys where the "contract" is the ordered set of
// step contracts.
func CombineHashes(hashes ...string) string {
	h := sha256.New()
	for _, item := range hashes {
		writeField(h, item)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeSchema(h hash.Hash, s *domain.Schema) {
	if s == nil {
		writeField(h, "nil")
		return
	}

	writeField(h, string(s.Kind))

	switch s.Kind {
	case domain.SchemaLeaf:
		writeField(h, string(s.Type))
		writeFloatPtr(h, s.Min)
		writeFloatPtr(h, s.Max)
		writeIntPtr(h, s.MinLength)
		writeIntPtr(h, s.MaxLength)
		writeField(h, s.Pattern)
		writeField(h, s.Format)
		for _, value := range s.Enum {
			writeField(h, fmt.Sprintf("%T=%v", value, value))
		}
	case domain.SchemaObject:
		names := make([]string, 0, len(s.Fields))
		for name := range s.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			writeField(h, name)
			writeSchema(h, s.Fields[name])
		}
		required := append([]string(nil), s.Required...)
		sort.Strings(required)
		for _, name := range required {
			writeField(h, "required:"+name)
		}
		writeField(h, string(s.Unknown))
	case domain.SchemaArray:
		writeSchema(h, s.Element)
		writeIntPtr(h, s.MinItems)
		writeIntPtr(h, s.MaxItems)
	case domain.SchemaUnion:
		for _, option := range s.Options {
			writeSchema(h, option)
		}
	case domain.SchemaRef:
		writeField(h, s.Ref)
	case domain.SchemaPolicy:
		writeField(h, s.PolicyModule)
		writeField(h, s.PolicyEntrypoint)
	}
}

// writeField writes a value followed by a NUL delimiter so adjacent fields
// cannot collide.
func writeField(h hash.Hash, value string) {
	h.Write([]byte(value))
	h.Write([]byte{0})
}

func writeFloatPtr(h hash.Hash, value *float64) {
	if value == nil {
		writeField(h, "")
		return
	}
	writeField(h, strconv.FormatFloat(*value, 'g', -1, 64))
}

func writeIntPtr(h hash.Hash, value *int) {
	if value == nil {
		writeField(h, "")
		return
	}
	writeField(h, strconv.Itoa(*value))
}
