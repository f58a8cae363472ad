package kafkaevents

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/segmentio/kafka-go"
)

// Header keys understood by the converter
const (
	HeaderMessageID        = "message-id"
	HeaderMessageType      = "message-type"
	HeaderMessageRevision  = "message-revision"
	HeaderMessageTimestamp = "message-timestamp"
	HeaderAggregateType    = "aggregate-type"
	HeaderAggregateID      = "aggregate-id"
	HeaderAggregateSeq     = "aggregate-seq"

	// MetaPrefix prefixes every metadata entry header
	MetaPrefix = "metadata-"
)

// Headers provides typed access to kafka record headers
// A nil Headers represents a record that carries no header set at all,
// reads on it report every key as missing
type Headers []kafka.Header

// WriteString writes value under key replacing any previous value
func (h *Headers) WriteString(key, value string) {
	h.Remove(key)

	*h = append(*h, kafka.Header{Key: key, Value: []byte(value)})
}

// WriteLong writes value as decimal text under key
func (h *Headers) WriteLong(key string, value int64) {
	h.WriteString(key, strconv.FormatInt(value, 10))
}

// Remove removes all headers with the given key
func (h *Headers) Remove(key string) {
	if *h == nil {
		return
	}

	*h = slices.DeleteFunc(*h, func(hdr kafka.Header) bool {
		return hdr.Key == key
	})
}

// ReadString returns the last value written under key
func (h Headers) ReadString(key string) (string, bool) {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Key == key {
			return string(h[i].Value), true
		}
	}

	return "", false
}

// ReadLong returns the value under key parsed as int64
// Values that do not parse are reported as missing
func (h Headers) ReadLong(key string) (int64, bool) {
	s, ok := h.ReadString(key)
	if !ok {
		return 0, false
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}

// WriteMeta writes one header per metadata entry
func (h *Headers) WriteMeta(meta map[string]string) {
	for _, k := range slices.Sorted(maps.Keys(meta)) {
		h.WriteString(MetaPrefix+k, meta[k])
	}
}

// ReadMeta collects all metadata entries. It never returns nil
func (h Headers) ReadMeta() map[string]string {
	meta := make(map[string]string)

	for _, hdr := range h {
		k, ok := strings.CutPrefix(hdr.Key, MetaPrefix)
		if !ok {
			continue
		}

		meta[k] = string(hdr.Value)
	}

	return meta
}
