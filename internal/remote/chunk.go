package remote

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
)

const (
	LayerTargetSize = 5 * 1024 * 1024  // 5MB target
	LayerMinSize    = 2 * 1024 * 1024  // 2MB minimum before combining
	LayerSoftMax    = 10 * 1024 * 1024 // 10MB soft maximum
)

// GroupByPrefix buckets images by the first byte of the hash of their name,
// so layer contents stay stable as images are added.
func GroupByPrefix(images map[string][]byte) map[string]map[string][]byte {
	result := make(map[string]map[string][]byte)
	for name, data := range images {
		prefix := namePrefix(name)
		if result[prefix] == nil {
			result[prefix] = make(map[string][]byte)
		}
		result[prefix][name] = data
	}
	return result
}

func namePrefix(name string) string {
	h := sha256.Sum256([]byte(name))
	return hex.EncodeToString(h[:1])
}

func PrefixSize(images map[string][]byte) int64 {
	var total int64
	for _, data := range images {
		total += int64(len(data))
	}
	return total
}

// PackLayer packs images into: [name length 2B][name][data length 8B][data]...
// Entries are sorted by name.
func PackLayer(images map[string][]byte) ([]byte, error) {
	names := make([]string, 0, len(images))
	for n := range images {
		names = append(names, n)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	var hdr [8]byte
	for _, name := range names {
		if len(name) > math.MaxUint16 {
			return nil, fmt.Errorf("name too long: %d bytes", len(name))
		}
		data := images[name]

		binary.BigEndian.PutUint16(hdr[:2], uint16(len(name)))
		buf.Write(hdr[:2])
		buf.WriteString(name)

		binary.BigEndian.PutUint64(hdr[:], uint64(len(data)))
		buf.Write(hdr[:])
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

func UnpackLayer(data []byte) (map[string][]byte, error) {
	result := make(map[string][]byte)
	r := bufio.NewReader(bytes.NewReader(data))

	for {
		var nameLen uint16
		if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
			if errors.Is(err, io.EOF) {
				return result, nil
			}
			return nil, fmt.Errorf("read name length: %w", err)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("read name: %w", err)
		}

		var length uint64
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("read length of %s: %w", name, err)
		}
		if length > uint64(len(data)) {
			return nil, fmt.Errorf("entry %s: length %d exceeds layer size", name, length)
		}
		blob := make([]byte, length)
		if _, err := io.ReadFull(r, blob); err != nil {
			return nil, fmt.Errorf("read data of %s: %w", name, err)
		}
		result[string(name)] = blob
	}
}

// BuildLayerPlan groups prefixes into layers of roughly LayerTargetSize.
func BuildLayerPlan(prefixSizes map[string]int64) [][]string {
	prefixes := make([]string, 0, len(prefixSizes))
	for p := range prefixSizes {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	var layers [][]string
	var current []string
	var size int64

	for _, prefix := range prefixes {
		prefixSize := prefixSizes[prefix]

		if len(current) == 0 {
			current = append(current, prefix)
			size = prefixSize
			continue
		}

		newSize := size + prefixSize
		switch {
		case size < LayerTargetSize && newSize <= LayerSoftMax:
			current = append(current, prefix)
			size = newSize
		case size < LayerMinSize && newSize <= 2*LayerSoftMax:
			current = append(current, prefix)
			size = newSize
		default:
			layers = append(layers, current)
			current = []string{prefix}
			size = prefixSize
		}
	}

	if len(current) > 0 {
		layers = append(layers, current)
	}

	return layers
}

func CollectPrefixBlobs(prefixes []string, byPrefix map[string]map[string][]byte) map[string][]byte {
	result := make(map[string][]byte)
	for _, prefix := range prefixes {
		for name, data := range byPrefix[prefix] {
			result[name] = data
		}
	}
	return result
}

func CalculatePrefixSizes(byPrefix map[string]map[string][]byte) map[string]int64 {
	result := make(map[string]int64)
	for prefix, images := range byPrefix {
		result[prefix] = PrefixSize(images)
	}
	return result
}
