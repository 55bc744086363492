package forecaststore

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
)

// Payload header byte naming the compression applied to the JSON body.
const (
	codecNone   byte = 0
	codecSnappy byte = 1
)

func encode(entry Entry, compress bool) ([]byte, error) {
	body, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode forecast entry: %w", err)
	}
	if !compress {
		return append([]byte{codecNone}, body...), nil
	}
	out := make([]byte, 1, 1+snappy.MaxEncodedLen(len(body)))
	out[0] = codecSnappy
	return append(out, snappy.Encode(nil, body)...), nil
}

func decode(data []byte) (*Entry, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode forecast entry: empty payload")
	}

	body := data[1:]
	switch data[0] {
	case codecNone:
	case codecSnappy:
		var err error
		body, err = snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("snappy decompress failed: %w", err)
		}
	default:
		return nil, fmt.Errorf("decode forecast entry: unknown codec %d", data[0])
	}

	var entry Entry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, fmt.Errorf("decode forecast entry: %w", err)
	}
	return &entry, nil
}
