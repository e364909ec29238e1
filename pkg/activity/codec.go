package activity

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// MarshalArray serializes activities as a single JSON array, in order.
func MarshalArray(activities []*Activity) ([]byte, error) {
	if activities == nil {
		activities = []*Activity{}
	}
	b, err := json.Marshal(activities)
	if err != nil {
		return nil, errors.Wrap(err, "activity: marshal array")
	}
	return b, nil
}

// UnmarshalArray parses a JSON array of activities. null entries are dropped.
// Empty input decodes to an empty slice.
func UnmarshalArray(data []byte) ([]*Activity, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []*Activity{}, nil
	}
	var raw []*Activity
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "activity: unmarshal array")
	}
	out := make([]*Activity, 0, len(raw))
	for _, a := range raw {
		if a != nil {
			out = append(out, a)
		}
	}
	return out, nil
}

// Decode reads activities from r. It accepts a JSON array, a single object,
// or a stream of objects (one per line or simply concatenated).
func Decode(r io.Reader) ([]*Activity, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return []*Activity{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "activity: read input")
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var raw []*Activity
		if err := dec.Decode(&raw); err != nil {
			return nil, errors.Wrap(err, "activity: decode array")
		}
		out := make([]*Activity, 0, len(raw))
		for _, a := range raw {
			if a != nil {
				out = append(out, a)
			}
		}
		return out, nil
	}

	out := []*Activity{}
	for {
		var a Activity
		err := dec.Decode(&a)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "activity: decode object %d", len(out)+1)
		}
		out = append(out, &a)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
