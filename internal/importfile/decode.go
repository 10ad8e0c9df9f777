// Package importfile decodes price import documents into contracts.ImportEntry values.
//
// Two formats are accepted: the public data portal page (response.body.items.item[])
// and the bundle format ({"stocks":[...]}). Field-level parse failures yield absent
// values; only structural problems fail the whole document.
package importfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
)

// Format identifies the document layout
type Format string

const (
	FormatPortal Format = "portal"
	FormatBundle Format = "bundle"
)

// MaxFileSize caps a single import document
const MaxFileSize = 64 << 20

// Decode reads a whole document and converts it to entries.
// Structural problems return *contracts.ImportError naming the file.
func Decode(name string, r io.Reader) ([]contracts.ImportEntry, Format, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, "", &contracts.ImportError{File: name, Cause: err}
	}
	return DecodeBytes(name, data)
}

// DecodeBytes is Decode on an in-memory document
func DecodeBytes(name string, data []byte) ([]contracts.ImportEntry, Format, error) {
	if len(data) > MaxFileSize {
		return nil, "", &contracts.ImportError{File: name, Cause: fmt.Errorf("file exceeds %d bytes", MaxFileSize)}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, "", &contracts.ImportError{File: name, Cause: fmt.Errorf("malformed JSON: %w", err)}
	}

	switch {
	case top["response"] != nil:
		var resp PortalResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, "", &contracts.ImportError{File: name, Cause: err}
		}
		if err := resp.Validate(); err != nil {
			return nil, "", &contracts.ImportError{File: name, Cause: err}
		}
		return resp.Entries(), FormatPortal, nil

	case hasKey(top, "stocks"):
		var b Bundle
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&b); err != nil {
			return nil, "", &contracts.ImportError{File: name, Cause: err}
		}
		if err := b.Validate(); err != nil {
			return nil, "", &contracts.ImportError{File: name, Cause: err}
		}
		return b.Entries(), FormatBundle, nil
	}

	return nil, "", &contracts.ImportError{File: name, Cause: fmt.Errorf("unrecognized document: expected response.body.items.item or stocks")}
}

func hasKey(m map[string]json.RawMessage, key string) bool {
	_, ok := m[key]
	return ok
}

func parseDate(s, layout string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

func parseDecimal(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func parseInt(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
