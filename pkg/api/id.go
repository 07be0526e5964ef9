package api

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ID is a server-assigned identifier. The API is inconsistent about encoding
// these: some endpoints send strings, others raw numbers. Both decode to the
// canonical string form.
type ID string

func (id ID) String() string { return string(id) }

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		// Normalize "5.0" style strings coming from numeric columns.
		if f, err := strconv.ParseFloat(s, 64); err == nil && strings.Contains(s, ".") {
			*id = ID(strconv.FormatInt(int64(f), 10))
			return nil
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return err
	}
	*id = ID(strconv.FormatInt(int64(f), 10))
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(id))
}
