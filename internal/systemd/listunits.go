package systemd

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/valyala/fastjson"
)

// ListedUnit is one row of `systemctl list-units`.
type ListedUnit struct {
	Unit        string `json:"unit"`
	Load        string `json:"load"`
	Active      string `json:"active"`
	Sub         string `json:"sub"`
	Description string `json:"description"`
}

// Failed reports whether the unit is in the failed state.
func (u ListedUnit) Failed() bool {
	return u.Active == "failed"
}

var parserPool fastjson.ParserPool

// ParseListUnits parses `systemctl list-units --all -o json`. Older systemd
// ignores -o json and prints a table, which is parsed instead.
func ParseListUnits(data []byte) ([]ListedUnit, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] != '[' {
		return parseLegacyListUnits(string(trimmed)), nil
	}

	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse list-units: %w", err)
	}
	arr, err := v.Array()
	if err != nil {
		return nil, fmt.Errorf("parse list-units: %w", err)
	}

	units := make([]ListedUnit, 0, len(arr))
	for _, item := range arr {
		u := ListedUnit{
			Unit:        string(item.GetStringBytes("unit")),
			Load:        string(item.GetStringBytes("load")),
			Active:      string(item.GetStringBytes("active")),
			Sub:         string(item.GetStringBytes("sub")),
			Description: string(item.GetStringBytes("description")),
		}
		if u.Unit == "" {
			continue
		}
		units = append(units, u)
	}
	return units, nil
}

// parseLegacyListUnits reads the table form up to the blank line that
// precedes the legend. Failed units are prefixed with a bullet.
func parseLegacyListUnits(text string) []ListedUnit {
	var units []ListedUnit
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		parts := strings.Fields(line)
		if len(parts) > 0 && (parts[0] == "●" || parts[0] == "*") {
			parts = parts[1:]
		}
		if len(parts) < 4 || parts[0] == "UNIT" {
			continue
		}
		units = append(units, ListedUnit{
			Unit:        parts[0],
			Load:        parts[1],
			Active:      parts[2],
			Sub:         parts[3],
			Description: strings.Join(parts[4:], " "),
		})
	}
	return units
}

// Names returns the unit names in order.
func Names(units []ListedUnit) []string {
	names := make([]string, len(units))
	for i, u := range units {
		names[i] = u.Unit
	}
	return names
}
