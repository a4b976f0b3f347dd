package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"ChargeFit/internal/fit"
)

// readProfile parses "position,charge" rows. A first row that does not
// parse as numbers is taken as a header.
func readProfile(r io.Reader) (fit.Profile, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var p fit.Profile
	for line := 1; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fit.Profile{}, fmt.Errorf("csv: %w", err)
		}
		x, errX := strconv.ParseFloat(strings.TrimSpace(row[0]), 64)
		q, errQ := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if errX != nil || errQ != nil {
			if line == 1 {
				continue
			}
			return fit.Profile{}, fmt.Errorf("csv line %d: not a number pair: %q", line, row)
		}
		p.Positions = append(p.Positions, x)
		p.Charges = append(p.Charges, q)
	}
	return p, nil
}
