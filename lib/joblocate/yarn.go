// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package joblocate

import (
	"fmt"
	"strings"
)

// Application is one row of "yarn application -list".
type Application struct {
	ID    string
	Name  string
	Type  string
	User  string
	Queue string
	State string
}

// ParseApplications reads the tab-separated table printed by
// "yarn application -list". Columns are located by the header row
// when present; otherwise the standard column order is assumed. Log
// lines the client prints before the table are ignored.
func ParseApplications(output string) ([]Application, error) {
	columns := map[string]int{
		"Application-Id":   0,
		"Application-Name": 1,
		"Application-Type": 2,
		"User":             3,
		"Queue":            4,
		"State":            5,
	}

	var applications []Application
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Application-Id") {
			header := splitRow(trimmed)
			for index, name := range header {
				columns[name] = index
			}
			continue
		}
		if !strings.HasPrefix(trimmed, "application_") {
			continue
		}

		fields := splitRow(trimmed)
		field := func(name string) string {
			index := columns[name]
			if index < len(fields) {
				return fields[index]
			}
			return ""
		}
		application := Application{
			ID:    field("Application-Id"),
			Name:  field("Application-Name"),
			Type:  field("Application-Type"),
			User:  field("User"),
			Queue: field("Queue"),
			State: field("State"),
		}
		if application.ID == "" {
			return nil, fmt.Errorf("application row without an ID: %q", trimmed)
		}
		applications = append(applications, application)
	}
	return applications, nil
}

// splitRow splits a yarn table row on tabs and trims the padding yarn
// adds around each cell. Rows without tabs fall back to whitespace
// splitting, which loses application names containing spaces.
func splitRow(line string) []string {
	if !strings.Contains(line, "\t") {
		return strings.Fields(line)
	}
	cells := strings.Split(line, "\t")
	for index := range cells {
		cells[index] = strings.TrimSpace(cells[index])
	}
	return cells
}
