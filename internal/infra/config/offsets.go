package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"event_reminder_bot/internal/domain/reminder"
)

// offsetsFile is the YAML shape of a reminder offsets file:
//
//	offsets:
//	  - before: 24h
//	    kind: T-24h
//	    template: Event starts in 1 day
type offsetsFile struct {
	Offsets []struct {
		Before   string `yaml:"before"`
		Kind     string `yaml:"kind"`
		Template string `yaml:"template"`
		// grace optionally narrows the misfire window for this kind;
		// omitted or zero defers to MISFIRE_GRACE.
		Grace string `yaml:"grace"`
	} `yaml:"offsets"`
}

// loadOffsets resolves the reminder offset list. Precedence: YAML file, then
// the compact env form, then the built-in defaults.
func loadOffsets(envSpec, filePath string) ([]reminder.Offset, error) {
	if filePath != "" {
		return parseOffsetsFile(filePath)
	}
	if envSpec != "" {
		return ParseOffsetsSpec(envSpec)
	}
	return reminder.DefaultOffsets(), nil
}

func parseOffsetsFile(path string) ([]reminder.Offset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read REMINDER_OFFSETS_FILE: %w", err)
	}
	var f offsetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse REMINDER_OFFSETS_FILE: %w", err)
	}
	offsets := make([]reminder.Offset, 0, len(f.Offsets))
	for i, o := range f.Offsets {
		before, err := time.ParseDuration(o.Before)
		if err != nil {
			return nil, fmt.Errorf("offsets file entry %d: invalid before %q: %w", i, o.Before, err)
		}
		var grace time.Duration
		if o.Grace != "" {
			if grace, err = time.ParseDuration(o.Grace); err != nil {
				return nil, fmt.Errorf("offsets file entry %d: invalid grace %q: %w", i, o.Grace, err)
			}
		}
		offsets = append(offsets, reminder.Offset{
			Before:   before,
			Kind:     reminder.Kind(o.Kind),
			Template: o.Template,
			Grace:    grace,
		})
	}
	return offsets, nil
}

// ParseOffsetsSpec parses the compact env form:
// "24h:T-24h:Event starts in 1 day|6h:T-6h:Event starts in 6 hours".
// Segments are separated by '|', fields by ':' (templates may contain
// further colons).
func ParseOffsetsSpec(spec string) ([]reminder.Offset, error) {
	segments := strings.Split(spec, "|")
	offsets := make([]reminder.Offset, 0, len(segments))
	for i, seg := range segments {
		parts := strings.SplitN(strings.TrimSpace(seg), ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("REMINDER_OFFSETS segment %d: want duration:kind:template, got %q", i, seg)
		}
		before, err := time.ParseDuration(parts[0])
		if err != nil {
			return nil, fmt.Errorf("REMINDER_OFFSETS segment %d: invalid duration %q: %w", i, parts[0], err)
		}
		offsets = append(offsets, reminder.Offset{
			Before:   before,
			Kind:     reminder.Kind(parts[1]),
			Template: parts[2],
		})
	}
	return offsets, nil
}
