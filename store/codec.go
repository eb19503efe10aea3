package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/goliatone/go-formflow/field"
	"github.com/goliatone/go-formflow/schema"
	"github.com/goliatone/go-formflow/workflow"
)

func encodeValues(values field.ValueMap) (string, error) {
	if values == nil {
		values = field.ValueMap{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode values: %w", err)
	}
	return string(data), nil
}

func decodeValues(raw string) (field.ValueMap, error) {
	values := field.ValueMap{}
	if raw == "" {
		return values, nil
	}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decode values: %w", err)
	}
	return values, nil
}

func encodeForm(form schema.Form) (string, error) {
	data, err := json.Marshal(form)
	if err != nil {
		return "", fmt.Errorf("encode form %s: %w", form.ID, err)
	}
	return string(data), nil
}

func decodeForm(raw string) (schema.Form, error) {
	var form schema.Form
	if err := json.Unmarshal([]byte(raw), &form); err != nil {
		return schema.Form{}, fmt.Errorf("decode form: %w", err)
	}
	return form, nil
}

func encodeWorkflow(def workflow.Definition) (string, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("encode workflow %s: %w", def.ID, err)
	}
	return string(data), nil
}

func decodeWorkflow(raw string) (workflow.Definition, error) {
	var def workflow.Definition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return workflow.Definition{}, fmt.Errorf("decode workflow: %w", err)
	}
	return def, nil
}

// Fixed-width timestamps keep lexical and chronological order identical.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
