// Package etl reconciles processed ticket records from the object store into
// the warehouse table.
package etl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spec-kit/ticket-pipeline/internal/domain"
	apperrors "github.com/spec-kit/ticket-pipeline/pkg/util"
)

type columnKind int

const (
	kindString columnKind = iota
	kindFloat
	kindTimestamp
)

type column struct {
	name     string
	kind     columnKind
	required bool
	maxBytes int
}

// warehouseSchema is the fixed 19-column layout of ticket_warehouse.
var warehouseSchema = []column{
	{name: "ticket_id", kind: kindString, required: true, maxBytes: domain.MaxTicketIDBytes},
	{name: "submitted_at", kind: kindTimestamp, required: true},
	{name: "customer_first_name", kind: kindString, maxBytes: 256},
	{name: "customer_last_name", kind: kindString, maxBytes: 256},
	{name: "customer_full_name", kind: kindString, maxBytes: 256},
	{name: "customer_email", kind: kindString, maxBytes: 320},
	{name: "product", kind: kindString, maxBytes: 256},
	{name: "issue_type", kind: kindString, maxBytes: 256},
	{name: "subject", kind: kindString, maxBytes: 1024},
	{name: "description", kind: kindString, maxBytes: 65535},
	{name: "response_text", kind: kindString, maxBytes: 65535},
	{name: "sentiment", kind: kindString, maxBytes: 16},
	{name: "sentiment_score_mixed", kind: kindFloat},
	{name: "sentiment_score_negative", kind: kindFloat},
	{name: "sentiment_score_neutral", kind: kindFloat},
	{name: "sentiment_score_positive", kind: kindFloat},
	{name: "priority", kind: kindString, maxBytes: 16},
	{name: "priority_reasoning", kind: kindString, maxBytes: 4096},
	{name: "processed_at", kind: kindTimestamp},
}

// FieldError describes one column that failed to cast.
type FieldError struct {
	Column string
	Reason string
}

// SchemaError lists every failing column of a record.
type SchemaError struct {
	Fields []FieldError
}

func (e *SchemaError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Column + ": " + f.Reason
	}
	return "schema violation: " + strings.Join(parts, "; ")
}

type castValue struct {
	str   *string
	num   *float64
	stamp *time.Time
}

// CastRecord parses one processed ticket and casts it to the warehouse
// schema. Failures are permanent. The returned row carries the ticket id
// whenever one could be read, even on error.
func CastRecord(data []byte) (domain.WarehouseRow, error) {
	const op = "cast record"
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return domain.WarehouseRow{}, apperrors.NewPermanent(op, fmt.Errorf("invalid json object: %w", err))
	}
	if raw == nil {
		return domain.WarehouseRow{}, apperrors.Permanentf(op, "record is null")
	}

	values := make(map[string]castValue, len(warehouseSchema))
	var fieldErrs []FieldError
	for _, col := range warehouseSchema {
		v, err := castColumn(col, raw[col.name])
		if err != nil {
			fieldErrs = append(fieldErrs, FieldError{Column: col.name, Reason: err.Error()})
			continue
		}
		values[col.name] = v
	}

	row := buildRow(values)
	if len(fieldErrs) > 0 {
		return row, apperrors.NewPermanent(op, &SchemaError{Fields: fieldErrs})
	}
	return row, nil
}

func castColumn(col column, value any) (castValue, error) {
	if value == nil {
		if col.required {
			return castValue{}, fmt.Errorf("required")
		}
		return castValue{}, nil
	}
	switch col.kind {
	case kindString:
		s, err := castString(value)
		if err != nil {
			return castValue{}, err
		}
		if col.required && strings.TrimSpace(s) == "" {
			return castValue{}, fmt.Errorf("required")
		}
		if col.maxBytes > 0 && len(s) > col.maxBytes {
			return castValue{}, fmt.Errorf("%d bytes exceeds limit of %d", len(s), col.maxBytes)
		}
		return castValue{str: &s}, nil
	case kindFloat:
		f, ok, err := castFloat(value)
		if err != nil || !ok {
			return castValue{}, err
		}
		return castValue{num: &f}, nil
	case kindTimestamp:
		s, ok := value.(string)
		if !ok {
			return castValue{}, fmt.Errorf("expected timestamp string, got %T", value)
		}
		if strings.TrimSpace(s) == "" {
			if col.required {
				return castValue{}, fmt.Errorf("required")
			}
			return castValue{}, nil
		}
		t, err := domain.ParseTimestamp(s)
		if err != nil {
			return castValue{}, err
		}
		return castValue{stamp: &t}, nil
	default:
		return castValue{}, fmt.Errorf("unknown column kind")
	}
}

func castString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("expected string, got %T", value)
	}
}

// castFloat accepts JSON numbers and numeric strings. An empty string is NULL.
func castFloat(value any) (float64, bool, error) {
	var text string
	switch v := value.(type) {
	case json.Number:
		text = v.String()
	case string:
		text = strings.TrimSpace(v)
		if text == "" {
			return 0, false, nil
		}
	default:
		return 0, false, fmt.Errorf("expected number, got %T", value)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false, fmt.Errorf("not a number: %q", text)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, fmt.Errorf("not a finite number: %q", text)
	}
	return f, true, nil
}

func buildRow(values map[string]castValue) domain.WarehouseRow {
	row := domain.WarehouseRow{
		CustomerFirstName:      values["customer_first_name"].str,
		CustomerLastName:       values["customer_last_name"].str,
		CustomerFullName:       values["customer_full_name"].str,
		CustomerEmail:          values["customer_email"].str,
		Product:                values["product"].str,
		IssueType:              values["issue_type"].str,
		Subject:                values["subject"].str,
		Description:            values["description"].str,
		ResponseText:           values["response_text"].str,
		Sentiment:              values["sentiment"].str,
		SentimentScoreMixed:    values["sentiment_score_mixed"].num,
		SentimentScoreNegative: values["sentiment_score_negative"].num,
		SentimentScoreNeutral:  values["sentiment_score_neutral"].num,
		SentimentScorePositive: values["sentiment_score_positive"].num,
		Priority:               values["priority"].str,
		PriorityReasoning:      values["priority_reasoning"].str,
		ProcessedAt:            values["processed_at"].stamp,
	}
	if id := values["ticket_id"].str; id != nil {
		row.TicketID = *id
	}
	if ts := values["submitted_at"].stamp; ts != nil {
		row.SubmittedAt = *ts
	}
	return row
}
