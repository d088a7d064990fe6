package etl

import (
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "github.com/spec-kit/ticket-pipeline/pkg/util"
)

func TestCastRecordFullRow(t *testing.T) {
	row, err := CastRecord([]byte(record("TKT-1", "hello")))
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	if row.TicketID != "TKT-1" || !row.SubmittedAt.Equal(time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected keys %q %v", row.TicketID, row.SubmittedAt)
	}
	if row.ProcessedAt == nil || row.ProcessedAt.Nanosecond() != 123456000 {
		t.Fatalf("processed_at = %v", row.ProcessedAt)
	}
	if row.SentimentScoreNegative == nil || *row.SentimentScoreNegative != 0.8 {
		t.Fatalf("negative score = %v", row.SentimentScoreNegative)
	}
	if row.Subject == nil || *row.Subject != "hello" {
		t.Fatalf("subject = %v", row.Subject)
	}
}

func TestCastRecordCoercions(t *testing.T) {
	row, err := CastRecord([]byte(`{
		"ticket_id": 12345,
		"submitted_at": "2024-05-01T09:30:00+02:00",
		"sentiment_score_mixed": "0.25",
		"sentiment_score_neutral": "",
		"product": true,
		"subject": null
	}`))
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	if row.TicketID != "12345" {
		t.Fatalf("ticket_id = %q", row.TicketID)
	}
	if !row.SubmittedAt.Equal(time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC)) || row.SubmittedAt.Location() != time.UTC {
		t.Fatalf("submitted_at = %v", row.SubmittedAt)
	}
	if row.SentimentScoreMixed == nil || *row.SentimentScoreMixed != 0.25 {
		t.Fatalf("mixed = %v", row.SentimentScoreMixed)
	}
	if row.SentimentScoreNeutral != nil || row.Subject != nil || row.ProcessedAt != nil {
		t.Fatalf("expected NULLs, got neutral=%v subject=%v processed=%v", row.SentimentScoreNeutral, row.Subject, row.ProcessedAt)
	}
	if row.Product == nil || *row.Product != "true" {
		t.Fatalf("product = %v", row.Product)
	}
}

func TestCastRecordRejections(t *testing.T) {
	cases := map[string]struct {
		body   string
		column string
	}{
		"missing ticket_id":   {`{"submitted_at":"2024-05-01T00:00:00"}`, "ticket_id"},
		"blank ticket_id":     {`{"ticket_id":"  ","submitted_at":"2024-05-01T00:00:00"}`, "ticket_id"},
		"null submitted_at":   {`{"ticket_id":"T","submitted_at":null}`, "submitted_at"},
		"bad timestamp":       {`{"ticket_id":"T","submitted_at":"01/05/2024"}`, "submitted_at"},
		"numeric timestamp":   {`{"ticket_id":"T","submitted_at":1714550400}`, "submitted_at"},
		"score not a number":  {`{"ticket_id":"T","submitted_at":"2024-05-01T00:00:00","sentiment_score_mixed":"high"}`, "sentiment_score_mixed"},
		"score NaN":           {`{"ticket_id":"T","submitted_at":"2024-05-01T00:00:00","sentiment_score_mixed":"NaN"}`, "sentiment_score_mixed"},
		"object in string":    {`{"ticket_id":"T","submitted_at":"2024-05-01T00:00:00","subject":{"a":1}}`, "subject"},
		"oversized priority":  {`{"ticket_id":"T","submitted_at":"2024-05-01T00:00:00","priority":"` + strings.Repeat("H", 17) + `"}`, "priority"},
		"oversized ticket_id": {`{"ticket_id":"` + strings.Repeat("x", 65) + `","submitted_at":"2024-05-01T00:00:00"}`, "ticket_id"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := CastRecord([]byte(tc.body))
			if !apperrors.IsPermanent(err) {
				t.Fatalf("expected permanent error, got %v", err)
			}
			var schemaErr *SchemaError
			if !errors.As(err, &schemaErr) {
				t.Fatalf("expected SchemaError, got %v", err)
			}
			found := false
			for _, f := range schemaErr.Fields {
				if f.Column == tc.column {
					found = true
				}
			}
			if !found {
				t.Fatalf("column %s not reported in %v", tc.column, schemaErr)
			}
		})
	}
}

func TestCastRecordRejectsNonObjects(t *testing.T) {
	for _, body := range []string{`[]`, `null`, `"x"`, ``} {
		if _, err := CastRecord([]byte(body)); !apperrors.IsPermanent(err) {
			t.Fatalf("body %q: expected permanent error, got %v", body, err)
		}
	}
}
