package monitor

import (
	"encoding/json"
	"strconv"

	"github.com/signalforge/fusion/internal/model"
)

// encodeRawEvent flattens a RawEvent into the string-keyed field map the
// EventLog's Append expects (Redis Streams fields are string/string).
// Symbols is JSON-encoded since streams have no native array type.
func encodeRawEvent(e model.RawEvent) map[string]string {
	symbolsJSON, _ := json.Marshal(e.Symbols)
	return map[string]string{
		"event_id":         e.EventID,
		"source_type":      string(e.SourceType),
		"source":           e.Source,
		"exchange":         e.Exchange,
		"symbol":           e.Symbol,
		"symbols":          string(symbolsJSON),
		"raw_text":         e.RawText,
		"url":              e.URL,
		"contract_address": e.ContractAddress,
		"chain":            e.Chain,
		"detected_at":      strconv.FormatInt(e.DetectedAt, 10),
	}
}

// DecodeRawEvent is the inverse of encodeRawEvent, used by the Aggregator
// stage when reading entries back off the raw stream.
func DecodeRawEvent(fields map[string]string) model.RawEvent {
	var symbols []string
	_ = json.Unmarshal([]byte(fields["symbols"]), &symbols)

	detectedAt, _ := strconv.ParseInt(fields["detected_at"], 10, 64)

	return model.RawEvent{
		EventID:         fields["event_id"],
		SourceType:      model.SourceType(fields["source_type"]),
		Source:          fields["source"],
		Exchange:        fields["exchange"],
		Symbol:          fields["symbol"],
		Symbols:         symbols,
		RawText:         fields["raw_text"],
		URL:             fields["url"],
		ContractAddress: fields["contract_address"],
		Chain:           fields["chain"],
		DetectedAt:      detectedAt,
	}
}
