// Package models defines the wire types shared by the analysis engine,
// the HTTP layer and the trainer. Player statistics are generic over the
// payload type so any game can supply its own stat shape; the engine only
// ever consumes the fixed-length feature vector derived from it.
package models

import (
	"encoding/json"
	"fmt"
)

// Document is a schemaless key-value view of a player payload. Custom stat
// types convert to and from it when they cross the JSON boundary.
type Document map[string]json.RawMessage

// ToDocument converts any JSON-marshalable value into a Document.
func ToDocument(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("to document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("to document: %w", err)
	}
	// A payload marshaling to JSON null yields a nil map; callers write
	// their own keys into the result, so it must always be allocated.
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// FromDocument decodes a Document into the given value.
func FromDocument(doc Document, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("from document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("from document: %w", err)
	}
	return nil
}

// PlayerStats pairs a player identity with one round of raw statistics.
// On the wire it is a single flat document: player_id plus the payload's
// own fields at the top level.
type PlayerStats[T any] struct {
	PlayerID string
	Data     T
}

func (p *PlayerStats[T]) UnmarshalJSON(data []byte) error {
	var head struct {
		PlayerID json.RawMessage `json:"player_id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	id, err := decodeID(head.PlayerID)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &p.Data); err != nil {
		return err
	}
	p.PlayerID = id
	return nil
}

func (p PlayerStats[T]) MarshalJSON() ([]byte, error) {
	doc, err := ToDocument(p.Data)
	if err != nil {
		return nil, err
	}
	idRaw, err := json.Marshal(p.PlayerID)
	if err != nil {
		return nil, err
	}
	doc["player_id"] = idRaw
	return json.Marshal(doc)
}

// decodeID accepts both `"player123"` and bare numeric ids, which some game
// scripts emit unquoted.
func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("player_id: invalid value %s", raw)
}

// BatchEntry is one slot of a decoded analysis batch. DecodeErr is non-nil
// when the raw document could not be decoded; the entry still occupies its
// input position so batch results stay aligned with the request.
type BatchEntry[T any] struct {
	Stats     PlayerStats[T]
	DecodeErr error
}

// DecodeStatsBatch decodes a JSON array of player documents. A malformed
// entry does not fail the batch: it is kept in position with whatever
// player_id could be recovered and its DecodeErr set. The returned error is
// non-nil only when the top-level array itself is unparseable.
func DecodeStatsBatch[T any](data []byte) ([]BatchEntry[T], error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}

	entries := make([]BatchEntry[T], len(raw))
	for i, doc := range raw {
		if err := json.Unmarshal(doc, &entries[i].Stats); err != nil {
			entries[i].DecodeErr = err
			// Best effort: recover the id even when the payload is broken.
			var head struct {
				PlayerID json.RawMessage `json:"player_id"`
			}
			if json.Unmarshal(doc, &head) == nil {
				if id, idErr := decodeID(head.PlayerID); idErr == nil {
					entries[i].Stats.PlayerID = id
				}
			}
		}
	}
	return entries, nil
}

// PlayerResult pairs a player identity with one analysis verdict. Like
// PlayerStats it marshals flat: player_id plus the result's fields.
type PlayerResult[R any] struct {
	PlayerID string
	Result   R
}

func (p PlayerResult[R]) MarshalJSON() ([]byte, error) {
	doc, err := ToDocument(p.Result)
	if err != nil {
		return nil, err
	}
	idRaw, err := json.Marshal(p.PlayerID)
	if err != nil {
		return nil, err
	}
	doc["player_id"] = idRaw
	return json.Marshal(doc)
}

func (p *PlayerResult[R]) UnmarshalJSON(data []byte) error {
	var head struct {
		PlayerID json.RawMessage `json:"player_id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	id, err := decodeID(head.PlayerID)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &p.Result); err != nil {
		return err
	}
	p.PlayerID = id
	return nil
}

// AnalysisResponse carries one result per analyzed player, in request order.
type AnalysisResponse[R any] struct {
	Results []PlayerResult[R] `json:"results"`
}

// DefaultAnalysisResult is the built-in verdict shape: a suspicion score in
// [0,1] from the classifier plus named behavioral flags from the rule set.
type DefaultAnalysisResult struct {
	SuspicionScore float64  `json:"suspicion_score"`
	Flags          []string `json:"flags"`
}
