package persist

import (
	"encoding/json"
	"fmt"

	"pos-offline-core/internal/store"
)

type MessageType string

const (
	TypePersist MessageType = "persist"
	TypeBulkPut MessageType = "bulk_put"
	TypeDelete  MessageType = "delete"
	TypeClear   MessageType = "clear"
)

// Message is the envelope that crosses the persistence channel. Everything it
// carries is already serialized, so sender and receiver never share memory.
type Message struct {
	Type    MessageType       `json:"type"`
	Table   store.Table       `json:"table"`
	Key     string            `json:"key,omitempty"`
	Value   json.RawMessage   `json:"value,omitempty"`
	Records []store.RawRecord `json:"records,omitempty"`
}

func PersistMessage(table store.Table, key string, value json.RawMessage) Message {
	return Message{Type: TypePersist, Table: table, Key: key, Value: value}
}

// BulkPutMessage snapshots recs into a bulk_put message.
func BulkPutMessage(table store.Table, recs []store.Record) (Message, error) {
	raws := make([]store.RawRecord, 0, len(recs))
	for _, rec := range recs {
		raw, err := store.Raw(rec)
		if err != nil {
			serializationErrorsTotal.Inc()
			return Message{}, &SerializationError{Key: rec.PrimaryKey(), Err: err}
		}
		raws = append(raws, raw)
	}
	return Message{Type: TypeBulkPut, Table: table, Records: raws}, nil
}

func DeleteMessage(table store.Table, key string) Message {
	return Message{Type: TypeDelete, Table: table, Key: key}
}

func ClearMessage(table store.Table) Message {
	return Message{Type: TypeClear, Table: table}
}

func (m Message) Validate() error {
	if !m.Table.Valid() {
		return fmt.Errorf("message %s: %w: %q", m.Type, store.ErrUnknownTable, m.Table)
	}
	switch m.Type {
	case TypePersist, TypeDelete:
		if m.Key == "" {
			return fmt.Errorf("message %s: empty key", m.Type)
		}
	case TypeBulkPut, TypeClear:
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}
