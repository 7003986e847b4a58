package streaming

import (
	"encoding/json"
	"errors"
)

type MessageType string

const (
	MessageTypeRecordUploaded MessageType = "record-uploaded"
	MessageTypeRecordAnchored MessageType = "record-anchored"
	MessageTypeAnchorFailed   MessageType = "record-anchor-failed"
)

// Message is the event envelope shared by the upload collaborator and the
// anchoring pipeline. RecordID is the correlation key across all types.
type Message struct {
	Type           MessageType `json:"type"`
	RecordID       string      `json:"record_id"`
	TraceID        string      `json:"trace_id,omitempty"`
	PatientID      string      `json:"patient_id,omitempty"`
	PatientAddress string      `json:"patient_address,omitempty"`
	RecordType     string      `json:"record_type,omitempty"`
	Fingerprint    string      `json:"fingerprint,omitempty"`
	TxHash         string      `json:"tx_hash,omitempty"`
	BlockNumber    uint64      `json:"block_number,omitempty"`
	Reason         string      `json:"reason,omitempty"`
}

func Encode(msg Message) ([]byte, error) {
	if msg.Type == "" {
		return nil, errors.New("message type is required")
	}
	if msg.RecordID == "" {
		return nil, errors.New("record_id is required")
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if msg.Type == "" {
		return Message{}, errors.New("message type is missing")
	}
	if msg.RecordID == "" {
		return Message{}, errors.New("record_id is missing")
	}
	return msg, nil
}
