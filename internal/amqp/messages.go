package amqp

import (
	"encoding/json"
	"time"
)

// TransactionCreatedMessage announces one materialized transaction. It stays
// lightweight on purpose: consumers fetch the full record from the database
// by id, so a stale message body can never overwrite fresher data.
type TransactionCreatedMessage struct {
	TransactionID int64     `json:"transactionId"`
	RuleID        int64     `json:"ruleId"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewTransactionCreatedMessage(transactionID, ruleID int64) *TransactionCreatedMessage {
	return &TransactionCreatedMessage{
		TransactionID: transactionID,
		RuleID:        ruleID,
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *TransactionCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON creates a message from JSON bytes
func TransactionCreatedMessageFromJSON(data []byte) (*TransactionCreatedMessage, error) {
	var msg TransactionCreatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
