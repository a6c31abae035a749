package remote

import (
	"strings"
	"testing"

	"github.com/caioluis/courier/internal/store"
)

func validRecord() Record {
	return Record{
		MsgID:        "m1",
		SenderID:     "u1",
		RecipientID:  "u2",
		Participants: []string{"u1", "u2"},
		ConvKey:      "u1:u2",
		Body:         "hello",
		Kind:         store.KindText,
		Timestamp:    1000,
	}
}

func TestRecordValidate(t *testing.T) {
	if err := validRecord().Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	tests := []struct {
		desc    string
		mutate  func(*Record)
		wantSub string
	}{
		{"missing id", func(r *Record) { r.MsgID = "" }, "message id"},
		{"one participant", func(r *Record) { r.Participants = []string{"u1"} }, "participant set"},
		{"three participants", func(r *Record) { r.Participants = []string{"u1", "u2", "u3"} }, "participant set"},
		{"sender outside set", func(r *Record) { r.SenderID = "u9" }, "sender"},
		{"recipient outside set", func(r *Record) { r.RecipientID = "u9" }, "recipient"},
		{"wrong conv key", func(r *Record) { r.ConvKey = "u1:u9" }, "conversation key"},
		{"unknown kind", func(r *Record) { r.Kind = "sticker" }, "kind"},
		{"missing timestamp", func(r *Record) { r.Timestamp = 0 }, "timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			r := validRecord()
			tt.mutate(&r)
			err := r.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestToStoreMessageIsConfirmed(t *testing.T) {
	m := validRecord().ToStoreMessage()
	if m.Delivery != store.DeliveryConfirmed {
		t.Errorf("delivery = %q, want confirmed", m.Delivery)
	}
	if m.ConvKey != "u1:u2" || m.MsgID != "m1" {
		t.Errorf("identity fields lost: %+v", m)
	}
}

func TestFromStoreMessageSortsParticipants(t *testing.T) {
	rec := FromStoreMessage(&store.Message{
		ConvKey: "u1:u2", MsgID: "m1", SenderID: "u2", RecipientID: "u1",
		Kind: store.KindText, Timestamp: 1000,
	})
	if rec.Participants[0] != "u1" || rec.Participants[1] != "u2" {
		t.Errorf("participants = %v, want sorted [u1 u2]", rec.Participants)
	}
	if err := rec.Validate(); err != nil {
		t.Errorf("round-tripped record invalid: %v", err)
	}
}
