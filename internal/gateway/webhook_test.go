package gateway

import (
	"encoding/json"
	"testing"
)

func TestValidSignature(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"r1"}}`)
	sig := Sign("sk_test", body)

	if !ValidSignature("sk_test", body, sig) {
		t.Fatalf("own signature rejected")
	}
	if ValidSignature("sk_other", body, sig) {
		t.Fatalf("signature accepted under another key")
	}
	if ValidSignature("sk_test", append(body, ' '), sig) {
		t.Fatalf("signature accepted for altered body")
	}
	if ValidSignature("sk_test", body, "not-hex") || ValidSignature("sk_test", body, "") {
		t.Fatalf("malformed signature accepted")
	}
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"event":"transfer.failed","data":{"reference":"payout-9","status":"failed"}}`))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	ref, err := ev.Reference()
	if ev.Event != EventTransferFailed || err != nil || ref != "payout-9" {
		t.Fatalf("event = %+v, ref = %q, err = %v", ev, ref, err)
	}
	if _, err := ParseEvent([]byte(`{"data":{}}`)); err == nil {
		t.Fatalf("event without name accepted")
	}
	ev, _ = ParseEvent([]byte(`{"event":"charge.success","data":{}}`))
	if _, err := ev.Reference(); err == nil {
		t.Fatalf("event without reference accepted")
	}
}

func TestMetadataDecoding(t *testing.T) {
	tests := []struct {
		in   string
		want Metadata
	}{
		{`{"campaign_id":"c-1","wallet_id":"w-1"}`, Metadata{CampaignID: "c-1", WalletID: "w-1"}},
		{`""`, Metadata{}},
		{`null`, Metadata{}},
		{`"{\"user_id\":\"u-1\"}"`, Metadata{UserID: "u-1"}},
		{`{"campaign_id":42}`, Metadata{CampaignID: "42"}},
	}
	for _, tt := range tests {
		var m Metadata
		if err := json.Unmarshal([]byte(tt.in), &m); err != nil {
			t.Fatalf("Unmarshal(%s): %v", tt.in, err)
		}
		if m != tt.want {
			t.Errorf("Unmarshal(%s) = %+v, want %+v", tt.in, m, tt.want)
		}
	}
}
