package protocol

import "testing"

func TestCodecEncodeDecodeHREQRoundtrips(t *testing.T) {
	c := NewCodec(8, 6, 4)
	f := &Frame{State: StateHREQ, ReqID: "req-1", AttemptNo: 3, CoSID: 7, HasCoSID: true}

	buf, err := c.Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.State != f.State || got.ReqID != f.ReqID || got.AttemptNo != f.AttemptNo {
		t.Fatalf("decoded frame = %+v, want state/reqid/attempt matching %+v", got, f)
	}
	if !got.HasCoSID || got.CoSID != f.CoSID {
		t.Fatalf("decoded cos_id = %v (%v), want %v", got.CoSID, got.HasCoSID, f.CoSID)
	}
}

func TestCodecEncodeDecodeRREQRoundtripsSrcMACAndIP(t *testing.T) {
	c := NewCodec(8, 6, 4)
	f := &Frame{State: StateRREQ, ReqID: "req-2", AttemptNo: 1, SrcMAC: "aa:bb:cc:dd:ee:ff", SrcIP: "10.0.0.5"}

	buf, err := c.Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.SrcMAC != f.SrcMAC || got.SrcIP != f.SrcIP {
		t.Fatalf("decoded src mac/ip = %s/%s, want %s/%s", got.SrcMAC, got.SrcIP, f.SrcMAC, f.SrcIP)
	}
}

func TestCodecEncodeRejectsOversizedReqID(t *testing.T) {
	c := NewCodec(4, 6, 4)
	_, err := c.Encode(&Frame{State: StateHREQ, ReqID: "toolong"})
	if err == nil {
		t.Fatalf("expected error for a req_id exceeding the fixed width")
	}
}

func TestDecodeRejectsTruncatedBuffer(t *testing.T) {
	c := NewCodec(8, 6, 4)
	if _, err := c.Decode([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error decoding a too-short buffer")
	}
}

func TestAnswersCorrelatesKnownStatePairs(t *testing.T) {
	sent := &Frame{State: StateRREQ, ReqID: "r1"}
	if !Answers(sent, &Frame{State: StateRRES, ReqID: "r1"}) {
		t.Fatalf("expected RRES to answer RREQ")
	}
	if !Answers(sent, &Frame{State: StateRCAN, ReqID: "r1"}) {
		t.Fatalf("expected RCAN to answer RREQ")
	}
	if Answers(sent, &Frame{State: StateRRES, ReqID: "other"}) {
		t.Fatalf("expected mismatched req_id to not answer")
	}
	if Answers(sent, &Frame{State: StateHRES, ReqID: "r1"}) {
		t.Fatalf("expected HRES to not answer RREQ")
	}
}

func TestValidRejectsWrongDestinationAndDecoySource(t *testing.T) {
	const decoyMAC, decoyIP, defaultAddr = "de:ad:be:ef:00:01", "10.0.0.1", "10.0.0.0"

	f := &Frame{ReqID: "r1"}
	if !Valid(f, decoyMAC, decoyIP, "aa:aa:aa:aa:aa:aa", "10.0.0.9", decoyMAC, decoyIP, defaultAddr) {
		t.Fatalf("expected a well-formed frame addressed to the decoy to be valid")
	}
	if Valid(&Frame{}, decoyMAC, decoyIP, "", "", decoyMAC, decoyIP, defaultAddr) {
		t.Fatalf("expected an empty req_id to be rejected")
	}
	if Valid(f, "wrong-mac", "wrong-ip", "aa:aa:aa:aa:aa:aa", "10.0.0.9", decoyMAC, decoyIP, defaultAddr) {
		t.Fatalf("expected a frame not addressed to the decoy to be rejected")
	}
	if Valid(f, decoyMAC, "wrong-ip", "aa:aa:aa:aa:aa:aa", "10.0.0.9", decoyMAC, decoyIP, defaultAddr) {
		t.Fatalf("expected a frame matching only the decoy MAC (not the decoy IP) to be rejected")
	}
	if Valid(f, decoyMAC, decoyIP, decoyMAC, "10.0.0.9", decoyMAC, decoyIP, defaultAddr) {
		t.Fatalf("expected a frame originating from the decoy MAC to be rejected")
	}
	if Valid(f, decoyMAC, decoyIP, "aa:aa:aa:aa:aa:aa", defaultAddr, decoyMAC, decoyIP, defaultAddr) {
		t.Fatalf("expected a frame originating from the default address to be rejected")
	}
}
