package proto

import (
	"math"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

// The helpers below encode the same schema DecodeFeedResponse reads,
// letting these tests exercise the decoder without a protoc toolchain.

func encodeLTPC(ltp float64) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldLTPCLtp, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(ltp))
	return b
}

func encodeLTPCHolder(ltp float64) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldLTPCFeedLTPC, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeLTPC(ltp))
	return b
}

func encodeFullFeed(marketLTP *float64, indexLTP *float64) []byte {
	var b []byte
	if marketLTP != nil {
		b = protowire.AppendTag(b, fieldFullFeedMarketFF, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeLTPCHolder(*marketLTP))
	}
	if indexLTP != nil {
		b = protowire.AppendTag(b, fieldFullFeedIndexFF, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeLTPCHolder(*indexLTP))
	}
	return b
}

func encodeFeed(marketLTP *float64, indexLTP *float64) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldFeedFullFeed, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeFullFeed(marketLTP, indexLTP))
	return b
}

func encodeFeedsEntry(key string, feed []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, key)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, feed)
	return b
}

func encodeFeedResponse(entries map[string][]byte) []byte {
	var b []byte
	for key, feed := range entries {
		b = protowire.AppendTag(b, fieldFeedResponseFeeds, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeFeedsEntry(key, feed))
	}
	return b
}

func f(v float64) *float64 { return &v }

func TestDecodeFeedResponse_MarketLTP(t *testing.T) {
	frame := encodeFeedResponse(map[string][]byte{
		"NSE_EQ|INE002A01018": encodeFeed(f(2583.45), nil),
	})

	out, err := DecodeFeedResponse(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	body, ok := out["NSE_EQ|INE002A01018"]
	if !ok {
		t.Fatalf("missing key in decoded output: %v", out)
	}
	ltp, ok := body.LTP()
	if !ok {
		t.Fatalf("expected LTP present")
	}
	if ltp != 2583.45 {
		t.Fatalf("expected 2583.45, got %v", ltp)
	}
}

func TestDecodeFeedResponse_IndexFallback(t *testing.T) {
	frame := encodeFeedResponse(map[string][]byte{
		"NSE_INDEX|Nifty 50": encodeFeed(nil, f(22345.6)),
	})

	out, err := DecodeFeedResponse(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	body := out["NSE_INDEX|Nifty 50"]
	if body.HasMarketLTP {
		t.Fatalf("expected no market LTP")
	}
	ltp, ok := body.LTP()
	if !ok || ltp != 22345.6 {
		t.Fatalf("expected index LTP 22345.6, got %v ok=%v", ltp, ok)
	}
}

func TestDecodeFeedResponse_MultipleInstruments(t *testing.T) {
	frame := encodeFeedResponse(map[string][]byte{
		"NSE_EQ|A": encodeFeed(f(100), nil),
		"NSE_EQ|B": encodeFeed(f(200), nil),
	})

	out, err := DecodeFeedResponse(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(out))
	}
}

func TestDecodeFeedResponse_MissingLTP(t *testing.T) {
	frame := encodeFeedResponse(map[string][]byte{
		"NSE_EQ|C": encodeFeed(nil, nil),
	})

	out, err := DecodeFeedResponse(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := out["NSE_EQ|C"].LTP(); ok {
		t.Fatalf("expected no LTP extractable")
	}
}

func TestDecodeFeedResponse_EmptyFrame(t *testing.T) {
	out, err := DecodeFeedResponse(nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty map, got %v", out)
	}
}

func TestDecodeFeedResponse_TruncatedFrame(t *testing.T) {
	frame := encodeFeedResponse(map[string][]byte{
		"NSE_EQ|A": encodeFeed(f(100), nil),
	})
	_, err := DecodeFeedResponse(frame[:len(frame)-2])
	if err == nil {
		t.Fatalf("expected error on truncated frame")
	}
}
