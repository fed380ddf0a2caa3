// Package proto decodes the upstream FeedResponse wire format described
// in §6: a length-delimited protobuf message carrying
// `feeds: map<string, FeedBody>`, where a FeedBody exposes
// `fullFeed.marketFF.ltpc.ltp` or `fullFeed.indexFF.ltpc.ltp`.
//
// This repo ships no .proto/protoc build step, so the schema below is
// hand-maintained against google.golang.org/protobuf's low-level
// encoding/protowire primitives rather than generated code — the same
// primitives a protoc-gen-go output would use under the hood. Field
// numbers mirror the shape Upstox's public market-data-feed protocol
// uses (see the adeludedperson/go-upstox LTPC example this is
// grounded on): FeedResponse.feeds is field 1, Feed.fullFeed is field
// 4, FullFeed.marketFF/indexFF are a oneof on fields 1/2, and LTPC.ltp
// is field 2 (a double).
package proto

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldFeedResponseFeeds = 1

	fieldFeedFullFeed = 4

	fieldFullFeedMarketFF = 1
	fieldFullFeedIndexFF  = 2

	fieldLTPCFeedLTPC = 2 // shared field number on both MarketFullFeed and IndexFullFeed

	fieldLTPCLtp = 2 // double
)

// FeedBody is the decoded per-instrument payload. Only the LTP is
// modeled; OHLC extraction follows the same pattern and is left for a
// future frame version since the spec only requires LTP on the hot
// path.
type FeedBody struct {
	HasMarketLTP bool
	HasIndexLTP  bool
	MarketLTP    float64
	IndexLTP     float64
}

// LTP extracts the last-traded price per §4.2: the market
// sub-structure wins if present, otherwise the index sub-structure.
func (b FeedBody) LTP() (float64, bool) {
	if b.HasMarketLTP {
		return b.MarketLTP, true
	}
	if b.HasIndexLTP {
		return b.IndexLTP, true
	}
	return 0, false
}

// DecodeFeedResponse decodes one inbound binary protobuf frame into a
// map of instrument key to FeedBody. Decode failure of a single frame
// is returned to the caller, which per §4.1 must log and skip it
// without terminating the connection — this function itself never
// partially mutates caller state on error.
func DecodeFeedResponse(frame []byte) (map[string]FeedBody, error) {
	out := make(map[string]FeedBody)

	b := frame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("feed proto: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if num != fieldFeedResponseFeeds || typ != protowire.BytesType {
			skip, err := consumeField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[skip:]
			continue
		}

		entry, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("feed proto: bad map entry: %w", protowire.ParseError(n))
		}
		b = b[n:]

		key, body, err := decodeFeedsEntry(entry)
		if err != nil {
			return nil, err
		}
		out[key] = body
	}

	return out, nil
}

// decodeFeedsEntry decodes one map<string, Feed> entry: field 1 is the
// key, field 2 is the Feed message value.
func decodeFeedsEntry(entry []byte) (string, FeedBody, error) {
	var key string
	var body FeedBody

	b := entry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", FeedBody{}, fmt.Errorf("feed proto: bad map entry tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", FeedBody{}, fmt.Errorf("feed proto: bad map key: %w", protowire.ParseError(n))
			}
			key = v
			b = b[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", FeedBody{}, fmt.Errorf("feed proto: bad map value: %w", protowire.ParseError(n))
			}
			feedBody, err := decodeFeed(v)
			if err != nil {
				return "", FeedBody{}, err
			}
			body = feedBody
			b = b[n:]
		default:
			skip, err := consumeField(b, typ)
			if err != nil {
				return "", FeedBody{}, err
			}
			b = b[skip:]
		}
	}

	return key, body, nil
}

func decodeFeed(msg []byte) (FeedBody, error) {
	b := msg
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return FeedBody{}, fmt.Errorf("feed proto: bad Feed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if num == fieldFeedFullFeed && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return FeedBody{}, fmt.Errorf("feed proto: bad FullFeed: %w", protowire.ParseError(n))
			}
			body, err := decodeFullFeed(v)
			if err != nil {
				return FeedBody{}, err
			}
			b = b[n:]
			return body, nil
		}

		skip, err := consumeField(b, typ)
		if err != nil {
			return FeedBody{}, err
		}
		b = b[skip:]
	}
	return FeedBody{}, nil
}

func decodeFullFeed(msg []byte) (FeedBody, error) {
	var body FeedBody

	b := msg
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return FeedBody{}, fmt.Errorf("feed proto: bad FullFeed field: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldFullFeedMarketFF && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return FeedBody{}, fmt.Errorf("feed proto: bad marketFF: %w", protowire.ParseError(n))
			}
			ltp, ok, err := decodeLTPCHolder(v)
			if err != nil {
				return FeedBody{}, err
			}
			if ok {
				body.HasMarketLTP = true
				body.MarketLTP = ltp
			}
			b = b[n:]
		case num == fieldFullFeedIndexFF && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return FeedBody{}, fmt.Errorf("feed proto: bad indexFF: %w", protowire.ParseError(n))
			}
			ltp, ok, err := decodeLTPCHolder(v)
			if err != nil {
				return FeedBody{}, err
			}
			if ok {
				body.HasIndexLTP = true
				body.IndexLTP = ltp
			}
			b = b[n:]
		default:
			skip, err := consumeField(b, typ)
			if err != nil {
				return FeedBody{}, err
			}
			b = b[skip:]
		}
	}

	return body, nil
}

// decodeLTPCHolder decodes either MarketFullFeed or IndexFullFeed,
// both of which carry an `ltpc` sub-message on the same field number.
func decodeLTPCHolder(msg []byte) (float64, bool, error) {
	b := msg
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, false, fmt.Errorf("feed proto: bad ltpc holder field: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if num == fieldLTPCFeedLTPC && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, false, fmt.Errorf("feed proto: bad ltpc: %w", protowire.ParseError(n))
			}
			ltp, ok, err := decodeLTPC(v)
			if err != nil {
				return 0, false, err
			}
			return ltp, ok, nil
		}

		skip, err := consumeField(b, typ)
		if err != nil {
			return 0, false, err
		}
		b = b[skip:]
	}
	return 0, false, nil
}

func decodeLTPC(msg []byte) (float64, bool, error) {
	b := msg
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, false, fmt.Errorf("feed proto: bad LTPC field: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if num == fieldLTPCLtp && typ == protowire.Fixed64Type {
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return 0, false, fmt.Errorf("feed proto: bad ltp: %w", protowire.ParseError(n))
			}
			return math.Float64frombits(v), true, nil
		}

		skip, err := consumeField(b, typ)
		if err != nil {
			return 0, false, err
		}
		b = b[skip:]
	}
	return 0, false, nil
}

func consumeField(b []byte, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, b)
	if n < 0 {
		return 0, fmt.Errorf("feed proto: bad field value: %w", protowire.ParseError(n))
	}
	return n, nil
}
