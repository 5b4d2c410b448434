package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitterGluedStringsAcrossArbitraryChunks(t *testing.T) {
	stream := []byte(`{"jsonrpc":"2.0","id":1,"result":{"text":"hello}{world"}}{"jsonrpc":"2.0","id":2,"method":"notifications/test","params":{"ok":true}}`)

	sizes := []int{7, 16, len(stream) - 23}
	sp := newSplitter()
	var got [][]byte
	offset := 0
	for _, size := range sizes {
		got = append(got, sp.feed(stream[offset:offset+size])...)
		offset += size
	}
	require.Equal(t, offset, len(stream))

	require.Len(t, got, 2)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"text":"hello}{world"}}`, string(got[0]))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":2,"method":"notifications/test","params":{"ok":true}}`, string(got[1]))
}

func TestSplitterIgnoresWhitespaceBetweenObjects(t *testing.T) {
	sp := newSplitter()
	got := sp.feed([]byte("  {\"a\":1}  \n\t {\"b\":2}"))
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"a":1}`, string(got[0]))
	assert.JSONEq(t, `{"b":2}`, string(got[1]))
}

func TestSplitterByteByByteChunking(t *testing.T) {
	stream := []byte(`{"id":1,"nested":{"x":[1,2,3]}}{"id":2}`)
	sp := newSplitter()
	var got [][]byte
	for _, b := range stream {
		got = append(got, sp.feed([]byte{b})...)
	}
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"id":1,"nested":{"x":[1,2,3]}}`, string(got[0]))
	assert.JSONEq(t, `{"id":2}`, string(got[1]))
}

func TestSplitterEscapedQuotesDoNotEndString(t *testing.T) {
	stream := []byte(`{"id":1,"msg":"she said \"}{\" to me"}`)
	sp := newSplitter()
	got := sp.feed(stream)
	require.Len(t, got, 1)
	assert.JSONEq(t, string(stream), string(got[0]))
}

func TestSplitterHandlesLargePayload(t *testing.T) {
	big := make([]byte, 0, 80*1024)
	big = append(big, []byte(`{"id":1,"blob":"`)...)
	for i := 0; i < 70*1024; i++ {
		big = append(big, 'x')
	}
	big = append(big, []byte(`"}`)...)

	sp := newSplitter()
	var got [][]byte
	for i := 0; i < len(big); i += 4096 {
		end := i + 4096
		if end > len(big) {
			end = len(big)
		}
		got = append(got, sp.feed(big[i:end])...)
	}
	require.Len(t, got, 1)
	assert.Equal(t, len(big), len(got[0]))
}
