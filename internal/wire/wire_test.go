package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		body []byte
	}{
		{
			name: "empty body",
			body: []byte{},
		},
		{
			name: "small body",
			body: []byte("hello"),
		},
		{
			name: "binary body",
			body: bytes.Repeat([]byte{0x00, 0xff}, 1024),
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteFrame(&buf, c.body))

			got, err := ReadFrame(&buf, 1<<20)
			require.NoError(t, err)
			assert.Equal(t, c.body, got)
		})
	}
}

func TestReadFrameTruncated(t *testing.T) {
	full := new(bytes.Buffer)
	require.NoError(t, WriteFrame(full, []byte("a complete frame body")))

	cases := []struct {
		name string
		in   []byte
	}{
		{
			name: "no bytes at all",
			in:   nil,
		},
		{
			name: "partial length prefix",
			in:   full.Bytes()[:2],
		},
		{
			name: "partial body",
			in:   full.Bytes()[:len(full.Bytes())-5],
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(c.in), 1<<20)
			assert.ErrorIs(t, err, ErrTruncated)
		})
	}
}

func TestReadFrameOversized(t *testing.T) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 1<<30)

	_, err := ReadFrame(bytes.NewReader(prefix[:]), 1<<20)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRequestRoundTrip(t *testing.T) {
	type payload struct {
		Message string `cbor:"message"`
		Count   int    `cbor:"count"`
	}
	want := payload{Message: "ping", Count: 42}

	body, err := EncodeRequest("echo_v1", &want)
	require.NoError(t, err)

	route, raw, err := DecodeRequest(body)
	require.NoError(t, err)
	assert.Equal(t, "echo_v1", route)

	var got payload
	require.NoError(t, Unmarshal(raw, &got))
	assert.Equal(t, want, got)
}

func TestDecodeRequestMalformed(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
	}{
		{
			name: "empty body",
			in:   nil,
		},
		{
			name: "not an envelope",
			in:   []byte("certainly not CBOR"),
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, _, err := DecodeRequest(c.in)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestUnmarshalTypeMismatch(t *testing.T) {
	type sent struct {
		Message string `cbor:"message"`
	}
	type expected struct {
		Healthy bool `cbor:"healthy"`
	}

	raw, err := Marshal(&sent{Message: "surprise"})
	require.NoError(t, err)

	var got expected
	assert.ErrorIs(t, Unmarshal(raw, &got), ErrTypeMismatch)
}

func TestReplyRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		reply Reply
	}{
		{
			name:  "success",
			reply: Reply{Payload: []byte{0x01, 0x02}},
		},
		{
			name:  "handler failure",
			reply: Reply{Error: "the enclave said no"},
		},
		{
			name:  "protocol failure",
			reply: Reply{Error: "no such route", Code: CodeUnknownRoute},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			body, err := EncodeReply(&c.reply)
			require.NoError(t, err)

			got, err := DecodeReply(body)
			require.NoError(t, err)
			assert.Equal(t, c.reply, *got)
		})
	}
}
