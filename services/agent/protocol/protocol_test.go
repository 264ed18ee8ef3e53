// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_SingleTerminatedLine(t *testing.T) {
	payload := map[string]any{
		"before": "def f():\n    return 1\n",
		"after":  "<tag> & \"quotes\"",
	}

	line, err := Encode("", payload)
	require.NoError(t, err)

	assert.Equal(t, 1, bytes.Count(line, []byte("\n")))
	assert.True(t, bytes.HasSuffix(line, []byte("\n")))
	assert.Contains(t, string(line), `"version":"2.0.2"`)
	assert.Contains(t, string(line), "<tag> & ")
}

func TestEncode_RawMessageIsCompacted(t *testing.T) {
	raw := json.RawMessage("{\n  \"a\": 1,\n  \"b\": [1,\n 2]\n}")

	line, err := Encode("1.0.7", raw)
	require.NoError(t, err)
	assert.Equal(t, "{\"version\":\"1.0.7\",\"request\":{\"a\":1,\"b\":[1,2]}}\n", string(line))
}

func TestEncode_Unserializable(t *testing.T) {
	_, err := Encode("", map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	payloads := []any{
		nil,
		"plain string",
		42.5,
		true,
		[]any{"a", 1.0, nil},
		map[string]any{"nested": map[string]any{"lines": []any{"x\ny", "\t"}}},
		WarmUpRequest(),
	}

	for _, payload := range payloads {
		line, err := Encode(DefaultVersion, payload)
		require.NoError(t, err)

		env, err := DecodeRequest(line)
		require.NoError(t, err)
		assert.Equal(t, DefaultVersion, env.Version)

		want, err := json.Marshal(payload)
		require.NoError(t, err)
		assert.JSONEq(t, string(want), string(env.Request))
	}
}

func TestDecodeRequest_Malformed(t *testing.T) {
	_, err := DecodeRequest([]byte("not json"))
	assert.ErrorIs(t, err, ErrMalformedRequest)

	_, err = DecodeRequest([]byte(`{"version":"1"}`))
	assert.ErrorIs(t, err, ErrMalformedRequest)
}

func TestDecode_Completions(t *testing.T) {
	line := []byte(`{"old_prefix":"pri","results":[{"new_prefix":"print","old_suffix":"","new_suffix":"()","detail":"builtin"}],"user_message":["hi"],"is_locked":false}` + "\n")

	resp, err := Decode(line)
	require.NoError(t, err)

	c, ok := resp.(*Completions)
	require.True(t, ok, "got %T", resp)
	assert.Equal(t, "pri", c.OldPrefix)
	require.Len(t, c.Results, 1)
	assert.Equal(t, "print()", c.Results[0].Text())
	assert.Equal(t, "builtin", c.Results[0].Detail)
	assert.Equal(t, []string{"hi"}, c.UserMessage)
	assert.JSONEq(t, string(bytes.TrimSpace(line)), string(c.Raw()))
}

func TestDecode_FlatCompletionList(t *testing.T) {
	resp, err := Decode([]byte(`{"completions":[{"text":"foo","description":"d","confidence":0.9},{"completion":"bar"}]}`))
	require.NoError(t, err)

	c, ok := resp.(*Completions)
	require.True(t, ok)
	require.Len(t, c.Results, 2)
	assert.Equal(t, "foo", c.Results[0].NewPrefix)
	assert.Equal(t, "d", c.Results[0].Detail)
	assert.InDelta(t, 0.9, c.Results[0].Confidence, 1e-9)
	assert.Equal(t, "bar", c.Results[1].NewPrefix)
}

func TestDecode_Error(t *testing.T) {
	tests := map[string]string{
		`{"error":"boom"}`:                  "boom",
		`{"error":{"message":"bad input"}}`: "bad input",
		`{"error":42}`:                      "42",
	}
	for line, want := range tests {
		t.Run(line, func(t *testing.T) {
			resp, err := Decode([]byte(line))
			require.NoError(t, err)
			e, ok := resp.(*ErrorResponse)
			require.True(t, ok)
			assert.Equal(t, want, e.Message)
		})
	}
}

func TestDecode_Unknown(t *testing.T) {
	for _, line := range []string{`{"hello":"world"}`, `[1,2,3]`, `"text"`, `{"results":"not a list"}`} {
		resp, err := Decode([]byte(line))
		require.NoError(t, err)
		u, ok := resp.(*Unknown)
		require.True(t, ok, "line %s decoded as %T", line, resp)
		assert.Equal(t, line, string(u.Raw()))
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, line := range []string{"", "   \n", "{not json", `{"a":1} {"b":2}`, "partial\"}"} {
		_, err := Decode([]byte(line))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedResponse))
	}
}
