// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
)

type journalLike struct {
	JobID   string `cbor:"1,keyasint"`
	Version string `cbor:"2,keyasint,omitempty"`
	Attempt int    `cbor:"3,keyasint"`
}

func TestMarshalDeterministic(t *testing.T) {
	first, err := Marshal(map[string]int{"zeta": 1, "alpha": 2, "mid": 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 10 {
		again, err := Marshal(map[string]int{"mid": 3, "alpha": 2, "zeta": 1})
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding differs between runs: %x vs %x", first, again)
		}
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	data, err := Marshal(map[int]any{1: "job-1", 3: 2, 9: "from a newer binary"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded journalLike
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.JobID != "job-1" || decoded.Attempt != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestUnmarshalAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"kind": "Files"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := decoded.(map[string]any); !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var decoded journalLike
	if err := Unmarshal([]byte{0xff, 0x00, 0x13}, &decoded); err == nil {
		t.Fatal("Unmarshal of invalid CBOR succeeded")
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(journalLike{JobID: "j", Attempt: 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	text, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(text, `"j"`) {
		t.Errorf("Diagnose = %q", text)
	}
}
