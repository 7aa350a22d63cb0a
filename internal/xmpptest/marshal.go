// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpptest

import (
	"errors"
	"reflect"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"mellium.im/unison/element"
)

// Codec converts values of type T to and from elements.
type Codec[T any] struct {
	Encode func(T) element.Element
	Decode func(element.Element, logrus.FieldLogger) (T, error)
}

// EncodingTestCase is a test that encodes Value and checks that the result
// matches XML, then decodes XML and checks that the result matches Value with
// reflect.DeepEqual.
// Decoding must log exactly Warnings warnings.
// If NoEncode or NoDecode is set then the corresponding part of the test is not
// run (for stanzas whose wire form is not canonical).
type EncodingTestCase[T any] struct {
	Value    T
	XML      string
	Err      error
	Warnings int
	NoEncode bool
	NoDecode bool
}

// RunEncodingTests iterates over the test cases and runs each one using codec.
func RunEncodingTests[T any](t *testing.T, codec Codec[T], testCases []EncodingTestCase[T]) {
	for i, tc := range testCases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			if !tc.NoEncode {
				t.Run("encode", func(t *testing.T) {
					if out := codec.Encode(tc.Value).String(); out != tc.XML {
						t.Fatalf("wrong output:\nwant=%s,\n got=%s", tc.XML, out)
					}
				})
			}
			if !tc.NoDecode {
				t.Run("decode", func(t *testing.T) {
					el, err := element.Parse(tc.XML)
					if err != nil {
						t.Fatalf("error parsing: %v", err)
					}
					logger, hook := test.NewNullLogger()
					v, err := codec.Decode(el, logger)
					if !errors.Is(err, tc.Err) {
						t.Fatalf("unexpected error: want=%v, got=%v", tc.Err, err)
					}
					if err != nil {
						return
					}
					var warnings int
					for _, e := range hook.AllEntries() {
						if e.Level == logrus.WarnLevel {
							warnings++
						}
					}
					if warnings != tc.Warnings {
						t.Errorf("wrong number of warnings: want=%d, got=%d", tc.Warnings, warnings)
					}
					if !reflect.DeepEqual(v, tc.Value) {
						t.Fatalf("unexpected value:\nwant=%+v,\n got=%+v", tc.Value, v)
					}
				})
			}
		})
	}
}
