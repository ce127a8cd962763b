package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatParseSerial(t *testing.T) {
	for _, n := range []int{1, 42, 99999, SerialMax} {
		s := FormatSerial(n)
		require.Len(t, s, 8)
		got, ok := ParseSerial(s)
		require.True(t, ok, "serial %s", s)
		assert.Equal(t, n, got)
	}
}

func TestParseSerialRejectsMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"1234567",   // too short
		"123456789", // too long
		"12a45678",
		"00000000",  // zero is never assigned
		"01048576",  // SerialMax+1
		"99999999",  // beyond the 20-bit pool
		"-0000001",
	} {
		_, ok := ParseSerial(s)
		assert.False(t, ok, "expected %q to be rejected", s)
	}
}

func TestSerialURL(t *testing.T) {
	assert.Equal(t, "quadi.ca/00000042", SerialURL(42))
}

func TestFormatParseQSAID(t *testing.T) {
	id := FormatQSAID("STAR", 7)
	assert.Equal(t, "STAR00007", id)

	design, seq, ok := ParseQSAID(id)
	require.True(t, ok)
	assert.Equal(t, "STAR", design)
	assert.Equal(t, 7, seq)

	// Longest design code still leaves the trailing five digits as sequence.
	design, seq, ok = ParseQSAID("AB12CD34EF99999")
	require.True(t, ok)
	assert.Equal(t, "AB12CD34EF", design)
	assert.Equal(t, 99999, seq)
}

func TestParseQSAIDRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "00007", "star00007", "STAR0007", "STAR00000"} {
		_, _, ok := ParseQSAID(s)
		assert.False(t, ok, "expected %q to be rejected", s)
	}
}

func TestParseNativeSKU(t *testing.T) {
	design, rev, ok := ParseNativeSKU("STARa-34924")
	require.True(t, ok)
	assert.Equal(t, "STAR", design)
	assert.Equal(t, "a", rev)

	design, rev, ok = ParseNativeSKU("QUAD-00001")
	require.True(t, ok)
	assert.Equal(t, "QUAD", design)
	assert.Empty(t, rev)

	for _, s := range []string{"star-34924", "STAR34924", "STARab-34924", "ST-34924", "STAR-3492"} {
		_, _, ok := ParseNativeSKU(s)
		assert.False(t, ok, "expected %q to be rejected", s)
	}
}

func TestValidators(t *testing.T) {
	assert.True(t, ValidDesign("STAR"))
	assert.True(t, ValidDesign("A1"))
	assert.False(t, ValidDesign("star"))
	assert.False(t, ValidDesign(""))
	assert.False(t, ValidDesign("TOOLONGDESIGN"))

	assert.True(t, ValidRevision(""))
	assert.True(t, ValidRevision("a"))
	assert.False(t, ValidRevision("A"))
	assert.False(t, ValidRevision("ab"))

	assert.True(t, ValidLedCode("A1b"))
	assert.False(t, ValidLedCode("A1"))
	assert.False(t, ValidLedCode("A1b2"))
	assert.False(t, ValidLedCode("A-b"))
}

func TestLedCodeElements(t *testing.T) {
	assert.Equal(t, "led_code_3", LedCodeElement(3))
	assert.Equal(t, 3, LedCodeIndex("led_code_3"))
	assert.Equal(t, 9, LedCodeIndex("led_code_9"))
	assert.Zero(t, LedCodeIndex("led_code_0"))
	assert.Zero(t, LedCodeIndex("led_code_10"))
	assert.Zero(t, LedCodeIndex("module_id"))

	assert.True(t, ValidElementType("micro_id"))
	assert.True(t, ValidElementType("qr_code"))
	assert.True(t, ValidElementType("led_code_1"))
	assert.False(t, ValidElementType("barcode"))
}

func TestFaultCodes(t *testing.T) {
	err := Faultf(CodeInvalidSerial, "serial %q", "x")
	assert.True(t, IsCode(err, CodeInvalidSerial))
	assert.False(t, IsCode(err, CodeNotFound))
	assert.False(t, err.Retryable)

	retry := Retryablef(CodeConnectionFailed, "no reply")
	assert.True(t, retry.Retryable)

	wrapped := WrapFault(CodeInsertFailed, "inserting", err)
	assert.True(t, IsCode(wrapped, CodeInsertFailed))
	assert.ErrorIs(t, wrapped, err)
	assert.Equal(t, CodeInsertFailed, AsFault(wrapped).Code)

	// Raw errors get coerced to a coded fault.
	assert.Equal(t, CodeTransactionFailed, AsFault(assert.AnError).Code)
}
