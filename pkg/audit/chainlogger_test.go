package audit

import (
	"testing"
)

func TestChainLogger(t *testing.T) {
	logger := NewChainLogger()

	e1 := logger.Append("watershed credit user=u1 amount=10.00")
	e2 := logger.Append("loan fund loan=l1 funder=u2 shares=3")
	e3 := logger.Append("settlement clear batch=b1 accrued=12.00")

	chain := []*LogEntry{e1, e2, e3}
	if !VerifyChain(chain) {
		t.Error("VerifyChain failed for valid chain")
	}

	// Tamper with e2 payload
	originalPayload := e2.Payload
	e2.Payload = "loan fund loan=l1 funder=u2 shares=300"
	if VerifyChain(chain) {
		t.Error("VerifyChain succeeded for tampered payload")
	}

	// Restore payload, tamper with hash
	e2.Payload = originalPayload
	originalHash := e2.Hash
	e2.Hash = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	if VerifyChain(chain) {
		t.Error("VerifyChain succeeded for tampered hash")
	}

	// Restore hash, tamper with e3 previous hash
	e2.Hash = originalHash
	e3.PreviousHash = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	if VerifyChain(chain) {
		t.Error("VerifyChain succeeded for broken link")
	}
}

func TestChainLoggerResume(t *testing.T) {
	first := NewChainLogger()
	e1 := first.Append("entry one")
	e2 := first.Append("entry two")

	resumed := NewChainLoggerAt(e2.Hash)
	e3 := resumed.Append("entry three")

	if !VerifyChain([]*LogEntry{e1, e2, e3}) {
		t.Error("resumed chain did not verify")
	}
}
