package chain

import (
	"testing"

	"github.com/certen/logchain/pkg/accessproof"
	"github.com/certen/logchain/pkg/bbs"
	"github.com/certen/logchain/pkg/identity"
)

func TestGroupEntrySealValidateRoundTrip(t *testing.T) {
	mgr, err := bbs.Setup()
	if err != nil {
		t.Fatalf("bbs setup: %v", err)
	}
	cred, err := mgr.Issue()
	if err != nil {
		t.Fatalf("issue credential: %v", err)
	}

	sender, err := identity.GenerateKey()
	if err != nil {
		t.Fatalf("generate sender key: %v", err)
	}

	groupKey := make([]byte, 32)
	groupID := []byte("group1")
	epochKey, err := accessproof.DeriveEpochAccessKey(groupKey, groupID, 0)
	if err != nil {
		t.Fatalf("derive epoch key: %v", err)
	}

	content := "hello group"
	senderSig, err := sender.Sign([]byte(content))
	if err != nil {
		t.Fatalf("sender sign: %v", err)
	}

	payload := &DecryptedGroupPayload{
		Content:         content,
		SenderAddress:   sender.Address(),
		SenderSignature: senderSig,
		Epoch:           0,
		Timestamp:       1700000000000,
	}

	wire, err := SealGroupPayload(0, GenesisHash, payload, groupKey, mgr.PublicKey, cred, epochKey)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	decrypted, err := ValidateGroupEntry(wire, nil, mgr.PublicKey, groupKey, epochKey)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if decrypted.Content != content {
		t.Fatalf("content mismatch: got %q want %q", decrypted.Content, content)
	}
}

func TestGroupEntryRejectsWrongGroupKey(t *testing.T) {
	mgr, _ := bbs.Setup()
	cred, err := mgr.Issue()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sender, _ := identity.GenerateKey()

	groupKey := make([]byte, 32)
	groupID := []byte("group1")
	epochKey, err := accessproof.DeriveEpochAccessKey(groupKey, groupID, 0)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	content := "hello group"
	senderSig, _ := sender.Sign([]byte(content))
	payload := &DecryptedGroupPayload{
		Content:         content,
		SenderAddress:   sender.Address(),
		SenderSignature: senderSig,
		Epoch:           0,
		Timestamp:       1700000000000,
	}

	wire, err := SealGroupPayload(0, GenesisHash, payload, groupKey, mgr.PublicKey, cred, epochKey)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	wrongKey := make([]byte, 32)
	wrongKey[0] = 0x01
	if _, err := ValidateGroupEntry(wire, nil, mgr.PublicKey, wrongKey, epochKey); err == nil {
		t.Fatalf("expected validation to fail with wrong group key")
	}
}
